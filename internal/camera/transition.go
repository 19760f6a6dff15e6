package camera

// このファイルはデバイスステートマシンの遷移ロジックを純粋関数として定義する。
// 遷移関数は (machine, event) を受け取り、次の machine と実行すべき副作用の
// 一覧を返すだけで、ハードウェア呼び出しは一切行わない。
// 実際のI/Oは Controller 側のエフェクト解釈器が担う。

// event は遷移関数への入力イベント
type event interface {
	isEvent()
}

// evOpen はオープン要求。reopen はスケジュール済み再オープン起因かどうか
type evOpen struct{ reopen bool }

// evClose はクローズ要求
type evClose struct{}

// evRelease は解放要求
type evRelease struct{}

// evOpened はハードウェアのオープン完了コールバック
type evOpened struct{ handle DeviceHandle }

// evClosed はハードウェアのクローズ完了コールバック
type evClosed struct{}

// evDisconnected はハードウェアの切断コールバック
type evDisconnected struct{}

// evError はハードウェアのエラーコールバック
type evError struct{ code ErrorCode }

// evAvailable はデバイスが利用可能になった通知
type evAvailable struct{}

// evUnavailable はデバイスが利用不可になった通知
type evUnavailable struct{}

// evGiveUp は再オープン予算超過の内部イベント
type evGiveUp struct{}

func (evOpen) isEvent()         {}
func (evClose) isEvent()        {}
func (evRelease) isEvent()      {}
func (evOpened) isEvent()       {}
func (evClosed) isEvent()       {}
func (evDisconnected) isEvent() {}
func (evError) isEvent()        {}
func (evAvailable) isEvent()    {}
func (evUnavailable) isEvent()  {}
func (evGiveUp) isEvent()       {}

// effect は遷移が要求する副作用の宣言
type effect interface {
	isEffect()
}

// fxOpenDevice はハードウェアへのオープン要求発行
type fxOpenDevice struct{ reopen bool }

// fxCloseDevice は保持中ハンドルへのクローズ要求発行
type fxCloseDevice struct{}

// fxCreateSession はキャプチャセッションの生成・オープン
type fxCreateSession struct{}

// fxReleaseSession はキャプチャセッションの解放
type fxReleaseSession struct{ force bool }

// fxScheduleReopen は再オープンの予約（予算判定を含む）
type fxScheduleReopen struct{}

// fxCancelReopen は予約済み再オープンの取り消し
type fxCancelReopen struct{}

// fxResetMonitor は再オープンモニターのリセット
type fxResetMonitor struct{}

// fxNotifyError はエラーリスナーへの通知
type fxNotifyError struct{ err *CameraError }

// fxFinalizeRelease は解放の最終処理（リスナー解除など）
type fxFinalizeRelease struct{}

func (fxOpenDevice) isEffect()      {}
func (fxCloseDevice) isEffect()     {}
func (fxCreateSession) isEffect()   {}
func (fxReleaseSession) isEffect()  {}
func (fxScheduleReopen) isEffect()  {}
func (fxCancelReopen) isEffect()    {}
func (fxResetMonitor) isEffect()    {}
func (fxNotifyError) isEffect()     {}
func (fxFinalizeRelease) isEffect() {}

// machine はステートマシンの値。エグゼキュータのゴルーチン上でのみ変更される
//
// 不変条件: handle が非nilになるのは OPENING（コールバック後）、OPENED、
// CLOSING、REOPENING（コールバック後）のみ
type machine struct {
	state        InternalState
	handle       DeviceHandle
	lastError    ErrorCode // 最後に観測したエラー。上書きされるまで保持する
	available    bool      // 空き通知の追跡結果
	openInFlight bool      // オープン要求発行済み・コールバック未着
}

// newMachine は初期状態のマシン値を返す
// 空き状態は楽観的にtrueから始める（外れていればオープン失敗が
// 再オープン経路で処理される）
func newMachine() machine {
	return machine{
		state:     StateInitialized,
		available: true,
	}
}

// transition は1イベント分の状態遷移を計算する純粋関数
func transition(m machine, ev event) (machine, []effect) {
	switch ev := ev.(type) {
	case evOpen:
		return transitionOpen(m, ev.reopen)
	case evClose:
		return transitionClose(m)
	case evRelease:
		return transitionRelease(m)
	case evOpened:
		return transitionOpened(m, ev.handle)
	case evClosed:
		return transitionClosed(m)
	case evError:
		return transitionDeviceError(m, ev.code)
	case evDisconnected:
		// 切断は使用中エラーと同一に扱う（再オープン対象）
		return transitionDeviceError(m, ErrCodeDisconnected)
	case evAvailable:
		return transitionAvailable(m)
	case evUnavailable:
		// PENDING_OPEN中の利用不可通知は意図的に何もしない（フラグ更新のみ）
		m.available = false
		return m, nil
	case evGiveUp:
		return transitionGiveUp(m)
	default:
		return m, nil
	}
}

// transitionOpen は open() 要求を処理する
// INITIALIZED からと CLOSING 中（クローズ完了後の再オープン要求となる）で
// 冪等に動作する。スケジュール起因でないオープンはモニターをリセットし、
// 予約済み再オープンを取り消す
func transitionOpen(m machine, reopen bool) (machine, []effect) {
	if reopen {
		// スケジュール済み再オープンの発火。REOPENING以外では手遅れ
		if m.state == StateReopening && !m.openInFlight && m.handle == nil {
			m.openInFlight = true
			return m, []effect{fxOpenDevice{reopen: true}}
		}
		return m, nil
	}

	switch m.state {
	case StateInitialized:
		if !m.available {
			m.state = StatePendingOpen
			return m, []effect{fxCancelReopen{}, fxResetMonitor{}}
		}
		m.state = StateOpening
		m.openInFlight = true
		return m, []effect{fxCancelReopen{}, fxResetMonitor{}, fxOpenDevice{}}

	case StateClosing:
		// クローズ完了を待ってから再オープンする
		// オープンとクローズのハードウェア呼び出しは決して重ねない
		m.state = StateReopening
		m.lastError = ErrCodeNone
		return m, []effect{fxResetMonitor{}}

	case StateReopening:
		if m.openInFlight || m.handle != nil {
			// クローズまたはオープンが進行中。完了時の処理に任せる
			return m, []effect{fxResetMonitor{}}
		}
		// 予約待ちだった場合は即座にオープンへ切り替える
		m.state = StateOpening
		m.openInFlight = true
		return m, []effect{fxCancelReopen{}, fxResetMonitor{}, fxOpenDevice{}}

	default:
		// PENDING_OPEN/OPENING/OPENED では冪等、解放後は無視
		return m, nil
	}
}

// transitionClose は close() 要求を処理する
func transitionClose(m machine) (machine, []effect) {
	switch m.state {
	case StateOpened:
		m.state = StateClosing
		return m, []effect{fxCancelReopen{}, fxReleaseSession{}, fxCloseDevice{}}

	case StateOpening:
		// オープン要求が飛行中。opened コールバック到着時に即クローズする
		m.state = StateClosing
		return m, []effect{fxCancelReopen{}}

	case StateReopening:
		if m.openInFlight || m.handle != nil {
			m.state = StateClosing
			return m, []effect{fxCancelReopen{}}
		}
		// 予約待ちのみ。ハードウェア呼び出しは不要
		m.state = StateInitialized
		return m, []effect{fxCancelReopen{}, fxResetMonitor{}}

	case StatePendingOpen:
		m.state = StateInitialized
		return m, nil

	default:
		// INITIALIZED/CLOSING/RELEASING/RELEASED では何もしない
		return m, nil
	}
}

// transitionRelease は release() 要求を処理する。終端かつ冪等
func transitionRelease(m machine) (machine, []effect) {
	switch m.state {
	case StateReleasing, StateReleased:
		// 2回目以降はハードウェアに対して何もしない
		return m, nil

	case StateOpened:
		m.state = StateReleasing
		return m, []effect{fxCancelReopen{}, fxReleaseSession{force: true}, fxCloseDevice{}}

	case StateOpening, StateClosing:
		// コールバック待ち。到着時に RELEASING として処理される
		m.state = StateReleasing
		return m, []effect{fxCancelReopen{}}

	case StateReopening:
		if m.openInFlight || m.handle != nil {
			m.state = StateReleasing
			return m, []effect{fxCancelReopen{}}
		}
		m.state = StateReleased
		return m, []effect{fxCancelReopen{}, fxFinalizeRelease{}}

	default:
		// INITIALIZED/PENDING_OPEN からは即終端
		m.state = StateReleased
		return m, []effect{fxCancelReopen{}, fxFinalizeRelease{}}
	}
}

// transitionOpened はハードウェアのオープン完了コールバックを処理する
func transitionOpened(m machine, handle DeviceHandle) (machine, []effect) {
	m.openInFlight = false
	m.handle = handle

	switch m.state {
	case StateOpening, StateReopening:
		m.state = StateOpened
		m.lastError = ErrCodeNone
		return m, []effect{fxCreateSession{}}

	case StateClosing, StateReleasing:
		// オープン中にクローズ/解放が要求されていた競合ケース。
		// デバイスを使わずに即クローズし、ハンドルのリークを防ぐ
		return m, []effect{fxCloseDevice{}}

	default:
		// 迷子のコールバック。保持しても使い道がないのでクローズする
		return m, []effect{fxCloseDevice{}}
	}
}

// transitionClosed はハードウェアのクローズ完了コールバックを処理する
func transitionClosed(m machine) (machine, []effect) {
	m.handle = nil
	m.openInFlight = false

	switch m.state {
	case StateClosing:
		m.state = StateInitialized
		return m, nil

	case StateReopening:
		if m.lastError != ErrCodeNone {
			// エラー起因のクローズ完了。再試行するか断念するか判定する
			return m, []effect{fxScheduleReopen{}}
		}
		// クローズ中に要求されたオープンを開始する
		m.state = StateOpening
		m.openInFlight = true
		return m, []effect{fxOpenDevice{}}

	case StateReleasing:
		m.state = StateReleased
		return m, []effect{fxFinalizeRelease{}}

	default:
		return m, nil
	}
}

// transitionDeviceError はハードウェアのエラーコールバックを処理する
// エラー発生時点でデバイスが閉じたとは仮定せず、記録したうえで
// 状態に応じた回復判断を行う
func transitionDeviceError(m machine, code ErrorCode) (machine, []effect) {
	switch m.state {
	case StateOpening, StateOpened, StateReopening:
		wasOpened := m.state == StateOpened
		m.lastError = code
		m.openInFlight = false

		switch Classify(code) {
		case ClassRecoverableReopen, ClassDisconnectReopen:
			m.state = StateReopening
			var fx []effect
			if wasOpened {
				fx = append(fx, fxReleaseSession{force: true})
			}
			if m.handle != nil {
				// クローズ完了後に fxScheduleReopen が発行される
				fx = append(fx, fxCloseDevice{})
			} else {
				// ハンドル取得前のエラー。閉じるものがないので直接予約する
				fx = append(fx, fxScheduleReopen{})
			}
			return m, fx

		default:
			// 明示的に回復可能とされていないコードはこのオープン試行の終端
			fx := []effect{fxNotifyError{err: NewCameraError(code)}}
			if wasOpened {
				fx = append(fx, fxReleaseSession{force: true})
			}
			if m.handle != nil {
				m.state = StateClosing
				fx = append(fx, fxCloseDevice{})
			} else {
				m.state = StateInitialized
			}
			return m, fx
		}

	case StateClosing, StateReleasing:
		// クローズ結果の判断材料として記録のみ行う
		m.lastError = code
		return m, nil

	default:
		// 解放後などの迷子のコールバックは無視する
		return m, nil
	}
}

// transitionAvailable はデバイスの利用可能通知を処理する
func transitionAvailable(m machine) (machine, []effect) {
	m.available = true

	if m.state == StatePendingOpen {
		m.state = StateOpening
		m.openInFlight = true
		return m, []effect{fxResetMonitor{}, fxOpenDevice{}}
	}
	return m, nil
}

// transitionGiveUp は再オープン予算超過を処理する
// デバイスを断念して INITIALIZED へ戻し、最後のハードウェアエラーを
// ラップした合成エラーを一度だけ通知する。以後の手動 open() は妨げない
func transitionGiveUp(m machine) (machine, []effect) {
	if m.state != StateReopening {
		return m, nil
	}

	giveUp := newGiveUpError(m.lastError)
	m.state = StateInitialized
	m.lastError = ErrCodeNone
	return m, []effect{fxNotifyError{err: giveUp}, fxResetMonitor{}}
}
