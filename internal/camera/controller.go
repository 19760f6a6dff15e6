package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Controller はデバイスステートマシンの本体
// デバイスハンドルのライフサイクルを所有し、open/close/error/disconnect
// イベントを処理して遷移を駆動し、セッションの生成・破棄を指示する
//
// 全ての公開メソッドは実処理をシリアライズドエグゼキュータへ投入して
// 即座に戻る（非同期・ノンブロッキングAPI）。ハードウェアコールバックも
// 同じエグゼキュータへ転送されるため、遷移は厳密に順序付けられる
type Controller struct {
	id     string
	name   string
	device string
	logger *zap.Logger

	connector DeviceConnector
	creator   SessionCreator
	notifier  AvailabilityNotifier
	quirks    []CloseQuirk

	executor    *SerialExecutor
	monitor     *ReopenMonitor
	reopenDelay time.Duration

	listeners  *errorListenerRegistry
	observable *StateObservable

	// sessionConfig は外部所有の設定への参照。ポインタの差し替えのみ
	// ここで行い、中身は決して変更しない
	cfgMu            sync.RWMutex
	sessionConfig    *SessionConfig
	configListenerID string

	// 以下はエグゼキュータのゴルーチン上でのみ触る
	m               machine
	session         CaptureSession
	scheduledReopen *ScheduledTask

	releasedOnce sync.Once
	releasedCh   chan struct{}
}

// NewController は物理カメラ識別子ごとに1つの Controller を作成する
// インスタンスはカメラサブシステムのプロセス生存期間を通して生き、
// release() 後の再利用は許されない
func NewController(
	logger *zap.Logger,
	id, name, device string,
	connector DeviceConnector,
	creator SessionCreator,
	notifier AvailabilityNotifier,
	config *SessionConfig,
) *Controller {
	c := &Controller{
		id:            id,
		name:          name,
		device:        device,
		logger:        logger.With(zap.String("camera", id), zap.String("device", device)),
		connector:     connector,
		creator:       creator,
		notifier:      notifier,
		quirks:        DefaultCloseQuirks(),
		executor:      NewSerialExecutor(),
		monitor:       NewReopenMonitor(DefaultReopenWindow),
		reopenDelay:   DefaultReopenDelay,
		listeners:     newErrorListenerRegistry(),
		observable:    NewStateObservable(PublicClosed),
		sessionConfig: config,
		m:             newMachine(),
		releasedCh:    make(chan struct{}),
	}

	if config != nil && config.OnError != nil {
		c.configListenerID = c.listeners.Add(config.OnError)
	}

	if notifier != nil {
		notifier.Register(device, &availabilityTracker{controller: c})
	}

	return c
}

// SetReopenPolicy は再オープンの制限時間と待機時間を設定する
// 起動直後（イベント処理開始前）にのみ呼ぶこと
func (c *Controller) SetReopenPolicy(window, delay time.Duration) {
	c.monitor = NewReopenMonitor(window)
	if delay > 0 {
		c.reopenDelay = delay
	}
}

// SetCloseQuirks は既知のクローズ問題の検出一覧を差し替える
func (c *Controller) SetCloseQuirks(quirks []CloseQuirk) {
	c.quirks = quirks
}

// ID はカメラの一意識別子を返す
func (c *Controller) ID() string {
	return c.id
}

// Device はデバイスパスを返す
func (c *Controller) Device() string {
	return c.device
}

// Open はデバイスのオープンシーケンスを開始する
// INITIALIZED からは冪等。CLOSING 中はクローズ完了後の再オープンとして扱う
func (c *Controller) Open() {
	c.submitEvent(evOpen{})
}

// Close はデバイスのクローズシーケンスを開始する
func (c *Controller) Close() {
	c.submitEvent(evClose{})
}

// Release はコントローラを終端状態へ遷移させる。冪等
// 以後このインスタンスは再利用できない
func (c *Controller) Release() {
	c.submitEvent(evRelease{})
}

// Capture は単発キャプチャを要求し、要求IDを返す
// OPENED 以外の状態ではコールバックの失敗経路で即座に通知される
// （エグゼキュータ境界を越えてパニックやエラーを投げることはない）
func (c *Controller) Capture(callback CaptureCallback) string {
	requestID := uuid.New().String()

	err := c.executor.Submit(func() {
		if c.m.state != StateOpened || c.session == nil {
			callback.OnCaptureFailed(requestID,
				fmt.Errorf("キャプチャできる状態ではありません (state=%s): %w", c.m.state, ErrNotOpened))
			return
		}
		c.session.Capture(requestID, callback)
	})
	if err != nil {
		callback.OnCaptureFailed(requestID, ErrReleased)
	}

	return requestID
}

// UpdateSessionConfig はセッション設定への参照を丸ごと差し替える
// 設定に含まれるエラーリスナーは購読一覧上で付け替えられる。
// OPENED 中はセッションを作り直して新設定を適用する
func (c *Controller) UpdateSessionConfig(config *SessionConfig) {
	_ = c.executor.Submit(func() {
		c.cfgMu.Lock()
		if c.configListenerID != "" {
			c.listeners.Remove(c.configListenerID)
			c.configListenerID = ""
		}
		c.sessionConfig = config
		if config != nil && config.OnError != nil {
			c.configListenerID = c.listeners.Add(config.OnError)
		}
		c.cfgMu.Unlock()

		if c.m.state == StateOpened {
			c.recreateSession()
		}
	})
}

// ResetCaptureSession はデバイスを開いたままセッションを入れ替える
// 古いセッションを先に解放してから新しいセッションを生成する
func (c *Controller) ResetCaptureSession() {
	_ = c.executor.Submit(func() {
		if c.m.state != StateOpened {
			return
		}
		c.recreateSession()
	})
}

// State は現在の公開状態を返す
func (c *Controller) State() PublicState {
	return c.observable.Current()
}

// Observable は公開状態のオブザーバブルを返す
func (c *Controller) Observable() *StateObservable {
	return c.observable
}

// AddErrorListener はエラーリスナーを登録し、削除用ハンドルを返す
func (c *Controller) AddErrorListener(listener ErrorListener) string {
	return c.listeners.Add(listener)
}

// RemoveErrorListener は指定ハンドルのリスナーを解除する
func (c *Controller) RemoveErrorListener(id string) {
	c.listeners.Remove(id)
}

// Frames は現在のセッションのフレームチャンネルを返す
// OPENED 以外ではエラーを返す
func (c *Controller) Frames() (<-chan []byte, error) {
	type result struct {
		ch  <-chan []byte
		err error
	}
	resultCh := make(chan result, 1)

	err := c.executor.Submit(func() {
		if c.m.state != StateOpened || c.session == nil {
			resultCh <- result{err: ErrNotOpened}
			return
		}
		resultCh <- result{ch: c.session.Frames()}
	})
	if err != nil {
		return nil, ErrReleased
	}

	r := <-resultCh
	return r.ch, r.err
}

// Info はカメラの公開情報を返す
func (c *Controller) Info() CameraInfo {
	c.cfgMu.RLock()
	var settings Settings
	if c.sessionConfig != nil {
		settings = c.sessionConfig.Settings
	}
	c.cfgMu.RUnlock()

	return CameraInfo{
		ID:     c.id,
		Name:   c.name,
		Device: c.device,
		State:  c.observable.Current(),
		FPS:    settings.FPS,
		Width:  settings.Width,
		Height: settings.Height,
	}
}

// WaitReleased は解放の完了を待つ
func (c *Controller) WaitReleased(ctx context.Context) error {
	select {
	case <-c.releasedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submitEvent はイベントをエグゼキュータへ投入する
func (c *Controller) submitEvent(ev event) {
	_ = c.executor.Submit(func() {
		c.dispatch(ev)
	})
}

// dispatch は1イベント分の遷移を実行する
// エグゼキュータのゴルーチン上でのみ呼ばれる
func (c *Controller) dispatch(ev event) {
	prev := c.m.state
	next, effects := transition(c.m, ev)
	c.m = next

	if prev != next.state {
		c.logger.Debug("状態遷移",
			zap.String("from", string(prev)),
			zap.String("to", string(next.state)))
	}

	// 公開状態はエグゼキュータのゴルーチン上で即時更新される
	c.observable.Publish(next.state.Public())

	for _, fx := range effects {
		c.apply(fx)
	}
}

// apply は遷移が要求した副作用を実行する
func (c *Controller) apply(fx effect) {
	switch fx := fx.(type) {
	case fxOpenDevice:
		c.applyOpenDevice(fx.reopen)
	case fxCloseDevice:
		c.applyCloseDevice()
	case fxCreateSession:
		c.applyCreateSession()
	case fxReleaseSession:
		c.applyReleaseSession(fx.force)
	case fxScheduleReopen:
		c.applyScheduleReopen()
	case fxCancelReopen:
		if c.scheduledReopen != nil {
			c.scheduledReopen.Cancel()
			c.scheduledReopen = nil
		}
	case fxResetMonitor:
		c.monitor.Reset()
	case fxNotifyError:
		c.logger.Warn("カメラエラーを通知します",
			zap.String("code", fx.err.Code.String()),
			zap.Error(fx.err))
		c.listeners.Notify(fx.err.Code, fx.err.Error())
	case fxFinalizeRelease:
		c.applyFinalizeRelease()
	}
}

// applyOpenDevice はハードウェアへのオープン要求を発行する
func (c *Controller) applyOpenDevice(reopen bool) {
	c.logger.Info("デバイスのオープンを要求します", zap.Bool("reopen", reopen))

	if err := c.connector.Open(context.Background(), c.device, &deviceCallbacks{controller: c}); err != nil {
		// 要求の発行自体に失敗した場合はデバイスエラーとして回復経路へ流す
		c.logger.Warn("オープン要求の発行に失敗しました", zap.Error(err))
		c.dispatch(evError{code: ErrCodeCameraDevice})
	}
}

// applyCloseDevice は保持中ハンドルへのクローズ要求を発行する
func (c *Controller) applyCloseDevice() {
	handle := c.m.handle
	if handle == nil {
		return
	}

	c.logger.Info("デバイスのクローズを要求します")

	if err := c.connector.Close(handle); err != nil {
		if quirk, ok := matchesAnyQuirk(c.quirks, err); ok {
			// 既知問題: クローズがコールバックを呼ばずに失敗として返る。
			// 放置すると永久に待ち続けるため、クローズ完了とみなして
			// 回復可能エラーと同じ再オープン経路へ流す
			c.logger.Warn("既知のクローズ問題を検出しました",
				zap.String("quirk", quirk.Name()),
				zap.Error(err))
			if c.m.lastError == ErrCodeNone {
				c.m.lastError = ErrCodeCameraDevice
			}
			c.dispatch(evClosed{})
			return
		}
		c.logger.Error("クローズ要求の発行に失敗しました", zap.Error(err))
	}
}

// applyCreateSession はキャプチャセッションを生成してオープンする
func (c *Controller) applyCreateSession() {
	c.cfgMu.RLock()
	config := c.sessionConfig
	c.cfgMu.RUnlock()

	session := c.creator.CreateSession(c.m.handle, config)
	if err := session.Open(context.Background()); err != nil {
		c.logger.Warn("セッションのオープンに失敗しました", zap.Error(err))
		session.ForceClose()
		c.dispatch(evError{code: ErrCodeCameraDevice})
		return
	}

	c.session = session
	c.logger.Info("キャプチャセッションを開始しました")
}

// applyReleaseSession はキャプチャセッションを解放する
func (c *Controller) applyReleaseSession(force bool) {
	if c.session == nil {
		return
	}

	if force {
		c.session.ForceClose()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.session.Close(ctx); err != nil {
			c.logger.Warn("セッションのクローズに失敗しました", zap.Error(err))
		}
	}

	c.session = nil
}

// applyScheduleReopen は再オープンを予約する
// 予算を使い切っている場合はデバイスを断念する
func (c *Controller) applyScheduleReopen() {
	if !c.monitor.CanScheduleReopen() {
		c.logger.Warn("再オープンの試行予算を使い切りました")
		c.dispatch(evGiveUp{})
		return
	}

	c.logger.Info("再オープンを予約します", zap.Duration("delay", c.reopenDelay))

	c.scheduledReopen = c.executor.SubmitDelayed(c.reopenDelay, func() {
		c.scheduledReopen = nil
		c.dispatch(evOpen{reopen: true})
	})
}

// recreateSession は古いセッションを解放してから新しいセッションを生成する
func (c *Controller) recreateSession() {
	c.applyReleaseSession(false)
	c.applyCreateSession()
}

// applyFinalizeRelease は解放の最終処理を行う
// リスナーを解除し、購読チャンネルを閉じ、エグゼキュータを停止する
func (c *Controller) applyFinalizeRelease() {
	if c.notifier != nil {
		c.notifier.Unregister(c.device)
	}
	c.listeners.Clear()
	c.observable.Publish(PublicReleased)
	c.observable.Close()

	c.releasedOnce.Do(func() {
		close(c.releasedCh)
	})

	c.logger.Info("カメラを解放しました")

	// エグゼキュータ自身のゴルーチン上にいるため、停止は別ゴルーチンで行う
	go c.executor.Stop()
}

// deviceCallbacks はハードウェアコールバックをエグゼキュータへ転送する
// プラットフォーム側のゴルーチンから呼ばれるため、状態には直接触れない
type deviceCallbacks struct {
	controller *Controller
}

// OnOpened はオープン完了をエグゼキュータへ転送する
func (cb *deviceCallbacks) OnOpened(handle DeviceHandle) {
	cb.controller.submitEvent(evOpened{handle: handle})
}

// OnClosed はクローズ完了をエグゼキュータへ転送する
func (cb *deviceCallbacks) OnClosed() {
	cb.controller.submitEvent(evClosed{})
}

// OnDisconnected は切断通知をエグゼキュータへ転送する
func (cb *deviceCallbacks) OnDisconnected() {
	cb.controller.submitEvent(evDisconnected{})
}

// OnError はエラー通知をエグゼキュータへ転送する
func (cb *deviceCallbacks) OnError(code ErrorCode) {
	cb.controller.submitEvent(evError{code: code})
}
