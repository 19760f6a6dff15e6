package camera

import (
	"context"
)

// InternalState はデバイスステートマシンの内部状態を表す
type InternalState string

const (
	// StateInitialized は初期状態（デバイス未使用）
	StateInitialized InternalState = "initialized"
	// StatePendingOpen はデバイスの空き待ち状態
	StatePendingOpen InternalState = "pending_open"
	// StateOpening はオープン要求発行済み・コールバック待ち状態
	StateOpening InternalState = "opening"
	// StateOpened はデバイスを保持している状態
	StateOpened InternalState = "opened"
	// StateClosing はクローズ要求発行済み・コールバック待ち状態
	StateClosing InternalState = "closing"
	// StateReopening は再オープンシーケンス進行中の状態
	StateReopening InternalState = "reopening"
	// StateReleasing は解放処理中の状態
	StateReleasing InternalState = "releasing"
	// StateReleased は解放済みの終端状態（再利用不可）
	StateReleased InternalState = "released"
)

// PublicState は外部公開用の粗い状態投影を表す
type PublicState string

const (
	// PublicClosed はデバイスがクローズされている状態
	PublicClosed PublicState = "closed"
	// PublicPendingOpen はデバイスの空き待ち状態
	PublicPendingOpen PublicState = "pending_open"
	// PublicOpening はオープン処理中（再オープンを含む）
	PublicOpening PublicState = "opening"
	// PublicOpen はデバイスがオープンされている状態
	PublicOpen PublicState = "open"
	// PublicClosing はクローズ処理中の状態
	PublicClosing PublicState = "closing"
	// PublicReleasing は解放処理中の状態
	PublicReleasing PublicState = "releasing"
	// PublicReleased は解放済みの状態
	PublicReleased PublicState = "released"
)

// Public は内部状態を外部公開用の状態に投影する
// OPENING と REOPENING はどちらも PublicOpening に投影される
func (s InternalState) Public() PublicState {
	switch s {
	case StateInitialized:
		return PublicClosed
	case StatePendingOpen:
		return PublicPendingOpen
	case StateOpening, StateReopening:
		return PublicOpening
	case StateOpened:
		return PublicOpen
	case StateClosing:
		return PublicClosing
	case StateReleasing:
		return PublicReleasing
	case StateReleased:
		return PublicReleased
	default:
		return PublicClosed
	}
}

// Settings はカメラの設定を表す
type Settings struct {
	FPS    int `mapstructure:"fps"`    // フレームレート
	Width  int `mapstructure:"width"`  // 画像幅
	Height int `mapstructure:"height"` // 画像高さ
}

// SessionConfig はキャプチャセッションの設定を表す
// 呼び出し側が所有し、ステートマシンは参照のみ保持する（コピー・変更はしない）
type SessionConfig struct {
	Settings Settings      // ストリーミング設定
	OnError  ErrorListener // セッション起因のエラー通知先（nil可）
}

// CameraInfo は管理対象カメラの公開情報を表す
type CameraInfo struct {
	ID     string      `json:"id"`     // カメラの一意識別子
	Name   string      `json:"name"`   // カメラの表示名
	Device string      `json:"device"` // デバイスパス（例: /dev/video0）
	State  PublicState `json:"state"`  // 現在の公開状態
	FPS    int         `json:"fps"`    // フレームレート
	Width  int         `json:"width"`  // 画像幅
	Height int         `json:"height"` // 画像高さ
}

// DeviceHandle はオープン済みハードウェアデバイスへの不透明ハンドル
// OPENING（コールバック後）、OPENED、CLOSING、REOPENING（コールバック後）の
// 間のみステートマシンが排他的に所有する
type DeviceHandle interface {
	// Device はデバイスパスを返す
	Device() string
}

// DeviceCallbacks はハードウェアからの非同期通知を受け取るインターフェース
// プラットフォーム側のゴルーチンから呼ばれるため、実装は自身のエグゼキュータへ
// 転送してから状態に触れること
type DeviceCallbacks interface {
	// OnOpened はオープン要求の完了時に呼ばれる
	OnOpened(handle DeviceHandle)
	// OnClosed はクローズ完了時に呼ばれる
	OnClosed()
	// OnDisconnected はより優先度の高いクライアントに奪われた時に呼ばれる
	OnDisconnected()
	// OnError はデバイスエラー発生時に呼ばれる
	OnError(code ErrorCode)
}

// DeviceConnector はハードウェアデバイスへのオープン/クローズ要求を発行する
// 要求は非同期であり、結果は DeviceCallbacks 経由で通知される
type DeviceConnector interface {
	// Open はデバイスのオープン要求を発行する
	// エラーは要求の発行自体が失敗した場合のみ返す
	Open(ctx context.Context, device string, callbacks DeviceCallbacks) error

	// Close はデバイスのクローズ要求を発行する
	Close(handle DeviceHandle) error
}

// AvailabilityListener はデバイス空き状態の変化通知を受け取るインターフェース
type AvailabilityListener interface {
	// OnAvailable はデバイスが利用可能になった時に呼ばれる
	OnAvailable(device string)
	// OnUnavailable はデバイスが利用不可になった時に呼ばれる
	OnUnavailable(device string)
}

// AvailabilityNotifier はデバイス空き状態の通知を配信するインターフェース
type AvailabilityNotifier interface {
	// Register は指定デバイスのリスナーを登録する
	Register(device string, listener AvailabilityListener)
	// Unregister は指定デバイスのリスナーを解除する
	Unregister(device string)
}

// CaptureCallback はキャプチャ要求の結果通知を受け取るインターフェース
type CaptureCallback interface {
	// OnCaptureCompleted はキャプチャ成功時に呼ばれる
	OnCaptureCompleted(requestID string, frame []byte)
	// OnCaptureFailed はキャプチャ失敗時に呼ばれる
	OnCaptureFailed(requestID string, err error)
}

// CaptureSession はオープン済みデバイスに対するキャプチャ要求を担う
// 内部設計はこのパッケージの関心外で、境界インターフェースのみ規定する
type CaptureSession interface {
	// Open はリピーティングストリームを開始する
	Open(ctx context.Context) error

	// Capture は単発キャプチャを発行する（非同期、結果はコールバック経由）
	Capture(requestID string, callback CaptureCallback)

	// Frames はストリームのフレームチャンネルを返す
	Frames() <-chan []byte

	// Close はセッションを正常終了する
	Close(ctx context.Context) error

	// ForceClose はセッションを即時破棄する（エラー経路用）
	ForceClose()
}

// SessionCreator はキャプチャセッションの生成を担うインターフェース
type SessionCreator interface {
	// CreateSession はオープン済みハンドルに対するセッションを生成する
	CreateSession(handle DeviceHandle, config *SessionConfig) CaptureSession
}

// ErrorListener はステートマシンからの終端エラー通知を受け取るインターフェース
type ErrorListener interface {
	// OnCameraError はエラーコードと説明メッセージを受け取る
	OnCameraError(code ErrorCode, message string)
}

// ErrorListenerFunc は関数を ErrorListener として使うためのアダプタ
type ErrorListenerFunc func(code ErrorCode, message string)

// OnCameraError は関数自身を呼び出す
func (f ErrorListenerFunc) OnCameraError(code ErrorCode, message string) {
	f(code, message)
}
