package camera

import (
	"errors"
	"fmt"
)

// ErrorCode はハードウェアコールバックから観測されるエラーコードを表す
type ErrorCode int

const (
	// ErrCodeNone はエラーなしを表す
	ErrCodeNone ErrorCode = 0
	// ErrCodeCameraInUse は他クライアントがデバイスを使用中であることを表す
	ErrCodeCameraInUse ErrorCode = 1
	// ErrCodeMaxCamerasInUse はシステム全体のオープン上限到達を表す
	ErrCodeMaxCamerasInUse ErrorCode = 2
	// ErrCodeCameraDisabled はポリシーによりデバイスが無効化されていることを表す
	ErrCodeCameraDisabled ErrorCode = 3
	// ErrCodeCameraDevice はデバイス自体の致命的エラーを表す
	ErrCodeCameraDevice ErrorCode = 4
	// ErrCodeCameraService はデバイスサービス側の致命的エラーを表す
	ErrCodeCameraService ErrorCode = 5
	// ErrCodeDisconnected は切断通知に対応する擬似コード
	ErrCodeDisconnected ErrorCode = 6
	// ErrCodeReopenGaveUp は再オープン予算超過時の合成エラーコード
	ErrCodeReopenGaveUp ErrorCode = 100
)

// String はエラーコードの識別名を返す
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNone:
		return "NONE"
	case ErrCodeCameraInUse:
		return "CAMERA_IN_USE"
	case ErrCodeMaxCamerasInUse:
		return "MAX_CAMERAS_IN_USE"
	case ErrCodeCameraDisabled:
		return "CAMERA_DISABLED"
	case ErrCodeCameraDevice:
		return "CAMERA_DEVICE"
	case ErrCodeCameraService:
		return "CAMERA_SERVICE"
	case ErrCodeDisconnected:
		return "CAMERA_DISCONNECTED"
	case ErrCodeReopenGaveUp:
		return "REOPEN_GAVE_UP"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(c))
	}
}

// ErrorClass はエラーコードの分類結果を表す
type ErrorClass int

const (
	// ClassFatalClose は即時クローズ・再オープンなしの致命的エラー
	ClassFatalClose ErrorClass = iota
	// ClassRecoverableReopen は再オープンで回復可能な一時的エラー
	ClassRecoverableReopen
	// ClassDisconnectReopen は切断による再オープン対象エラー
	ClassDisconnectReopen
)

// Classify はエラーコードを回復可能／致命的に分類する
// 使用中・上限到達・デバイスエラーは再オープン対象、切断は使用中エラーと
// 同等に扱う（優先度の高いプロセスに奪われただけで恒久的な故障ではない）
func Classify(code ErrorCode) ErrorClass {
	switch code {
	case ErrCodeCameraInUse, ErrCodeMaxCamerasInUse, ErrCodeCameraDevice:
		return ClassRecoverableReopen
	case ErrCodeDisconnected:
		return ClassDisconnectReopen
	default:
		return ClassFatalClose
	}
}

// CameraError はエラーコードと説明メッセージを保持するエラー型
// 元の数値コードを保持するため、呼び出し側は独自のポリシーを適用できる
type CameraError struct {
	Code    ErrorCode // 観測されたエラーコード
	Message string    // 人間可読の説明（ログと通知の両方に使う）
	Cause   error     // 元となったエラー（nil可）
}

// Error はエラーメッセージを返す
func (e *CameraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap は元となったエラーを返す
func (e *CameraError) Unwrap() error {
	return e.Cause
}

// NewCameraError は指定コードの CameraError を作成する
func NewCameraError(code ErrorCode) *CameraError {
	return &CameraError{
		Code:    code,
		Message: errorMessage(code),
	}
}

// errorMessage はエラーコードから人間可読メッセージを組み立てる
func errorMessage(code ErrorCode) string {
	switch code {
	case ErrCodeCameraInUse:
		return fmt.Sprintf("カメラが他のクライアントに使用されています (code=%d)", int(code))
	case ErrCodeMaxCamerasInUse:
		return fmt.Sprintf("同時オープン可能なカメラ数の上限に達しています (code=%d)", int(code))
	case ErrCodeCameraDisabled:
		return fmt.Sprintf("カメラがポリシーにより無効化されています (code=%d)", int(code))
	case ErrCodeCameraDevice:
		return fmt.Sprintf("カメラデバイスでエラーが発生しました (code=%d)", int(code))
	case ErrCodeCameraService:
		return fmt.Sprintf("カメラサービスでエラーが発生しました (code=%d)", int(code))
	case ErrCodeDisconnected:
		return fmt.Sprintf("カメラが切断されました (code=%d)", int(code))
	case ErrCodeReopenGaveUp:
		return fmt.Sprintf("再オープンの試行予算を使い切りました (code=%d)", int(code))
	default:
		return fmt.Sprintf("不明なカメラエラー (code=%d)", int(code))
	}
}

// newGiveUpError は再オープン予算超過時の合成エラーを作成する
// 最後に観測したハードウェアエラーをラップし、両方のメッセージを保持する
func newGiveUpError(last ErrorCode) *CameraError {
	var cause error
	if last != ErrCodeNone {
		cause = NewCameraError(last)
	}
	return &CameraError{
		Code:    ErrCodeReopenGaveUp,
		Message: errorMessage(ErrCodeReopenGaveUp),
		Cause:   cause,
	}
}

// ErrNotOpened はOPENED以外の状態でキャプチャ要求された場合のエラー
var ErrNotOpened = errors.New("カメラがオープンされていません")

// ErrReleased は解放済みコントローラへの操作エラー
var ErrReleased = errors.New("カメラは既に解放されています")
