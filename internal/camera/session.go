package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// captureTimeout は単発キャプチャの制限時間
const captureTimeout = 10 * time.Second

// v4l2Session はV4L2デバイスに対する CaptureSession 実装
// オープン済みハンドルの上でリピーティングストリームを動かし、
// 単発キャプチャ要求を処理する
type v4l2Session struct {
	logger   *zap.Logger
	capturer *v4l2Capturer
	onError  ErrorListener

	frameCh chan []byte
	errCh   chan error

	mu     sync.Mutex
	cancel context.CancelFunc
	opened bool

	wg sync.WaitGroup
}

// newV4L2Session は新しい v4l2Session を作成する
func newV4L2Session(logger *zap.Logger, handle DeviceHandle, config *SessionConfig) *v4l2Session {
	var settings Settings
	var onError ErrorListener
	if config != nil {
		settings = config.Settings
		onError = config.OnError
	}

	return &v4l2Session{
		logger:   logger,
		capturer: newV4L2Capturer(handle.Device(), settings),
		onError:  onError,
		frameCh:  make(chan []byte, 8),
		errCh:    make(chan error, 1),
	}
}

// Open はリピーティングストリームを開始する
func (s *v4l2Session) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return fmt.Errorf("セッションは既にオープンされています")
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	if err := s.capturer.Stream(streamCtx, s.frameCh, s.errCh); err != nil {
		cancel()
		return fmt.Errorf("ストリームの開始に失敗: %w", err)
	}

	s.cancel = cancel
	s.opened = true

	// ストリームエラーの監視
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case err := <-s.errCh:
			s.logger.Warn("ストリームでエラーが発生しました", zap.Error(err))
			if s.onError != nil {
				s.onError.OnCameraError(ErrCodeCameraDevice, err.Error())
			}
		case <-streamCtx.Done():
		}
	}()

	return nil
}

// Capture は単発キャプチャを発行する
// 結果はコールバック経由で非同期に通知される
func (s *v4l2Session) Capture(requestID string, callback CaptureCallback) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
		defer cancel()

		frame, err := s.capturer.CaptureJPEG(ctx)
		if err != nil {
			callback.OnCaptureFailed(requestID, err)
			return
		}
		callback.OnCaptureCompleted(requestID, frame)
	}()
}

// Frames はストリームのフレームチャンネルを返す
func (s *v4l2Session) Frames() <-chan []byte {
	return s.frameCh
}

// Close はセッションを正常終了する
func (s *v4l2Session) Close(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("セッションの終了待ちがタイムアウトしました: %w", ctx.Err())
	}
}

// ForceClose はセッションを即時破棄する
func (s *v4l2Session) ForceClose() {
	s.stop()
}

// stop はストリームを停止する
func (s *v4l2Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.opened = false
}

// V4L2SessionCreator は本番用の SessionCreator 実装
type V4L2SessionCreator struct {
	logger *zap.Logger
}

// NewV4L2SessionCreator は新しい V4L2SessionCreator を作成する
func NewV4L2SessionCreator(logger *zap.Logger) *V4L2SessionCreator {
	return &V4L2SessionCreator{logger: logger}
}

// CreateSession はV4L2を使用するセッションを生成する
func (c *V4L2SessionCreator) CreateSession(handle DeviceHandle, config *SessionConfig) CaptureSession {
	return newV4L2Session(c.logger, handle, config)
}

// MockSession はテスト用の CaptureSession 実装
type MockSession struct {
	mu          sync.Mutex
	openCount   int
	closeCount  int
	forceCount  int
	captures    []string
	failCapture bool
	frameCh     chan []byte
}

// Open はオープン回数を記録する
func (s *MockSession) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openCount++
	return nil
}

// Capture はキャプチャ要求を記録して即座に完了させる
func (s *MockSession) Capture(requestID string, callback CaptureCallback) {
	s.mu.Lock()
	s.captures = append(s.captures, requestID)
	fail := s.failCapture
	s.mu.Unlock()

	if fail {
		callback.OnCaptureFailed(requestID, fmt.Errorf("モック: キャプチャに失敗"))
		return
	}
	callback.OnCaptureCompleted(requestID, []byte{0xFF, 0xD8, 0xFF, 0xD9})
}

// Frames はモックのフレームチャンネルを返す
func (s *MockSession) Frames() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameCh == nil {
		s.frameCh = make(chan []byte, 1)
	}
	return s.frameCh
}

// Close はクローズ回数を記録する
func (s *MockSession) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

// ForceClose は強制クローズ回数を記録する
func (s *MockSession) ForceClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceCount++
}

// OpenCount はオープン回数を返す
func (s *MockSession) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCount
}

// CaptureCount はキャプチャ要求の回数を返す
func (s *MockSession) CaptureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captures)
}

// CloseCount はクローズ回数を返す
func (s *MockSession) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// ForceCloseCount は強制クローズ回数を返す
func (s *MockSession) ForceCloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceCount
}

// SetFailCapture はテスト用にキャプチャ失敗を設定する
func (s *MockSession) SetFailCapture(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCapture = fail
}

// MockSessionCreator はテスト用の SessionCreator 実装
// 生成したセッションを記録する
type MockSessionCreator struct {
	mu       sync.Mutex
	sessions []*MockSession
}

// NewMockSessionCreator は新しい MockSessionCreator を作成する
func NewMockSessionCreator() *MockSessionCreator {
	return &MockSessionCreator{}
}

// CreateSession はモックセッションを生成して記録する
func (c *MockSessionCreator) CreateSession(_ DeviceHandle, _ *SessionConfig) CaptureSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	session := &MockSession{}
	c.sessions = append(c.sessions, session)
	return session
}

// CreatedCount は生成したセッション数を返す
func (c *MockSessionCreator) CreatedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// LastSession は最後に生成したセッションを返す
func (c *MockSessionCreator) LastSession() *MockSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) == 0 {
		return nil
	}
	return c.sessions[len(c.sessions)-1]
}
