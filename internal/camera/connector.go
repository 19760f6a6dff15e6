package camera

import (
	"context"
	"fmt"
	"sync"
)

// v4l2Handle はV4L2デバイスへのハンドル実装
type v4l2Handle struct {
	device    string
	callbacks DeviceCallbacks
}

// Device はデバイスパスを返す
func (h *v4l2Handle) Device() string {
	return h.device
}

// V4L2Connector はLinuxのV4L2デバイスに対する DeviceConnector 実装
// V4L2には非同期のオープン/クローズ通知バスがないため、確認処理を
// 別ゴルーチンで行い、結果をコールバック契約に合わせて配送する
type V4L2Connector struct {
	discovery Discovery
}

// NewV4L2Connector は新しい V4L2Connector を作成する
func NewV4L2Connector(discovery Discovery) *V4L2Connector {
	return &V4L2Connector{discovery: discovery}
}

// Open はデバイスのオープン要求を発行する
// 結果はコールバック経由で非同期に通知される
func (c *V4L2Connector) Open(ctx context.Context, device string, callbacks DeviceCallbacks) error {
	go func() {
		if !c.discovery.IsDeviceAvailable(ctx, device) {
			// 他クライアントが保持しているか、デバイスが存在しない
			callbacks.OnError(ErrCodeCameraInUse)
			return
		}
		callbacks.OnOpened(&v4l2Handle{device: device, callbacks: callbacks})
	}()
	return nil
}

// Close はデバイスのクローズ要求を発行する
func (c *V4L2Connector) Close(handle DeviceHandle) error {
	h, ok := handle.(*v4l2Handle)
	if !ok {
		return fmt.Errorf("未知のハンドル型: %T", handle)
	}

	go h.callbacks.OnClosed()
	return nil
}

// MockHandle はテスト用のデバイスハンドル
type MockHandle struct {
	device string
}

// Device はデバイスパスを返す
func (h *MockHandle) Device() string {
	return h.device
}

// MockConnector はテスト用の DeviceConnector 実装
// ハードウェア呼び出しの順序を記録し、コールバックの発火を
// テストコードから制御できる
type MockConnector struct {
	mu        sync.Mutex
	calls     []string
	callbacks DeviceCallbacks
	device    string

	closeErr   error // Close が返すエラー（既知問題の再現用）
	autoClosed bool  // Close 時に自動で OnClosed を発火する
}

// NewMockConnector は新しい MockConnector を作成する
func NewMockConnector() *MockConnector {
	return &MockConnector{}
}

// Open はオープン要求を記録する。コールバックは手動で発火する
func (m *MockConnector) Open(_ context.Context, device string, callbacks DeviceCallbacks) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "open")
	m.callbacks = callbacks
	m.device = device
	return nil
}

// Close はクローズ要求を記録する
func (m *MockConnector) Close(_ DeviceHandle) error {
	m.mu.Lock()
	m.calls = append(m.calls, "close")
	err := m.closeErr
	callbacks := m.callbacks
	auto := m.autoClosed
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if auto && callbacks != nil {
		callbacks.OnClosed()
	}
	return nil
}

// Calls は記録されたハードウェア呼び出しの順序を返す
func (m *MockConnector) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]string, len(m.calls))
	copy(snapshot, m.calls)
	return snapshot
}

// CallCount は指定された呼び出しの回数を返す
func (m *MockConnector) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, call := range m.calls {
		if call == name {
			count++
		}
	}
	return count
}

// SetCloseError はテスト用に Close の戻り値エラーを設定する
func (m *MockConnector) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// SetAutoClosed はテスト用に Close 時の自動 OnClosed 発火を設定する
func (m *MockConnector) SetAutoClosed(auto bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoClosed = auto
}

// FireOpened はテスト用にオープン完了コールバックを発火する
func (m *MockConnector) FireOpened() {
	m.mu.Lock()
	callbacks := m.callbacks
	device := m.device
	m.mu.Unlock()

	if callbacks != nil {
		callbacks.OnOpened(&MockHandle{device: device})
	}
}

// FireClosed はテスト用にクローズ完了コールバックを発火する
func (m *MockConnector) FireClosed() {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if callbacks != nil {
		callbacks.OnClosed()
	}
}

// FireError はテスト用にエラーコールバックを発火する
func (m *MockConnector) FireError(code ErrorCode) {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if callbacks != nil {
		callbacks.OnError(code)
	}
}

// FireDisconnected はテスト用に切断コールバックを発火する
func (m *MockConnector) FireDisconnected() {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if callbacks != nil {
		callbacks.OnDisconnected()
	}
}
