package camera

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// availabilityTracker は特定カメラの空き状態通知を受動的に観測する
// デバイスが利用可能になり、かつステートマシンが PENDING_OPEN のとき
// オープンシーケンスを起動する。PENDING_OPEN 中の利用不可通知は
// フラグ更新のみで他に何もしない（本番ポリシーは優先度横取りを
// 意図的に行わない）
type availabilityTracker struct {
	controller *Controller
}

// OnAvailable は利用可能通知をエグゼキュータへ転送する
func (t *availabilityTracker) OnAvailable(_ string) {
	t.controller.submitEvent(evAvailable{})
}

// OnUnavailable は利用不可通知をエグゼキュータへ転送する
func (t *availabilityTracker) OnUnavailable(_ string) {
	t.controller.submitEvent(evUnavailable{})
}

// PollingAvailabilityNotifier はデバイスの空き状態を定期的に確認し、
// 変化があったときだけリスナーへ通知する AvailabilityNotifier 実装
type PollingAvailabilityNotifier struct {
	discovery Discovery
	interval  time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	listeners map[string]AvailabilityListener
	lastState map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPollingAvailabilityNotifier は新しい PollingAvailabilityNotifier を作成する
func NewPollingAvailabilityNotifier(logger *zap.Logger, discovery Discovery, interval time.Duration) *PollingAvailabilityNotifier {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollingAvailabilityNotifier{
		discovery: discovery,
		interval:  interval,
		logger:    logger,
		listeners: make(map[string]AvailabilityListener),
		lastState: make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
}

// Start は監視ゴルーチンを開始する
func (n *PollingAvailabilityNotifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go n.poll(ctx)
}

// Stop は監視ゴルーチンを停止する
func (n *PollingAvailabilityNotifier) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

// Register は指定デバイスのリスナーを登録する
func (n *PollingAvailabilityNotifier) Register(device string, listener AvailabilityListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners[device] = listener
}

// Unregister は指定デバイスのリスナーを解除する
func (n *PollingAvailabilityNotifier) Unregister(device string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, device)
	delete(n.lastState, device)
}

// poll は定期的に空き状態を確認する
func (n *PollingAvailabilityNotifier) poll(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.checkOnce(ctx)
		}
	}
}

// checkOnce は登録済みデバイスの空き状態を1回確認し、変化を配信する
func (n *PollingAvailabilityNotifier) checkOnce(ctx context.Context) {
	n.mu.Lock()
	devices := make([]string, 0, len(n.listeners))
	for device := range n.listeners {
		devices = append(devices, device)
	}
	n.mu.Unlock()

	for _, device := range devices {
		available := n.discovery.IsDeviceAvailable(ctx, device)

		n.mu.Lock()
		prev, seen := n.lastState[device]
		n.lastState[device] = available
		listener := n.listeners[device]
		n.mu.Unlock()

		if listener == nil || (seen && prev == available) {
			continue
		}

		n.logger.Debug("デバイスの空き状態が変化しました",
			zap.String("device", device),
			zap.Bool("available", available))

		if available {
			listener.OnAvailable(device)
		} else {
			listener.OnUnavailable(device)
		}
	}
}

// MockAvailabilityNotifier はテスト用のモック AvailabilityNotifier 実装
// テストコードから任意のタイミングで通知を発火できる
type MockAvailabilityNotifier struct {
	mu        sync.Mutex
	listeners map[string]AvailabilityListener
}

// NewMockAvailabilityNotifier は新しい MockAvailabilityNotifier を作成する
func NewMockAvailabilityNotifier() *MockAvailabilityNotifier {
	return &MockAvailabilityNotifier{
		listeners: make(map[string]AvailabilityListener),
	}
}

// Register は指定デバイスのリスナーを登録する
func (m *MockAvailabilityNotifier) Register(device string, listener AvailabilityListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[device] = listener
}

// Unregister は指定デバイスのリスナーを解除する
func (m *MockAvailabilityNotifier) Unregister(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, device)
}

// Registered は指定デバイスのリスナーが登録されているか返す
func (m *MockAvailabilityNotifier) Registered(device string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.listeners[device]
	return ok
}

// FireAvailable はテスト用に利用可能通知を発火する
func (m *MockAvailabilityNotifier) FireAvailable(device string) {
	m.mu.Lock()
	listener := m.listeners[device]
	m.mu.Unlock()

	if listener != nil {
		listener.OnAvailable(device)
	}
}

// FireUnavailable はテスト用に利用不可通知を発火する
func (m *MockAvailabilityNotifier) FireUnavailable(device string) {
	m.mu.Lock()
	listener := m.listeners[device]
	m.mu.Unlock()

	if listener != nil {
		listener.OnUnavailable(device)
	}
}
