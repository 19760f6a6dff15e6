package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager は複数カメラのコントローラを統合管理する
// 物理カメラ識別子ごとに1つの Controller をリポジトリ初期化時に作成し、
// プロセス生存期間を通して保持する
type Manager struct {
	logger    *zap.Logger
	discovery Discovery
	connector DeviceConnector
	creator   SessionCreator
	notifier  *PollingAvailabilityNotifier

	// デフォルト設定
	defaultSettings Settings
	reopenWindow    time.Duration
	reopenDelay     time.Duration

	mu          sync.RWMutex
	controllers map[string]*Controller

	// 制御用
	stopCh chan struct{}
	wg     sync.WaitGroup

	// 自動検出設定
	autoDiscovery bool
	scanInterval  time.Duration
}

// NewManager は新しい Manager を作成する
func NewManager(logger *zap.Logger, discovery Discovery, connector DeviceConnector, creator SessionCreator, defaultSettings Settings) *Manager {
	return &Manager{
		logger:          logger,
		discovery:       discovery,
		connector:       connector,
		creator:         creator,
		notifier:        NewPollingAvailabilityNotifier(logger, discovery, 2*time.Second),
		defaultSettings: defaultSettings,
		reopenWindow:    DefaultReopenWindow,
		reopenDelay:     DefaultReopenDelay,
		controllers:     make(map[string]*Controller),
		stopCh:          make(chan struct{}),
		autoDiscovery:   true,
		scanInterval:    30 * time.Second,
	}
}

// SetReopenPolicy は新規コントローラに適用する再オープン設定を変更する
func (m *Manager) SetReopenPolicy(window, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reopenWindow = window
	m.reopenDelay = delay
}

// SetAutoDiscovery は自動検出の有効/無効を設定する
func (m *Manager) SetAutoDiscovery(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoDiscovery = enabled
}

// Start はマネージャーを開始する
// 初期スキャンで見つかったデバイスのコントローラを作成し、
// 空き状態の監視と定期スキャンを開始する
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.DiscoverCameras(ctx); err != nil {
		return fmt.Errorf("初期スキャンに失敗: %w", err)
	}

	m.notifier.Start(ctx)

	m.mu.RLock()
	auto := m.autoDiscovery
	m.mu.RUnlock()

	if auto {
		m.wg.Add(1)
		go m.backgroundScan(ctx)
	}

	return nil
}

// Stop はマネージャーを停止し、全コントローラを解放する
func (m *Manager) Stop(ctx context.Context) error {
	close(m.stopCh)
	m.wg.Wait()
	m.notifier.Stop()

	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.controllers = make(map[string]*Controller)
	m.mu.Unlock()

	var stopErrors []error
	for _, c := range controllers {
		c.Release()
		if err := c.WaitReleased(ctx); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("カメラ %s の解放待ちに失敗: %w", c.ID(), err))
		}
	}

	if len(stopErrors) > 0 {
		return fmt.Errorf("一部のカメラ解放に失敗: %v", stopErrors)
	}
	return nil
}

// AddCamera はカメラを動的に追加し、コントローラを作成する
func (m *Manager) AddCamera(ctx context.Context, device string, settings Settings) (*CameraInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.controllers {
		if c.Device() == device {
			return nil, fmt.Errorf("デバイス %s は既に追加されています", device)
		}
	}

	name := m.discovery.DeviceName(ctx, device)
	controller := NewController(
		m.logger,
		uuid.New().String(),
		name,
		device,
		m.connector,
		m.creator,
		m.notifier,
		&SessionConfig{Settings: settings},
	)
	controller.SetReopenPolicy(m.reopenWindow, m.reopenDelay)

	m.controllers[controller.ID()] = controller

	info := controller.Info()
	return &info, nil
}

// RemoveCamera はカメラを解放して管理対象から外す
func (m *Manager) RemoveCamera(ctx context.Context, id string) error {
	m.mu.Lock()
	controller, exists := m.controllers[id]
	if exists {
		delete(m.controllers, id)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("カメラが見つかりません: %s", id)
	}

	controller.Release()
	if err := controller.WaitReleased(ctx); err != nil {
		return fmt.Errorf("カメラ %s の解放待ちに失敗: %w", id, err)
	}
	return nil
}

// Cameras は管理対象カメラの一覧を返す
func (m *Manager) Cameras() []CameraInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]CameraInfo, 0, len(m.controllers))
	for _, c := range m.controllers {
		infos = append(infos, c.Info())
	}
	return infos
}

// Get は指定されたIDのコントローラを取得する
func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, exists := m.controllers[id]
	return c, exists
}

// OpenCamera は指定カメラのオープンシーケンスを開始する
func (m *Manager) OpenCamera(id string) error {
	c, exists := m.Get(id)
	if !exists {
		return fmt.Errorf("カメラが見つかりません: %s", id)
	}
	c.Open()
	return nil
}

// CloseCamera は指定カメラのクローズシーケンスを開始する
func (m *Manager) CloseCamera(id string) error {
	c, exists := m.Get(id)
	if !exists {
		return fmt.Errorf("カメラが見つかりません: %s", id)
	}
	c.Close()
	return nil
}

// ReleaseCamera は指定カメラを終端状態へ遷移させる
func (m *Manager) ReleaseCamera(id string) error {
	c, exists := m.Get(id)
	if !exists {
		return fmt.Errorf("カメラが見つかりません: %s", id)
	}
	c.Release()
	return nil
}

// UpdateCameraSettings は指定カメラのセッション設定を差し替える
func (m *Manager) UpdateCameraSettings(id string, settings Settings) error {
	c, exists := m.Get(id)
	if !exists {
		return fmt.Errorf("カメラが見つかりません: %s", id)
	}
	c.UpdateSessionConfig(&SessionConfig{Settings: settings})
	return nil
}

// DiscoverCameras はシステム内のカメラデバイスを再検出し、
// 新しく見つかったデバイスをデフォルト設定で自動追加する
// 既存のコントローラは削除しない（消えたデバイスの扱いは
// 空き状態監視と再オープン予算に任せる）
func (m *Manager) DiscoverCameras(ctx context.Context) ([]string, error) {
	devices, err := m.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, err
	}

	for _, device := range devices {
		registered := false
		m.mu.RLock()
		for _, c := range m.controllers {
			if c.Device() == device {
				registered = true
				break
			}
		}
		m.mu.RUnlock()

		if !registered {
			if _, err := m.AddCamera(ctx, device, m.defaultSettings); err != nil {
				m.logger.Warn("カメラの自動追加に失敗しました",
					zap.String("device", device),
					zap.Error(err))
			}
		}
	}

	return devices, nil
}

// backgroundScan は定期的なデバイススキャンを実行する
func (m *Manager) backgroundScan(ctx context.Context) {
	defer m.wg.Done()

	m.mu.RLock()
	interval := m.scanInterval
	m.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.DiscoverCameras(ctx); err != nil {
				m.logger.Warn("定期スキャンに失敗しました", zap.Error(err))
			}
		}
	}
}
