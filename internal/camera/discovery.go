package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Discovery はカメラデバイスの検出と空き状態確認を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが現在取得可能かチェックする
	// （他のクライアントに保持されていないこと）
	IsDeviceAvailable(ctx context.Context, device string) bool

	// DeviceName はデバイスの表示名を取得する
	DeviceName(ctx context.Context, device string) string
}

// LinuxDiscovery はLinux環境でのV4L2デバイス検出を実装する
type LinuxDiscovery struct{}

// NewLinuxDiscovery は新しい LinuxDiscovery を作成する
func NewLinuxDiscovery() Discovery {
	return &LinuxDiscovery{}
}

// ScanDevices は /dev/video* パターンでデバイスを検索する
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if d.IsDeviceAvailable(ctx, match) {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// IsDeviceAvailable はデバイスファイルの存在と読み取り権限を確認する
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if _, err := os.Stat(device); os.IsNotExist(err) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer func() {
		_ = file.Close()
	}()

	// /dev/videoXX パターンの簡易チェック
	matched, _ := regexp.MatchString(`^/dev/video\d+$`, device)
	return matched
}

// DeviceName はv4l2-ctlで実際のカメラ名を取得する
// 取得できない場合はデバイス番号から生成する
func (d *LinuxDiscovery) DeviceName(_ context.Context, device string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err == nil {
		// "Card type" の行からカメラ名を抽出
		for _, line := range strings.Split(string(output), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Card type") {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					if name := strings.TrimSpace(parts[1]); name != "" {
						return name
					}
				}
			}
		}
	}

	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	re := regexp.MustCompile(`video(\d+)`)
	matches := re.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

// MockDiscovery はテスト用のモック Discovery 実装
type MockDiscovery struct {
	devices   []string
	available map[string]bool
}

// NewMockDiscovery は新しい MockDiscovery を作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	available := make(map[string]bool)
	for _, device := range devices {
		available[device] = true
	}
	return &MockDiscovery{
		devices:   devices,
		available: available,
	}
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	return m.devices, nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	return m.available[device]
}

// DeviceName はモックデバイスの表示名を返す
func (m *MockDiscovery) DeviceName(_ context.Context, device string) string {
	return fmt.Sprintf("テストカメラ %d", extractDeviceNumber(device))
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	for _, d := range m.devices {
		if d == device {
			m.available[device] = true
			return
		}
	}
	m.devices = append(m.devices, device)
	m.available[device] = true
}

// SetAvailable はテスト用に空き状態を変更する
func (m *MockDiscovery) SetAvailable(device string, available bool) {
	m.available[device] = available
}
