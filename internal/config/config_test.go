package config

import (
	"os"
	"testing"
	"time"
)

// TestConfigLoadDefaults はデフォルト値での読み込みをテストする
func TestConfigLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg == nil {
		t.Fatal("設定がnilです")
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// カメラのデフォルト値の検証
	if cfg.Camera.DefaultFPS <= 0 {
		t.Error("デフォルトFPSが設定されていません")
	}
	if cfg.Camera.DefaultWidth <= 0 {
		t.Error("デフォルト幅が設定されていません")
	}
	if cfg.Camera.DefaultHeight <= 0 {
		t.Error("デフォルト高さが設定されていません")
	}

	// 再オープンポリシーのデフォルト値の検証
	if cfg.Reopen.Window != 5000*time.Millisecond {
		t.Errorf("再オープン制限時間のデフォルト値が一致しません: got %v, want %v", cfg.Reopen.Window, 5000*time.Millisecond)
	}
	if cfg.Reopen.Delay != 700*time.Millisecond {
		t.Errorf("再オープン待機時間のデフォルト値が一致しません: got %v, want %v", cfg.Reopen.Delay, 700*time.Millisecond)
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: Server{
				Host: "localhost",
				Port: 8080,
			},
			Camera: Camera{
				DefaultFPS:    15,
				DefaultWidth:  1280,
				DefaultHeight: 720,
			},
			Reopen: Reopen{
				Window: 5000 * time.Millisecond,
				Delay:  700 * time.Millisecond,
			},
		}
	}

	testCases := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			mutate:    func(*Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			mutate:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "無効なFPS",
			mutate:    func(c *Config) { c.Camera.DefaultFPS = 0 },
			expectErr: true,
		},
		{
			name:      "無効な再オープン制限時間",
			mutate:    func(c *Config) { c.Reopen.Window = 0 },
			expectErr: true,
		},
		{
			name:      "無効な再オープン待機時間",
			mutate:    func(c *Config) { c.Reopen.Delay = -time.Second },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: Server{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
// 注意: このテストは環境変数を変更するため、parallelは使わない
func TestEnvironmentVariables(t *testing.T) {
	originalHost := os.Getenv("RENZU_SERVER_HOST")
	originalPort := os.Getenv("RENZU_SERVER_PORT")

	defer func() {
		// テスト後に環境変数を復元
		_ = os.Setenv("RENZU_SERVER_HOST", originalHost)
		_ = os.Setenv("RENZU_SERVER_PORT", originalPort)
	}()

	_ = os.Setenv("RENZU_SERVER_HOST", "test.example.com")
	_ = os.Setenv("RENZU_SERVER_PORT", "9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
}
