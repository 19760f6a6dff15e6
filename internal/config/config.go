// Package config はアプリケーション全体の設定管理を担う
//
// 設定はviperを使って読み込む。優先順位は
// 環境変数（RENZU_プレフィックス） > 設定ファイル > デフォルト値
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server   Server   `mapstructure:"server"`
	Camera   Camera   `mapstructure:"camera"`
	Reopen   Reopen   `mapstructure:"reopen"`
	Snapshot Snapshot `mapstructure:"snapshot"`
}

// Server はHTTPサーバーの設定
type Server struct {
	Host string `mapstructure:"host"` // リッスンするホスト
	Port int    `mapstructure:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 書き込みタイムアウト
}

// Camera はカメラ関連の設定
type Camera struct {
	// 複数カメラ対応のための設定
	Devices []Device `mapstructure:"devices"`

	// 起動時の自動検出
	AutoDiscovery bool `mapstructure:"auto_discovery"`

	// デフォルト設定
	DefaultFPS    int `mapstructure:"default_fps"`    // フレームレート (fps)
	DefaultWidth  int `mapstructure:"default_width"`  // 画像幅
	DefaultHeight int `mapstructure:"default_height"` // 画像高さ
}

// Device は個別カメラの設定
type Device struct {
	Name   string `mapstructure:"name"`   // カメラ名
	Device string `mapstructure:"device"` // デバイスパス (例: /dev/video0)

	// カメラ固有の設定（デフォルト値より優先）
	FPS    int `mapstructure:"fps"`
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// Snapshot は定期スナップショット保存の設定
type Snapshot struct {
	Enabled       bool          `mapstructure:"enabled"`        // 有効/無効
	Interval      time.Duration `mapstructure:"interval"`       // 撮影間隔
	OutputDir     string        `mapstructure:"output_dir"`     // 保存先ディレクトリ
	RetentionDays int           `mapstructure:"retention_days"` // 保持期間（日数）
}

// Reopen は再オープンポリシーの設定
type Reopen struct {
	// Window は再オープン試行に許される累積時間（初回失敗からの固定窓）
	Window time.Duration `mapstructure:"window"`
	// Delay は再オープン試行前の待機時間
	Delay time.Duration `mapstructure:"delay"`
}

// Load は設定を読み込む
// path が空の場合はカレントディレクトリの renzu.yaml を探し、
// なければデフォルト値を使う
func Load(path string) (*Config, error) {
	v := viper.New()

	// デフォルト値
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0)) // ストリーミング用にタイムアウト無効化
	v.SetDefault("camera.auto_discovery", true)
	v.SetDefault("camera.default_fps", 15)
	v.SetDefault("camera.default_width", 1280)
	v.SetDefault("camera.default_height", 720)
	v.SetDefault("reopen.window", 5000*time.Millisecond)
	v.SetDefault("reopen.delay", 700*time.Millisecond)
	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.interval", time.Minute)
	v.SetDefault("snapshot.output_dir", "snapshots")
	v.SetDefault("snapshot.retention_days", 7)

	// 環境変数（例: RENZU_SERVER_PORT=9090）
	v.SetEnvPrefix("RENZU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 設定ファイル
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	} else {
		v.SetConfigName("renzu")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// ファイルがない場合はデフォルト値で続行
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return &cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if c.Camera.DefaultFPS <= 0 || c.Camera.DefaultFPS > 60 {
		return fmt.Errorf("無効なFPS値: %d", c.Camera.DefaultFPS)
	}

	if c.Reopen.Window <= 0 {
		return fmt.Errorf("無効な再オープン制限時間: %v", c.Reopen.Window)
	}

	if c.Reopen.Delay <= 0 {
		return fmt.Errorf("無効な再オープン待機時間: %v", c.Reopen.Delay)
	}

	if c.Snapshot.Enabled {
		if c.Snapshot.Interval <= 0 {
			return fmt.Errorf("無効なスナップショット間隔: %v", c.Snapshot.Interval)
		}
		if c.Snapshot.OutputDir == "" {
			return fmt.Errorf("スナップショットの保存先が設定されていません")
		}
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
