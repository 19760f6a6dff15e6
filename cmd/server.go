// Package main はRenzuサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"renzu/internal/camera"
	"renzu/internal/config"
	"renzu/internal/server"
	"renzu/internal/snapshot"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス (デフォルト: ./renzu.yaml)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		debug      = flag.Bool("debug", false, "デバッグログを有効にする")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Renzu")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// ロガーを作成
	logger, err := newLogger(*debug)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Renzuサーバーを起動します", zap.String("addr", cfg.ServerAddress()))

	if err := run(context.Background(), logger, cfg); err != nil {
		logger.Fatal("起動に失敗しました", zap.Error(err))
	}
}

// newLogger はログレベルに応じたロガーを作成する
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// run はカメラサブシステムとHTTPサーバーを起動する
func run(ctx context.Context, logger *zap.Logger, cfg *config.Config) error {
	discovery := camera.NewLinuxDiscovery()
	manager := camera.NewManager(
		logger,
		discovery,
		camera.NewV4L2Connector(discovery),
		camera.NewV4L2SessionCreator(logger),
		camera.Settings{
			FPS:    cfg.Camera.DefaultFPS,
			Width:  cfg.Camera.DefaultWidth,
			Height: cfg.Camera.DefaultHeight,
		},
	)
	manager.SetReopenPolicy(cfg.Reopen.Window, cfg.Reopen.Delay)
	manager.SetAutoDiscovery(cfg.Camera.AutoDiscovery)

	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Stop(stopCtx); err != nil {
			logger.Warn("カメラサブシステムの停止に失敗しました", zap.Error(err))
		}
	}()

	if cfg.Snapshot.Enabled {
		recorder := snapshot.NewRecorder(logger, manager, snapshot.Config{
			Interval:      cfg.Snapshot.Interval,
			OutputDir:     cfg.Snapshot.OutputDir,
			RetentionDays: cfg.Snapshot.RetentionDays,
		})
		if err := recorder.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := recorder.Stop(stopCtx); err != nil {
				logger.Warn("スナップショット記録の停止に失敗しました", zap.Error(err))
			}
		}()
	}

	return server.New(logger, cfg, manager).Start(ctx)
}
