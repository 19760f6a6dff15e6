package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"renzu/internal/camera"
	"renzu/internal/config"
	"renzu/internal/server"
	"renzu/internal/snapshot"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// ロガーを作成
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), logger, cfg); err != nil {
		logger.Fatal("起動に失敗しました", zap.Error(err))
	}
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

	// 設定ファイルで明示されたカメラを追加する
	for _, device := range cfg.Camera.Devices {
		settings := camera.Settings{FPS: device.FPS, Width: device.Width, Height: device.Height}
		if settings.FPS == 0 {
			settings.FPS = cfg.Camera.DefaultFPS
		}
		if settings.Width == 0 {
			settings.Width = cfg.Camera.DefaultWidth
		}
		if settings.Height == 0 {
			settings.Height = cfg.Camera.DefaultHeight
		}

		if _, err := manager.AddCamera(ctx, device.Device, settings); err != nil {
			logger.Warn("設定されたカメラの追加に失敗しました",
				zap.String("device", device.Device),
				zap.Error(err))
		}
	}

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
