package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"renzu/internal/camera"
	"renzu/internal/config"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	logger     *zap.Logger
	config     *config.Config
	manager    *camera.Manager
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(logger *zap.Logger, cfg *config.Config, manager *camera.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		logger:  logger,
		config:  cfg,
		manager: manager,
		engine:  engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ルートハンドラ（簡単な確認用）
	s.engine.GET("/", s.handleRoot)

	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)

		api.GET("/cameras", s.handleListCameras)
		api.POST("/cameras", s.handleAddCamera)
		api.GET("/cameras/:id", s.handleGetCamera)
		api.DELETE("/cameras/:id", s.handleRemoveCamera)

		// ライフサイクル操作
		api.POST("/cameras/:id/open", s.handleOpenCamera)
		api.POST("/cameras/:id/close", s.handleCloseCamera)
		api.POST("/cameras/:id/release", s.handleReleaseCamera)
		api.PUT("/cameras/:id/settings", s.handleUpdateSettings)

		// キャプチャとストリーミング
		api.POST("/cameras/:id/capture", s.handleCapture)
		api.GET("/cameras/:id/stream", s.handleStream)
		api.GET("/cameras/:id/state/ws", s.handleStateWebSocket)
	}
}

// Start はサーバーを起動し、シグナルかコンテキストの終了まで待つ
func (s *Server) Start(ctx context.Context) error {
	shutdownCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("addr", s.config.ServerAddress()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", zap.String("signal", sig.String()))
	case err := <-shutdownCh:
		return err
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
