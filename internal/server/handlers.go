package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"renzu/internal/camera"
)

// captureWait は単発キャプチャの応答待ち時間の上限
const captureWait = 15 * time.Second

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status    string     `json:"status"`
	Server    ServerInfo `json:"server"`
	Cameras   int        `json:"cameras"`
	Timestamp time.Time  `json:"timestamp"`
}

// ServerInfo はサーバーの情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// CamerasResponse はカメラ一覧の応答
type CamerasResponse struct {
	Cameras []camera.CameraInfo `json:"cameras"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AddCameraRequest はカメラ追加要求
type AddCameraRequest struct {
	Device string `json:"device" binding:"required"`
	FPS    int    `json:"fps"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SettingsRequest はセッション設定の更新要求
type SettingsRequest struct {
	FPS    int `json:"fps" binding:"required"`
	Width  int `json:"width" binding:"required"`
	Height int `json:"height" binding:"required"`
}

// errorJSON はエラー応答を書き込む
func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>Renzu - カメラ管理システム</title>
</head>
<body>
    <h1>Renzu カメラ管理システム</h1>
    <p>サーバーが正常に起動しています。</p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>カメラ一覧: <a href="/api/cameras">/api/cameras</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`))
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はシステム状態取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Cameras:   len(s.manager.Cameras()),
		Timestamp: time.Now(),
	})
}

// handleListCameras はカメラ一覧取得エンドポイント
func (s *Server) handleListCameras(c *gin.Context) {
	c.JSON(http.StatusOK, CamerasResponse{
		Cameras: s.manager.Cameras(),
	})
}

// handleGetCamera は個別カメラ取得エンドポイント
func (s *Server) handleGetCamera(c *gin.Context) {
	controller, found := s.manager.Get(c.Param("id"))
	if !found {
		errorJSON(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return
	}
	c.JSON(http.StatusOK, controller.Info())
}

// handleAddCamera はカメラ追加エンドポイント
func (s *Server) handleAddCamera(c *gin.Context) {
	var req AddCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	settings := camera.Settings{
		FPS:    req.FPS,
		Width:  req.Width,
		Height: req.Height,
	}
	if settings.FPS == 0 {
		settings.FPS = s.config.Camera.DefaultFPS
	}
	if settings.Width == 0 {
		settings.Width = s.config.Camera.DefaultWidth
	}
	if settings.Height == 0 {
		settings.Height = s.config.Camera.DefaultHeight
	}

	info, err := s.manager.AddCamera(c.Request.Context(), req.Device, settings)
	if err != nil {
		errorJSON(c, http.StatusConflict, "add_failed", err.Error())
		return
	}
	c.JSON(http.StatusCreated, info)
}

// handleRemoveCamera はカメラ削除エンドポイント
func (s *Server) handleRemoveCamera(c *gin.Context) {
	if err := s.manager.RemoveCamera(c.Request.Context(), c.Param("id")); err != nil {
		errorJSON(c, http.StatusNotFound, "camera_not_found", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// handleOpenCamera はオープンシーケンス開始エンドポイント
// 操作は非同期で、現時点の公開状態を即座に返す
func (s *Server) handleOpenCamera(c *gin.Context) {
	controller, found := s.manager.Get(c.Param("id"))
	if !found {
		errorJSON(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return
	}
	controller.Open()
	c.JSON(http.StatusAccepted, gin.H{"state": controller.State()})
}

// handleCloseCamera はクローズシーケンス開始エンドポイント
func (s *Server) handleCloseCamera(c *gin.Context) {
	controller, found := s.manager.Get(c.Param("id"))
	if !found {
		errorJSON(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return
	}
	controller.Close()
	c.JSON(http.StatusAccepted, gin.H{"state": controller.State()})
}

// handleReleaseCamera は解放エンドポイント
// 解放後のコントローラは再利用できない
func (s *Server) handleReleaseCamera(c *gin.Context) {
	controller, found := s.manager.Get(c.Param("id"))
	if !found {
		errorJSON(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return
	}
	controller.Release()
	c.JSON(http.StatusAccepted, gin.H{"state": controller.State()})
}

// handleUpdateSettings はセッション設定の更新エンドポイント
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := s.manager.UpdateCameraSettings(c.Param("id"), camera.Settings{
		FPS:    req.FPS,
		Width:  req.Width,
		Height: req.Height,
	})
	if err != nil {
		errorJSON(c, http.StatusNotFound, "camera_not_found", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// captureResult は単発キャプチャのコールバック結果
type captureResult struct {
	frame []byte
	err   error
}

// captureWaiter はコールバックをチャンネルへ橋渡しする
type captureWaiter struct {
	resultCh chan captureResult
}

// OnCaptureCompleted は成功結果を通知する
func (w *captureWaiter) OnCaptureCompleted(_ string, frame []byte) {
	w.resultCh <- captureResult{frame: frame}
}

// OnCaptureFailed は失敗結果を通知する
func (w *captureWaiter) OnCaptureFailed(_ string, err error) {
	w.resultCh <- captureResult{err: err}
}

// handleCapture は単発キャプチャエンドポイント
// 非同期のキャプチャ結果を待ち合わせ、JPEGとして返す
func (s *Server) handleCapture(c *gin.Context) {
	controller, found := s.manager.Get(c.Param("id"))
	if !found {
		errorJSON(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return
	}

	waiter := &captureWaiter{resultCh: make(chan captureResult, 1)}
	controller.Capture(waiter)

	select {
	case result := <-waiter.resultCh:
		if result.err != nil {
			errorJSON(c, http.StatusConflict, "capture_failed", result.err.Error())
			return
		}
		c.Data(http.StatusOK, "image/jpeg", result.frame)
	case <-time.After(captureWait):
		errorJSON(c, http.StatusGatewayTimeout, "capture_timeout", "キャプチャがタイムアウトしました")
	case <-c.Request.Context().Done():
		c.Abort()
	}
}

// handleStream はMJPEGストリーミングエンドポイント
func (s *Server) handleStream(c *gin.Context) {
	controller, found := s.manager.Get(c.Param("id"))
	if !found {
		errorJSON(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return
	}

	frames, err := controller.Frames()
	if err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "camera_not_open", "カメラがオープンされていません")
		return
	}

	s.streamMJPEG(c, frames)
}

// streamMJPEG はMJPEGストリームを配信する
func (s *Server) streamMJPEG(c *gin.Context, frames <-chan []byte) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			// クライアントが切断された
			return

		case frame, ok := <-frames:
			if !ok {
				// セッションが終了した
				return
			}

			if _, err := writer.Write([]byte("--frame\r\n")); err != nil {
				return
			}
			if _, err := writer.Write([]byte("Content-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}

			flusher.Flush()
		}
	}
}
