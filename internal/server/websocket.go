package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader はWebSocketへのアップグレードを行う
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 同一ホストでの利用を想定し、オリジン検証は行わない
	CheckOrigin: func(*http.Request) bool { return true },
}

// writeWait はWebSocketの書き込み制限時間
const writeWait = 10 * time.Second

// StateMessage はWebSocketで配信する状態通知
type StateMessage struct {
	CameraID  string    `json:"camera_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// handleStateWebSocket はカメラ公開状態のWebSocket配信エンドポイント
// 接続直後に現在値を1回配信し、以降は状態変化のたびに配信する
func (s *Server) handleStateWebSocket(c *gin.Context) {
	controller, found := s.manager.Get(c.Param("id"))
	if !found {
		errorJSON(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocketのアップグレードに失敗しました", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	states, cancel := controller.Observable().Subscribe()
	defer cancel()

	// クライアント側のクローズを検知するための読み取りループ
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readDone:
			return

		case state, ok := <-states:
			if !ok {
				// コントローラが解放された
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "camera released")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(StateMessage{
				CameraID:  controller.ID(),
				State:     string(state),
				Timestamp: time.Now(),
			})
			if err != nil {
				return
			}
		}
	}
}
