package camera

import (
	"sync"

	"github.com/google/uuid"
)

// errorListenerRegistry はエラーリスナーの明示的な購読一覧を管理する
// ラッパーオブジェクトを作り直す方式ではなく、ハンドルによる
// 追加・削除をサポートする
type errorListenerRegistry struct {
	mu        sync.RWMutex
	listeners map[string]ErrorListener
}

// newErrorListenerRegistry は新しいレジストリを作成する
func newErrorListenerRegistry() *errorListenerRegistry {
	return &errorListenerRegistry{
		listeners: make(map[string]ErrorListener),
	}
}

// Add はリスナーを登録し、削除用のハンドルIDを返す
func (r *errorListenerRegistry) Add(listener ErrorListener) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.listeners[id] = listener
	return id
}

// Remove は指定ハンドルのリスナーを削除する
func (r *errorListenerRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, id)
}

// Clear は全リスナーを削除する（解放時に呼ばれる）
func (r *errorListenerRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = make(map[string]ErrorListener)
}

// Notify は登録済みの全リスナーへ通知する
// リスナーの実行中にロックを握らないよう、スナップショットを取ってから呼ぶ
func (r *errorListenerRegistry) Notify(code ErrorCode, message string) {
	r.mu.RLock()
	snapshot := make([]ErrorListener, 0, len(r.listeners))
	for _, l := range r.listeners {
		snapshot = append(snapshot, l)
	}
	r.mu.RUnlock()

	for _, l := range snapshot {
		l.OnCameraError(code, message)
	}
}
