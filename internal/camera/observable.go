package camera

import (
	"sync"

	"github.com/google/uuid"
)

// StateObservable は公開状態の配信を担う
// 内部状態が変化するたびにエグゼキュータのゴルーチン上で即時更新され、
// 購読者へはチャンネル経由で非同期に配信される。
// 遅い購読者には最新値のみ届く（latest-wins）
type StateObservable struct {
	mu      sync.RWMutex
	current PublicState
	subs    map[string]chan PublicState
}

// NewStateObservable は初期状態を持つ StateObservable を作成する
func NewStateObservable(initial PublicState) *StateObservable {
	return &StateObservable{
		current: initial,
		subs:    make(map[string]chan PublicState),
	}
}

// Current は現在の公開状態を返す
func (o *StateObservable) Current() PublicState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Subscribe は状態変化の購読を開始する
// 購読時点の現在値が最初に配信される。戻り値のcancelで購読を解除する
func (o *StateObservable) Subscribe() (<-chan PublicState, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan PublicState, 1)
	ch <- o.current
	o.subs[id] = ch

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish は新しい公開状態を設定し、全購読者へ配信する
// バッファが埋まっている購読者には古い値を捨てて最新値を入れる
func (o *StateObservable) Publish(state PublicState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == state {
		return
	}
	o.current = state

	for _, ch := range o.subs {
		select {
		case ch <- state:
		default:
			// 未消費の古い値を捨てて最新値で置き換える
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// Close は全購読チャンネルをクローズする（解放時に呼ばれる）
func (o *StateObservable) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
