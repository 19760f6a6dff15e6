package camera

import (
	"time"
)

// DefaultReopenWindow は再オープン試行に許される累積時間の既定値
const DefaultReopenWindow = 5000 * time.Millisecond

// DefaultReopenDelay は再オープン試行前の待機時間の既定値
// アプリのバックグラウンド移行など外部のリソース競合が解消するのを
// 待つための経験的な値
const DefaultReopenDelay = 700 * time.Millisecond

// ReopenMonitor は再オープン試行の累積時間を追跡し、
// 制限時間内であれば次の試行を許可する
//
// firstReopenTime は再オープンシーケンス進行中のみ非ゼロという不変条件を持つ。
// スケジュール起因ではないオープンのたび、および予算超過時にリセットされる。
// エグゼキュータのゴルーチンからのみ触るためロックは持たない
type ReopenMonitor struct {
	window          time.Duration
	now             func() time.Time
	firstReopenTime time.Time // ゼロ値 = 試行未記録
}

// NewReopenMonitor は指定の制限時間を持つ ReopenMonitor を作成する
func NewReopenMonitor(window time.Duration) *ReopenMonitor {
	if window <= 0 {
		window = DefaultReopenWindow
	}
	return &ReopenMonitor{
		window: window,
		now:    time.Now,
	}
}

// CanScheduleReopen は再オープンの予約が許可されるか判定する
// 初回は現在時刻を記録して許可する。2回目以降は初回からの経過時間が
// 制限未満なら許可する（タイムスタンプは更新しない。ウィンドウは
// 初回失敗からの固定窓であり、スライディングではない）。
// 制限以上ならリセットして不許可とする
func (m *ReopenMonitor) CanScheduleReopen() bool {
	now := m.now()

	if m.firstReopenTime.IsZero() {
		m.firstReopenTime = now
		return true
	}

	if now.Sub(m.firstReopenTime) < m.window {
		return true
	}

	// 予算超過。無限リトライを防ぐためリセットして不許可
	m.Reset()
	return false
}

// Reset は記録したタイムスタンプをクリアする
// スケジュール起因ではないオープンのたび、および予算超過時に呼ばれる
func (m *ReopenMonitor) Reset() {
	m.firstReopenTime = time.Time{}
}
