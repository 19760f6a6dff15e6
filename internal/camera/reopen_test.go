package camera

import (
	"testing"
	"time"
)

// fakeClock はテスト用の操作可能な時計
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

// newTestMonitor は固定時刻から始まるモニターを作成する
func newTestMonitor(window time.Duration) (*ReopenMonitor, *fakeClock) {
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	monitor := NewReopenMonitor(window)
	monitor.now = clock.now
	return monitor, clock
}

// TestReopenMonitorFirstAttemptAllowed は初回試行が記録されつつ
// 許可されることをテストする
func TestReopenMonitorFirstAttemptAllowed(t *testing.T) {
	monitor, _ := newTestMonitor(5 * time.Second)

	if !monitor.CanScheduleReopen() {
		t.Error("初回試行が許可されませんでした")
	}
	if monitor.firstReopenTime.IsZero() {
		t.Error("初回試行の時刻が記録されていません")
	}
}

// TestReopenMonitorFixedWindow はウィンドウが初回失敗からの固定窓であり
// スライディングしないことをテストする
func TestReopenMonitorFixedWindow(t *testing.T) {
	monitor, clock := newTestMonitor(5 * time.Second)

	if !monitor.CanScheduleReopen() {
		t.Fatal("初回試行が許可されませんでした")
	}

	// 窓の内側では許可され続ける
	clock.advance(3 * time.Second)
	if !monitor.CanScheduleReopen() {
		t.Error("窓内の試行が許可されませんでした")
	}
	clock.advance(1 * time.Second)
	if !monitor.CanScheduleReopen() {
		t.Error("窓内の試行が許可されませんでした")
	}

	// 直前の試行から1秒しか経っていなくても、初回から5秒で不許可になる
	clock.advance(1 * time.Second)
	if monitor.CanScheduleReopen() {
		t.Error("窓を超えた試行が許可されました")
	}
}

// TestReopenMonitorResetAfterDenial は不許可後に記録がリセットされ、
// 次のシーケンスが新規として扱われることをテストする
func TestReopenMonitorResetAfterDenial(t *testing.T) {
	monitor, clock := newTestMonitor(5 * time.Second)

	monitor.CanScheduleReopen()
	clock.advance(6 * time.Second)
	if monitor.CanScheduleReopen() {
		t.Fatal("窓を超えた試行が許可されました")
	}

	// 不許可の時点でリセット済み。次の呼び出しは新しいシーケンスの初回
	if !monitor.CanScheduleReopen() {
		t.Error("リセット後の初回試行が許可されませんでした")
	}
}

// TestReopenMonitorManualReset は明示的なリセットをテストする
func TestReopenMonitorManualReset(t *testing.T) {
	monitor, clock := newTestMonitor(5 * time.Second)

	monitor.CanScheduleReopen()
	clock.advance(4 * time.Second)

	// スケジュール起因ではないオープンに相当
	monitor.Reset()

	// 窓を超えた時刻でも新規シーケンスの初回として許可される
	clock.advance(2 * time.Second)
	if !monitor.CanScheduleReopen() {
		t.Error("リセット後の試行が許可されませんでした")
	}
}

// TestReopenMonitorDefaultWindow は不正なウィンドウ指定が既定値に
// 置き換えられることをテストする
func TestReopenMonitorDefaultWindow(t *testing.T) {
	monitor := NewReopenMonitor(0)
	if monitor.window != DefaultReopenWindow {
		t.Errorf("既定値が適用されていません: got %v, want %v", monitor.window, DefaultReopenWindow)
	}
}
