package camera

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

// recordingListener は空き状態の変化通知を記録するリスナー
type recordingListener struct {
	events chan bool
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan bool, 16)}
}

func (l *recordingListener) OnAvailable(string) {
	l.events <- true
}

func (l *recordingListener) OnUnavailable(string) {
	l.events <- false
}

func (l *recordingListener) wait(t *testing.T) bool {
	t.Helper()
	select {
	case available := <-l.events:
		return available
	case <-time.After(2 * time.Second):
		t.Fatal("空き状態の通知が届きませんでした")
		return false
	}
}

// TestPollingNotifierDetectsChanges は空き状態の変化のみが通知される
// ことをテストする
func TestPollingNotifierDetectsChanges(t *testing.T) {
	discovery := NewMockDiscovery([]string{"/dev/video0"})
	notifier := NewPollingAvailabilityNotifier(zap.NewNop(), discovery, 10*time.Millisecond)

	listener := newRecordingListener()
	notifier.Register("/dev/video0", listener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier.Start(ctx)
	defer notifier.Stop()

	// 初回確認は変化として通知される
	if available := listener.wait(t); !available {
		t.Error("初回通知が利用可能ではありません")
	}

	// 変化がない間は通知されない
	select {
	case <-listener.events:
		t.Error("変化がないのに通知されました")
	case <-time.After(50 * time.Millisecond):
	}

	// 利用不可への変化が通知される
	discovery.SetAvailable("/dev/video0", false)
	if available := listener.wait(t); available {
		t.Error("利用不可への変化が通知されていません")
	}

	// 利用可能への復帰が通知される
	discovery.SetAvailable("/dev/video0", true)
	if available := listener.wait(t); !available {
		t.Error("利用可能への復帰が通知されていません")
	}
}

// TestPollingNotifierUnregister は解除済みデバイスへ通知されない
// ことをテストする
func TestPollingNotifierUnregister(t *testing.T) {
	discovery := NewMockDiscovery([]string{"/dev/video0"})
	notifier := NewPollingAvailabilityNotifier(zap.NewNop(), discovery, 10*time.Millisecond)

	listener := newRecordingListener()
	notifier.Register("/dev/video0", listener)
	notifier.Unregister("/dev/video0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier.Start(ctx)
	defer notifier.Stop()

	select {
	case <-listener.events:
		t.Error("解除済みリスナーへ通知されました")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestAvailabilityTrackerForwarding はトラッカーがコントローラへ
// 通知を転送することをテストする
func TestAvailabilityTrackerForwarding(t *testing.T) {
	c, connector, _, notifier := newTestController(t, nil)

	// 利用不可 → オープン要求 → 空き待ち
	notifier.FireUnavailable("/dev/video0")
	flush(t, c)
	c.Open()
	waitState(t, c, PublicPendingOpen)

	// 利用可能 → 自動オープン
	notifier.FireAvailable("/dev/video0")
	waitState(t, c, PublicOpening)
	if got := connector.CallCount("open"); got != 1 {
		t.Errorf("オープン要求の回数が一致しません: got %d, want 1", got)
	}
}
