package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newTestController はモック構成のコントローラを作成する
func newTestController(t *testing.T, config *SessionConfig) (*Controller, *MockConnector, *MockSessionCreator, *MockAvailabilityNotifier) {
	t.Helper()

	connector := NewMockConnector()
	creator := NewMockSessionCreator()
	notifier := NewMockAvailabilityNotifier()

	controller := NewController(
		zap.NewNop(),
		"test-camera", "テストカメラ", "/dev/video0",
		connector, creator, notifier, config,
	)
	t.Cleanup(func() {
		controller.Release()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = controller.WaitReleased(ctx)
	})

	return controller, connector, creator, notifier
}

// flush はエグゼキュータ上の先行タスクの完了を待つ
func flush(t *testing.T, c *Controller) {
	t.Helper()

	done := make(chan struct{})
	if err := c.executor.Submit(func() { close(done) }); err != nil {
		// 解放済みの場合は待つものがない
		return
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("エグゼキュータの処理待ちがタイムアウトしました")
	}
}

// waitState は公開状態が期待値になるまで待つ
func waitState(t *testing.T, c *Controller, want PublicState) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if c.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("状態が %s になりませんでした: got %s", want, c.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// errorRecorder はエラー通知を記録するリスナー
type errorRecorder struct {
	mu    sync.Mutex
	codes []ErrorCode
	ch    chan ErrorCode
}

func newErrorRecorder() *errorRecorder {
	return &errorRecorder{ch: make(chan ErrorCode, 16)}
}

func (r *errorRecorder) OnCameraError(code ErrorCode, _ string) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
	r.ch <- code
}

func (r *errorRecorder) count(code ErrorCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.codes {
		if c == code {
			n++
		}
	}
	return n
}

// captureRecorder はキャプチャ結果を記録するコールバック
type captureRecorder struct {
	resultCh chan error
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{resultCh: make(chan error, 1)}
}

func (r *captureRecorder) OnCaptureCompleted(_ string, _ []byte) {
	r.resultCh <- nil
}

func (r *captureRecorder) OnCaptureFailed(_ string, err error) {
	r.resultCh <- err
}

func (r *captureRecorder) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.resultCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("キャプチャ結果の待機がタイムアウトしました")
		return nil
	}
}

// TestOpenCreatesSession はオープン完了でセッションが生成される
// ことをテストする
func TestOpenCreatesSession(t *testing.T) {
	c, connector, creator, _ := newTestController(t, nil)

	c.Open()
	waitState(t, c, PublicOpening)

	if got := connector.CallCount("open"); got != 1 {
		t.Fatalf("オープン要求の回数が一致しません: got %d, want 1", got)
	}

	connector.FireOpened()
	waitState(t, c, PublicOpen)

	if got := creator.CreatedCount(); got != 1 {
		t.Errorf("セッション生成回数が一致しません: got %d, want 1", got)
	}
	if got := creator.LastSession().OpenCount(); got != 1 {
		t.Errorf("セッションのオープン回数が一致しません: got %d, want 1", got)
	}
}

// TestHardwareCallsNeverOverlap はクローズ中のオープン要求が
// クローズ完了を待ってから発行されることをテストする
func TestHardwareCallsNeverOverlap(t *testing.T) {
	c, connector, _, _ := newTestController(t, nil)

	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	// クローズ要求を出した直後にオープンを要求する
	c.Close()
	c.Open()
	flush(t, c)

	// クローズ完了前にオープン要求は発行されない
	if got := connector.CallCount("open"); got != 1 {
		t.Fatalf("クローズ完了前にオープンが発行されました: got %d", got)
	}

	connector.FireClosed()
	waitState(t, c, PublicOpening)
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	// open, close, open の厳密な交互順序
	want := []string{"open", "close", "open"}
	got := connector.Calls()
	if len(got) != len(want) {
		t.Fatalf("呼び出し回数が一致しません: got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("呼び出し順序が一致しません: got %v, want %v", got, want)
		}
	}
}

// TestCloseDuringOpenRace はオープン完了コールバックがクローズ要求後に
// 到着した場合、デバイスが即座にクローズされることをテストする
func TestCloseDuringOpenRace(t *testing.T) {
	c, connector, creator, _ := newTestController(t, nil)

	c.Open()
	waitState(t, c, PublicOpening)

	// コールバック到着前にクローズを要求する
	c.Close()
	waitState(t, c, PublicClosing)
	if got := connector.CallCount("close"); got != 0 {
		t.Fatalf("ハンドル取得前にクローズ要求が発行されました: got %d", got)
	}

	// 遅れて到着したハンドルは使われずにクローズされる
	connector.FireOpened()
	flush(t, c)
	if got := connector.CallCount("close"); got != 1 {
		t.Fatalf("到着したハンドルがクローズされていません: got %d", got)
	}
	if got := creator.CreatedCount(); got != 0 {
		t.Errorf("競合ケースでセッションが生成されました: got %d", got)
	}

	connector.FireClosed()
	waitState(t, c, PublicClosed)
}

// TestReopenAfterRecoverableError は回復可能エラー後にデバイスが
// クローズされ、遅延をおいて再オープンされることをテストする
func TestReopenAfterRecoverableError(t *testing.T) {
	c, connector, creator, _ := newTestController(t, nil)
	c.SetReopenPolicy(5*time.Second, 10*time.Millisecond)

	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	// 使用中エラーで横取りされた
	connector.FireError(ErrCodeCameraInUse)
	waitState(t, c, PublicOpening)

	// セッションは強制解放され、ハンドルはクローズされる
	if got := creator.LastSession(); got == nil || got.ForceCloseCount() != 1 {
		t.Error("セッションが強制解放されていません")
	}
	flush(t, c)
	if got := connector.CallCount("close"); got != 1 {
		t.Fatalf("クローズ要求が発行されていません: got %d", got)
	}

	// クローズ完了後、遅延をおいて正確に1回だけ再オープンされる
	connector.FireClosed()
	deadline := time.After(2 * time.Second)
	for connector.CallCount("open") < 2 {
		select {
		case <-deadline:
			t.Fatal("再オープンが発行されませんでした")
		case <-time.After(5 * time.Millisecond):
		}
	}

	connector.FireOpened()
	waitState(t, c, PublicOpen)
	if got := creator.CreatedCount(); got != 2 {
		t.Errorf("セッション生成回数が一致しません: got %d, want 2", got)
	}
	if got := connector.CallCount("open"); got != 2 {
		t.Errorf("オープン要求の回数が一致しません: got %d, want 2", got)
	}
}

// TestReopenBudgetGiveUp は再オープン予算の超過時に合成エラーが
// 一度だけ通知され、INITIALIZEDへ戻ることをテストする
func TestReopenBudgetGiveUp(t *testing.T) {
	c, connector, _, _ := newTestController(t, nil)
	c.SetReopenPolicy(200*time.Millisecond, 10*time.Millisecond)

	recorder := newErrorRecorder()
	c.AddErrorListener(recorder)

	c.Open()
	waitState(t, c, PublicOpening)

	// オープン試行のたびに使用中エラーを返し続ける
	giveUp := make(chan struct{})
	go func() {
		fired := 0
		for {
			select {
			case <-giveUp:
				return
			default:
			}
			if connector.CallCount("open") > fired {
				fired++
				connector.FireError(ErrCodeCameraInUse)
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	// 予算超過の通知を待つ
	deadline := time.After(5 * time.Second)
	for {
		var code ErrorCode
		select {
		case code = <-recorder.ch:
		case <-deadline:
			t.Fatal("予算超過の通知が届きませんでした")
		}
		if code == ErrCodeReopenGaveUp {
			break
		}
	}
	close(giveUp)

	waitState(t, c, PublicClosed)

	// 合成エラーはちょうど1回。複数回の試行が行われている
	if got := recorder.count(ErrCodeReopenGaveUp); got != 1 {
		t.Errorf("予算超過の通知回数が一致しません: got %d, want 1", got)
	}
	if got := connector.CallCount("open"); got < 2 {
		t.Errorf("再オープン試行が行われていません: got %d", got)
	}

	// 断念後は自発的な試行が止まる
	opensAfter := connector.CallCount("open")
	time.Sleep(300 * time.Millisecond)
	if got := connector.CallCount("open"); got != opensAfter {
		t.Errorf("断念後も試行が続いています: got %d, want %d", got, opensAfter)
	}

	// 手動のオープンは引き続き有効
	c.Open()
	waitState(t, c, PublicOpening)
	if got := connector.CallCount("open"); got != opensAfter+1 {
		t.Errorf("断念後の手動オープンが発行されていません: got %d", got)
	}
}

// TestFatalErrorClosesWithoutReopen は致命的エラーで再オープンせずに
// 終端することをテストする
func TestFatalErrorClosesWithoutReopen(t *testing.T) {
	c, connector, _, _ := newTestController(t, nil)

	recorder := newErrorRecorder()
	c.AddErrorListener(recorder)

	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	connector.FireError(ErrCodeCameraDisabled)
	waitState(t, c, PublicClosing)

	select {
	case code := <-recorder.ch:
		if code != ErrCodeCameraDisabled {
			t.Errorf("通知コードが一致しません: got %s", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("エラー通知が届きませんでした")
	}

	connector.FireClosed()
	waitState(t, c, PublicClosed)

	// 再オープンは予約されない
	time.Sleep(100 * time.Millisecond)
	if got := connector.CallCount("open"); got != 1 {
		t.Errorf("致命的エラー後に再オープンされました: got %d", got)
	}
}

// TestCaptureRequiresOpened はOPENED以外でのキャプチャ要求が
// コールバックの失敗経路で通知されることをテストする
func TestCaptureRequiresOpened(t *testing.T) {
	c, connector, creator, _ := newTestController(t, nil)

	// オープン前
	recorder := newCaptureRecorder()
	requestID := c.Capture(recorder)
	if requestID == "" {
		t.Fatal("要求IDが空です")
	}
	if err := recorder.wait(t); !errors.Is(err, ErrNotOpened) {
		t.Errorf("期待したエラーではありません: %v", err)
	}

	// オープン後は成功する
	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	recorder = newCaptureRecorder()
	c.Capture(recorder)
	if err := recorder.wait(t); err != nil {
		t.Errorf("キャプチャに失敗しました: %v", err)
	}
	if got := creator.LastSession().CaptureCount(); got != 1 {
		t.Errorf("セッションへのキャプチャ要求回数が一致しません: got %d", got)
	}
}

// TestCaptureAfterRelease は解放後のキャプチャ要求が ErrReleased で
// 失敗することをテストする
func TestCaptureAfterRelease(t *testing.T) {
	c, _, _, _ := newTestController(t, nil)

	c.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReleased(ctx); err != nil {
		t.Fatalf("解放待ちに失敗しました: %v", err)
	}

	recorder := newCaptureRecorder()
	c.Capture(recorder)
	if err := recorder.wait(t); !errors.Is(err, ErrReleased) {
		t.Errorf("期待したエラーではありません: %v", err)
	}
}

// TestReleaseIdempotentHardware は解放の冪等性をテストする
// 2回目以降の解放はハードウェアに対して何も発行しない
func TestReleaseIdempotentHardware(t *testing.T) {
	c, connector, _, notifier := newTestController(t, nil)

	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	c.Release()
	c.Release()
	flush(t, c)

	if got := connector.CallCount("close"); got != 1 {
		t.Fatalf("クローズ要求の回数が一致しません: got %d, want 1", got)
	}

	connector.FireClosed()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReleased(ctx); err != nil {
		t.Fatalf("解放待ちに失敗しました: %v", err)
	}

	if got := c.State(); got != PublicReleased {
		t.Errorf("状態が一致しません: got %s, want %s", got, PublicReleased)
	}
	if notifier.Registered("/dev/video0") {
		t.Error("空き状態リスナーが解除されていません")
	}

	// 解放後の再解放も無害
	c.Release()
	if got := connector.CallCount("close"); got != 1 {
		t.Errorf("解放後にクローズ要求が発行されました: got %d", got)
	}
}

// TestCloseQuirkSynthesizesClosed は既知のクローズ問題が検出されたとき
// クローズ完了とみなして処理が先へ進むことをテストする
func TestCloseQuirkSynthesizesClosed(t *testing.T) {
	c, connector, _, _ := newTestController(t, nil)

	connector.SetCloseError(errors.New("ioctl failed: Device or resource busy"))

	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	// クローズコールバックは決して届かないが、状態は前へ進む
	c.Close()
	waitState(t, c, PublicClosed)
}

// TestCloseQuirkRoutesToReopen はエラー後のクローズが既知問題で失敗した
// 場合でも再オープンシーケンスが継続することをテストする
func TestCloseQuirkRoutesToReopen(t *testing.T) {
	c, connector, _, _ := newTestController(t, nil)
	c.SetReopenPolicy(5*time.Second, 10*time.Millisecond)

	connector.SetCloseError(errors.New("uvcvideo: Device or resource busy"))

	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	// 使用中エラー → クローズが既知問題で失敗 → それでも再オープンへ
	connector.FireError(ErrCodeCameraInUse)

	deadline := time.After(2 * time.Second)
	for connector.CallCount("open") < 2 {
		select {
		case <-deadline:
			t.Fatal("既知問題経由の再オープンが発行されませんでした")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestPendingOpenWaitsForAvailability は利用不可中のオープン要求が
// 空き待ちになり、利用可能通知で自動的にオープンされることをテストする
func TestPendingOpenWaitsForAvailability(t *testing.T) {
	c, connector, _, notifier := newTestController(t, nil)

	if !notifier.Registered("/dev/video0") {
		t.Fatal("空き状態リスナーが登録されていません")
	}

	notifier.FireUnavailable("/dev/video0")
	flush(t, c)

	c.Open()
	waitState(t, c, PublicPendingOpen)
	if got := connector.CallCount("open"); got != 0 {
		t.Fatalf("空き待ち中にオープン要求が発行されました: got %d", got)
	}

	notifier.FireAvailable("/dev/video0")
	waitState(t, c, PublicOpening)
	if got := connector.CallCount("open"); got != 1 {
		t.Errorf("利用可能通知後にオープンが発行されていません: got %d", got)
	}
}

// TestUpdateSessionConfigRecreatesSession はOPENED中の設定差し替えで
// セッションが作り直されることをテストする
func TestUpdateSessionConfigRecreatesSession(t *testing.T) {
	c, connector, creator, _ := newTestController(t, &SessionConfig{
		Settings: Settings{FPS: 15, Width: 1280, Height: 720},
	})

	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	first := creator.LastSession()
	c.UpdateSessionConfig(&SessionConfig{
		Settings: Settings{FPS: 30, Width: 1920, Height: 1080},
	})
	flush(t, c)

	if got := creator.CreatedCount(); got != 2 {
		t.Fatalf("セッション生成回数が一致しません: got %d, want 2", got)
	}
	if got := first.CloseCount(); got != 1 {
		t.Errorf("旧セッションがクローズされていません: got %d", got)
	}

	info := c.Info()
	if info.FPS != 30 || info.Width != 1920 {
		t.Errorf("設定が反映されていません: %+v", info)
	}
}

// TestConfigErrorListenerSwap は設定差し替えで旧設定のリスナーが
// 解除されることをテストする
func TestConfigErrorListenerSwap(t *testing.T) {
	oldRecorder := newErrorRecorder()
	c, connector, _, _ := newTestController(t, &SessionConfig{OnError: oldRecorder})

	newRecorder := newErrorRecorder()
	c.UpdateSessionConfig(&SessionConfig{OnError: newRecorder})
	flush(t, c)

	// 致命的エラーを通知させる
	c.Open()
	waitState(t, c, PublicOpening)
	connector.FireError(ErrCodeCameraService)

	select {
	case code := <-newRecorder.ch:
		if code != ErrCodeCameraService {
			t.Errorf("通知コードが一致しません: got %s", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("新リスナーへ通知されませんでした")
	}

	if got := oldRecorder.count(ErrCodeCameraService); got != 0 {
		t.Errorf("旧リスナーへ通知されました: count=%d", got)
	}
}

// TestObservableProjectsReopeningAsOpening は再オープン中の公開状態が
// 通常のオープン処理と区別できないことをテストする
func TestObservableProjectsReopeningAsOpening(t *testing.T) {
	c, connector, _, _ := newTestController(t, nil)
	c.SetReopenPolicy(5*time.Second, 10*time.Millisecond)

	states, cancel := c.Observable().Subscribe()
	defer cancel()

	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)
	connector.FireError(ErrCodeCameraInUse)
	waitState(t, c, PublicOpening)

	// closed → opening → open → opening の系列が観測され、
	// 再オープン専用の状態値は現れない
	var seen []PublicState
	timeout := time.After(time.Second)
collect:
	for {
		select {
		case state := <-states:
			seen = append(seen, state)
			if len(seen) >= 4 {
				break collect
			}
		case <-timeout:
			break collect
		}
	}

	for _, state := range seen {
		switch state {
		case PublicClosed, PublicOpening, PublicOpen:
		default:
			t.Errorf("予期しない公開状態が観測されました: %s", state)
		}
	}
	if len(seen) < 2 {
		t.Errorf("状態変化が観測されていません: %v", seen)
	}
}

// TestFramesRequiresOpened はフレーム取得がOPENED中のみ有効である
// ことをテストする
func TestFramesRequiresOpened(t *testing.T) {
	c, connector, _, _ := newTestController(t, nil)

	if _, err := c.Frames(); !errors.Is(err, ErrNotOpened) {
		t.Errorf("期待したエラーではありません: %v", err)
	}

	c.Open()
	connector.FireOpened()
	waitState(t, c, PublicOpen)

	frames, err := c.Frames()
	if err != nil {
		t.Fatalf("フレーム取得に失敗しました: %v", err)
	}
	if frames == nil {
		t.Error("フレームチャンネルがnilです")
	}
}
