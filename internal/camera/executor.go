package camera

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SerialExecutor はカメラ識別子ごとに1本のタスクキューを提供する
// 全ての公開操作とハードウェアコールバックはここへ投入されてから
// 状態に触れるため、状態遷移は実質シングルスレッドで実行され、
// InternalState を守るロックは不要になる
type SerialExecutor struct {
	tasks  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewSerialExecutor は新しい SerialExecutor を作成し、消費ゴルーチンを開始する
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		tasks:  make(chan func(), 64),
		stopCh: make(chan struct{}),
	}

	e.wg.Add(1)
	go e.run()

	return e
}

// run はタスクを順番に実行する
func (e *SerialExecutor) run() {
	defer e.wg.Done()

	for {
		select {
		case task := <-e.tasks:
			task()
		case <-e.stopCh:
			// 停止時は残タスクを破棄する
			return
		}
	}
}

// Submit はタスクをキューへ投入する
// 停止済みの場合はエラーを返す
func (e *SerialExecutor) Submit(task func()) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("エグゼキュータは停止しています")
	}
	e.mu.Unlock()

	select {
	case e.tasks <- task:
		return nil
	case <-e.stopCh:
		return fmt.Errorf("エグゼキュータは停止しています")
	}
}

// ScheduledTask は遅延実行タスクのハンドル
// キャンセルはベストエフォート: タイマー発火後でも実行直前の
// フラグ確認によりタスク本体の実行は抑止される
type ScheduledTask struct {
	cancelled atomic.Bool
	timer     *time.Timer
}

// Cancel はタスクの実行を取り消す
func (t *ScheduledTask) Cancel() {
	t.cancelled.Store(true)
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Cancelled はタスクが取り消されているか返す
func (t *ScheduledTask) Cancelled() bool {
	return t.cancelled.Load()
}

// SubmitDelayed は指定時間後にタスクをキューへ投入する
// 返されたハンドルで取り消せる。フラグはタイマー発火時と
// キュー上での実行時の2箇所で確認される
func (e *SerialExecutor) SubmitDelayed(delay time.Duration, task func()) *ScheduledTask {
	st := &ScheduledTask{}

	st.timer = time.AfterFunc(delay, func() {
		if st.cancelled.Load() {
			return
		}
		// キュー上で実行される時点での再確認
		_ = e.Submit(func() {
			if st.cancelled.Load() {
				return
			}
			task()
		})
	})

	return st
}

// Stop はエグゼキュータを停止する
// 実行中のタスクの完了を待ってから戻る
func (e *SerialExecutor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
}
