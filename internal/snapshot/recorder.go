package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"renzu/internal/camera"
)

// captureWait は1カメラ分のキャプチャ応答待ちの上限
const captureWait = 15 * time.Second

// Config はスナップショット記録の設定
type Config struct {
	Interval      time.Duration `mapstructure:"interval"`       // 撮影間隔
	OutputDir     string        `mapstructure:"output_dir"`     // 保存先ディレクトリ
	RetentionDays int           `mapstructure:"retention_days"` // 保持期間（日数）
}

// Source は撮影対象カメラの一覧を提供する
// camera.Manager が実装する
type Source interface {
	Cameras() []camera.CameraInfo
	Get(id string) (*camera.Controller, bool)
}

// Info は保存済みスナップショットの情報
type Info struct {
	CameraID  string    `json:"camera_id"`
	FilePath  string    `json:"file_path"`
	FileSize  int64     `json:"file_size"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder は登録済みカメラの定期スナップショット保存を管理する
type Recorder struct {
	logger *zap.Logger
	source Source
	config Config

	// 制御用
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu          sync.RWMutex
	lastCapture time.Time
	started     bool
}

// NewRecorder は新しい Recorder を作成する
func NewRecorder(logger *zap.Logger, source Source, config Config) *Recorder {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 7
	}

	return &Recorder{
		logger: logger,
		source: source,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start はスナップショット記録を開始する
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("レコーダーは既に開始されています")
	}

	if err := os.MkdirAll(r.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}

	r.wg.Add(1)
	go r.captureLoop(ctx)

	r.wg.Add(1)
	go r.cleanupLoop(ctx)

	r.started = true
	r.logger.Info("スナップショット記録を開始しました",
		zap.Duration("interval", r.config.Interval),
		zap.String("dir", r.config.OutputDir))
	return nil
}

// Stop はスナップショット記録を停止する
func (r *Recorder) Stop(ctx context.Context) error {
	close(r.stopCh)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("スナップショット記録を停止しました")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("スナップショット記録の停止待ちを中断しました: %w", ctx.Err())
	}
}

// captureLoop は定期的に全カメラのスナップショットを撮影する
func (r *Recorder) captureLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.captureAll(ctx)
		}
	}
}

// captureAll はオープン中の全カメラから1枚ずつ撮影する
func (r *Recorder) captureAll(ctx context.Context) {
	for _, info := range r.source.Cameras() {
		// オープンされていないカメラはスキップ
		if info.State != camera.PublicOpen {
			continue
		}

		controller, found := r.source.Get(info.ID)
		if !found {
			continue
		}

		if err := r.captureOne(ctx, controller); err != nil {
			r.logger.Warn("スナップショットの撮影に失敗しました",
				zap.String("camera", info.ID),
				zap.Error(err))
		}
	}

	r.mu.Lock()
	r.lastCapture = time.Now()
	r.mu.Unlock()
}

// captureResult はキャプチャのコールバック結果
type captureResult struct {
	frame []byte
	err   error
}

// captureWaiter はコールバックをチャンネルへ橋渡しする
type captureWaiter struct {
	resultCh chan captureResult
}

func (w *captureWaiter) OnCaptureCompleted(_ string, frame []byte) {
	w.resultCh <- captureResult{frame: frame}
}

func (w *captureWaiter) OnCaptureFailed(_ string, err error) {
	w.resultCh <- captureResult{err: err}
}

// captureOne は1カメラ分のスナップショットを撮影して保存する
func (r *Recorder) captureOne(ctx context.Context, controller *camera.Controller) error {
	waiter := &captureWaiter{resultCh: make(chan captureResult, 1)}
	controller.Capture(waiter)

	select {
	case result := <-waiter.resultCh:
		if result.err != nil {
			return result.err
		}
		return r.save(controller.ID(), result.frame)
	case <-time.After(captureWait):
		return fmt.Errorf("キャプチャ応答がタイムアウトしました")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// save はスナップショットをカメラ別ディレクトリへ書き込む
func (r *Recorder) save(cameraID string, frame []byte) error {
	dir := filepath.Join(r.config.OutputDir, cameraID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("ディレクトリの作成に失敗: %w", err)
	}

	filename := fmt.Sprintf("snapshot_%s.jpg", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, frame, 0644); err != nil {
		return fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}

	return nil
}

// cleanupLoop は日次で古いスナップショットを削除する
func (r *Recorder) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	// 起動直後にも1回掃除する
	if err := r.cleanup(); err != nil {
		r.logger.Warn("スナップショットの掃除に失敗しました", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.cleanup(); err != nil {
				r.logger.Warn("スナップショットの掃除に失敗しました", zap.Error(err))
			}
		}
	}
}

// cleanup は保持期間を超えたスナップショットを削除する
func (r *Recorder) cleanup() error {
	cutoff := time.Now().AddDate(0, 0, -r.config.RetentionDays)

	snapshots, err := r.List("")
	if err != nil {
		return err
	}

	removed := 0
	for _, snap := range snapshots {
		if snap.Timestamp.Before(cutoff) {
			if err := os.Remove(snap.FilePath); err != nil {
				r.logger.Warn("スナップショットの削除に失敗しました",
					zap.String("path", snap.FilePath),
					zap.Error(err))
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("古いスナップショットを削除しました", zap.Int("count", removed))
	}
	return nil
}

// List は保存済みスナップショットの一覧を新しい順で返す
// cameraID が空の場合は全カメラ分を返す
func (r *Recorder) List(cameraID string) ([]Info, error) {
	entries, err := os.ReadDir(r.config.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ディレクトリの読み取りに失敗: %w", err)
	}

	var snapshots []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if cameraID != "" && entry.Name() != cameraID {
			continue
		}

		dir := filepath.Join(r.config.OutputDir, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".jpg") {
				continue
			}

			info, err := file.Info()
			if err != nil {
				continue
			}

			snapshots = append(snapshots, Info{
				CameraID:  entry.Name(),
				FilePath:  filepath.Join(dir, file.Name()),
				FileSize:  info.Size(),
				Timestamp: info.ModTime(),
			})
		}
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// LastCapture は最後の撮影サイクルの時刻を返す
func (r *Recorder) LastCapture() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastCapture
}
