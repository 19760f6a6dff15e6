package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// v4l2Capturer はffmpeg経由でV4L2デバイスから画像を取得する
type v4l2Capturer struct {
	device   string
	settings Settings
}

// newV4L2Capturer は新しい v4l2Capturer を作成する
func newV4L2Capturer(device string, settings Settings) *v4l2Capturer {
	return &v4l2Capturer{
		device:   device,
		settings: settings,
	}
}

// CaptureJPEG は1フレームをキャプチャしてJPEGバイト列として返す
func (c *v4l2Capturer) CaptureJPEG(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.settings.Width, c.settings.Height),
		"-i", c.device,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2",
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("JPEGフレームキャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// Stream は連続キャプチャを開始し、フレームをチャンネルへ送る
// コンテキストのキャンセルで停止する
func (c *v4l2Capturer) Stream(ctx context.Context, frames chan<- []byte, errs chan<- error) error {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.settings.Width, c.settings.Height),
		"-r", strconv.Itoa(c.settings.FPS),
		"-i", c.device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	go func() {
		defer func() {
			_ = cmd.Wait() // コンテキストキャンセル時のエラーは無視
		}()

		buf := make([]byte, 1024*1024)
		var pending bytes.Buffer

		for {
			n, err := stdout.Read(buf)
			if err != nil {
				select {
				case errs <- fmt.Errorf("フレーム読み取りエラー: %w", err):
				case <-ctx.Done():
				}
				return
			}

			pending.Write(buf[:n])

			for {
				frame, rest, ok := splitJPEGFrame(pending.Bytes())
				if !ok {
					break
				}

				select {
				case frames <- frame:
				case <-ctx.Done():
					return
				}

				pending.Reset()
				pending.Write(rest)
			}
		}
	}()

	return nil
}

// splitJPEGFrame はバイト列から完全なJPEGフレームを1つ切り出す
// 開始マーカー（FF D8）と終了マーカー（FF D9）で区切る
func splitJPEGFrame(data []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(data, []byte{0xFF, 0xD8})
	if start < 0 {
		return nil, nil, false
	}

	end := bytes.Index(data[start+2:], []byte{0xFF, 0xD9})
	if end < 0 {
		return nil, nil, false
	}
	end += start + 2 + 2 // マーカー自体を含める

	frame = make([]byte, end-start)
	copy(frame, data[start:end])

	rest = make([]byte, len(data)-end)
	copy(rest, data[end:])

	return frame, rest, true
}
