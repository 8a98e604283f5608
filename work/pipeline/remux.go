package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"ytgrab-proxy/work/config"
	"ytgrab-proxy/work/logger"
	"ytgrab-proxy/work/metrics"
)

// Remuxer merges a video-only and an audio-only file into one playable
// container. Implementations must honor the context and leave no child
// processes behind on cancellation.
type Remuxer interface {
	Remux(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// FFmpegRemuxer shells out to ffmpeg: video stream copied without
// re-encoding, audio transcoded to AAC for broad compatibility, and the
// container index moved to the front for progressive playback.
type FFmpegRemuxer struct {
	cfg *config.Config
}

func NewFFmpegRemuxer(cfg *config.Config) *FFmpegRemuxer {
	return &FFmpegRemuxer{cfg: cfg}
}

func (r *FFmpegRemuxer) Remux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	// once ffmpeg starts, only the timeout stops it; a caller hanging up
	// mid-merge must not kill the subprocess and corrupt the accounting
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RemuxTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-movflags", "+faststart",
		outputPath,
	}

	if r.cfg.Debug {
		logger.Debug("{remux - Remux} command: %s %s", r.cfg.FFmpegPath, strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, r.cfg.FFmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	// ffmpeg spawns helpers; kill the whole process group so a timeout
	// never leaves orphans behind.
	if cmd.Process != nil {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	if ctx.Err() == context.DeadlineExceeded {
		metrics.RemuxDuration.WithLabelValues("timeout").Observe(elapsed.Seconds())
		return fmt.Errorf("remux timed out after %s", r.cfg.RemuxTimeout)
	}
	if err != nil {
		metrics.RemuxDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
		return fmt.Errorf("remux failed: %w: %s", err, tailOf(stderr.String(), 512))
	}

	metrics.RemuxDuration.WithLabelValues("ok").Observe(elapsed.Seconds())
	return nil
}

// tailOf keeps the end of a diagnostic dump; ffmpeg puts the actual error
// on the last lines.
func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
