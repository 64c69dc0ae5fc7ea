package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// frameOffsetFraction picks the snapshot point as a fraction of the
// video's duration. Early enough to be cheap, late enough to skip
// black intro frames.
const frameOffsetFraction = 0.05

// VideoFrame extracts a single frame near the start of the video,
// scaled to fit the size box, encoded as JPEG. Requires ffmpeg and
// ffprobe on PATH.
func VideoFrame(ctx context.Context, data []byte, size Size) ([]byte, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "videoframe")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	src := filepath.Join(tmpDir, "source")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	duration, err := probeDuration(ctx, src)
	if err != nil {
		return nil, err
	}
	seek := duration * frameOffsetFraction

	out := filepath.Join(tmpDir, "frame.jpg")
	args := []string{
		"-ss", strconv.FormatFloat(seek, 'f', 2, 64),
		"-i", src,
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", size.Width, size.Height),
		"-frames:v", "1",
		"-pix_fmt", "yuvj420p",
		"-q:v", "2",
		"-y",
		out,
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, truncate(string(output), 512))
	}

	frame, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return frame, nil
}

func probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, truncate(string(output), 512))
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	return duration, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
