package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Metadata holds what Probe can derive from raw bytes.
type Metadata struct {
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Probe inspects the bytes and returns dimensions for images and
// dimensions plus duration for video/audio, branching on the MIME
// prefix.
func Probe(ctx context.Context, data []byte, mimeType string) (Metadata, error) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return Metadata{}, fmt.Errorf("decode image config: %w", err)
		}
		return Metadata{Width: cfg.Width, Height: cfg.Height}, nil
	case strings.HasPrefix(mimeType, "video/"), strings.HasPrefix(mimeType, "audio/"):
		return probeAV(ctx, data)
	default:
		return Metadata{}, fmt.Errorf("unsupported mime type %q", mimeType)
	}
}

func probeAV(ctx context.Context, data []byte) (Metadata, error) {
	tmpDir, err := os.MkdirTemp("", "probe")
	if err != nil {
		return Metadata{}, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	src := filepath.Join(tmpDir, "source")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return Metadata{}, fmt.Errorf("write source: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1",
		src,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Metadata{}, fmt.Errorf("ffprobe failed: %w: %s", err, truncate(string(output), 512))
	}

	var meta Metadata
	for _, line := range strings.Split(string(output), "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "width":
			if w, err := strconv.Atoi(parts[1]); err == nil {
				meta.Width = w
			}
		case "height":
			if h, err := strconv.Atoi(parts[1]); err == nil {
				meta.Height = h
			}
		case "duration":
			if d, err := strconv.ParseFloat(parts[1], 64); err == nil {
				meta.Duration = d
			}
		}
	}
	return meta, nil
}
