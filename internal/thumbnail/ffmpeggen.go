package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os/exec"

	"catalogizer/internal/fs"
)

// FfmpegGenerator implements Generator by asking the ffmpeg binary for a
// single frame a few seconds into the clip, the external pixel source
// spec §1 keeps out of scope. Only local file:// mrls are supported;
// other schemes are rejected.
type FfmpegGenerator struct {
	binary     string
	seekOffset string
}

// NewFfmpegGenerator constructs an FfmpegGenerator, grabbing a frame
// seekOffset into the clip (ffmpeg -ss syntax, e.g. "00:00:05").
func NewFfmpegGenerator(binary, seekOffset string) *FfmpegGenerator {
	if binary == "" {
		binary = "ffmpeg"
	}
	if seekOffset == "" {
		seekOffset = "00:00:05"
	}
	return &FfmpegGenerator{binary: binary, seekOffset: seekOffset}
}

// Frame extracts one JPEG frame from mrl's local path and decodes it.
func (g *FfmpegGenerator) Frame(ctx context.Context, mrl string) (image.Image, error) {
	parsed, err := fs.ParseMrl(mrl)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg frame: %w", err)
	}
	if parsed.Scheme != "file" {
		return nil, fmt.Errorf("ffmpeg frame: unsupported scheme %q", parsed.Scheme)
	}

	cmd := exec.CommandContext(ctx, g.binary,
		"-v", "error",
		"-ss", g.seekOffset,
		"-i", "/"+parsed.Path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame for %q: %w", parsed.Path, err)
	}

	img, _, err := image.Decode(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("decode ffmpeg frame for %q: %w", parsed.Path, err)
	}
	return img, nil
}
