// Package video lists recordings and pulls frames out of them with ffmpeg.
package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// ErrFrameUnavailable reports a video whose first or last frame could not be read.
var ErrFrameUnavailable = errors.New("frame unavailable")

const (
	defaultBinary = "ffmpeg"
	stderrLines   = 8
	// lastFrameWindow is how far before the end ffmpeg starts decoding when
	// looking for the last frame, in seconds.
	lastFrameWindow = "-1"
)

// List returns the files in dirs whose extension matches ext, sorted by path.
func List(dirs []string, ext string) ([]string, error) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	var paths []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("video directory does not exist: %s", dir)
			}
			return nil, fmt.Errorf("failed to read video directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if strings.ToLower(filepath.Ext(entry.Name())) != ext {
				continue
			}
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// FFmpeg decodes frames by running the ffmpeg binary.
type FFmpeg struct {
	Binary string
}

// NewFFmpeg returns an accessor using binary, or "ffmpeg" from PATH.
func NewFFmpeg(binary string) *FFmpeg {
	if binary == "" {
		binary = defaultBinary
	}
	return &FFmpeg{Binary: binary}
}

// FirstAndLast returns the first and the last decodable frame of path.
func (f *FFmpeg) FirstAndLast(ctx context.Context, path string) (image.Image, image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("open %s: %w: %w", path, ErrFrameUnavailable, err)
	}
	first, err := f.decode(ctx, firstFrameArgs(path))
	if err != nil {
		return nil, nil, fmt.Errorf("first frame of %s: %w", path, err)
	}
	last, err := f.decode(ctx, lastFrameArgs(path))
	if err != nil {
		return nil, nil, fmt.Errorf("last frame of %s: %w", path, err)
	}
	return first, last, nil
}

func baseArgs() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
}

func firstFrameArgs(path string) []string {
	args := baseArgs()
	return append(args,
		"-i", path,
		"-frames:v", "1",
		"-an",
		"-f", "image2pipe",
		"-c:v", "png",
		"pipe:1",
	)
}

// lastFrameArgs seeks close to the end and emits every remaining frame; the
// caller keeps the final one.
func lastFrameArgs(path string) []string {
	args := baseArgs()
	return append(args,
		"-sseof", lastFrameWindow,
		"-i", path,
		"-an",
		"-f", "image2pipe",
		"-c:v", "png",
		"pipe:1",
	)
}

func (f *FFmpeg) decode(ctx context.Context, args []string) (image.Image, error) {
	cmd := exec.CommandContext(ctx, f.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	img, decodeErr := LastPNG(stdout)
	if decodeErr != nil {
		// Drain so ffmpeg can exit instead of blocking on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %w", ErrFrameUnavailable, ctx.Err())
	case waitErr != nil:
		return nil, fmt.Errorf("%w: ffmpeg: %w%s", ErrFrameUnavailable, waitErr, tail(stderr.String()))
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: %w%s", ErrFrameUnavailable, decodeErr, tail(stderr.String()))
	}
	return img, nil
}

// LastPNG decodes a stream of concatenated PNG images and returns the last one.
func LastPNG(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	var last image.Image
	for {
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		img, err := png.Decode(br)
		if err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		last = img
	}
	if last == nil {
		return nil, errors.New("no frames decoded")
	}
	return last, nil
}

func tail(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return ""
	}
	if len(lines) > stderrLines {
		lines = lines[len(lines)-stderrLines:]
	}
	return ": " + strings.Join(lines, " | ")
}
