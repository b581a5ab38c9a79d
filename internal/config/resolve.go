package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/verte-zerg/stampclock/internal/logging"
	"github.com/verte-zerg/stampclock/internal/model"
)

// Defaults for optional keys.
const (
	DefaultBackend      = model.BackendONNX
	DefaultExtension    = ".mp4"
	DefaultWorkers      = 1
	DefaultVideoTimeout = 2 * time.Minute
	DefaultFFmpegPath   = "ffmpeg"
	DefaultLogLevel     = "info"
)

// layoutEpsilon absorbs rounding in hand-written fractions such as 13/14 + 1/14.
const layoutEpsilon = 1e-6

// FieldError reports an invalid or missing configuration value.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Resolve applies defaults and validates fc. Nothing is processed with an
// invalid config, so every problem is reported against the key that caused it.
func Resolve(fc FileConfig) (model.Config, error) {
	cfg := model.Config{
		Backend:      DefaultBackend,
		Extension:    DefaultExtension,
		Workers:      DefaultWorkers,
		VideoTimeout: DefaultVideoTimeout,
		FFmpegPath:   DefaultFFmpegPath,
		LogLevel:     DefaultLogLevel,
	}

	if fc.Backend != nil {
		cfg.Backend = model.Backend(strings.ToLower(strings.TrimSpace(*fc.Backend)))
	}
	switch cfg.Backend {
	case model.BackendONNX:
		if fc.ModelPath == nil || strings.TrimSpace(*fc.ModelPath) == "" {
			return model.Config{}, fieldErr("model_path", "required for the onnx backend")
		}
	case model.BackendTemplate:
	default:
		return model.Config{}, fieldErr("backend", "must be %q or %q, got %q", model.BackendONNX, model.BackendTemplate, cfg.Backend)
	}
	cfg.ModelPath = deref(fc.ModelPath)
	cfg.TemplatesDir = deref(fc.TemplatesDir)
	cfg.ONNXRuntimeLib = deref(fc.ONNXRuntimeLib)

	if fc.InputWidth != nil {
		if *fc.InputWidth < 0 {
			return model.Config{}, fieldErr("input_width", "must be >= 0")
		}
		cfg.InputWidth = *fc.InputWidth
	}
	if fc.InputHeight != nil {
		if *fc.InputHeight < 0 {
			return model.Config{}, fieldErr("input_height", "must be >= 0")
		}
		cfg.InputHeight = *fc.InputHeight
	}

	box, err := resolveBox(fc.PlateBBox)
	if err != nil {
		return model.Config{}, err
	}
	cfg.Plate = box

	if len(fc.DigitPositions) == 0 {
		return model.Config{}, fieldErr("digit_positions", "required")
	}
	if fc.DigitWidth == nil {
		return model.Config{}, fieldErr("digit_width", "required")
	}
	if *fc.DigitWidth <= 0 || *fc.DigitWidth > 1 {
		return model.Config{}, fieldErr("digit_width", "must be in (0, 1], got %g", *fc.DigitWidth)
	}
	cfg.DigitWidth = *fc.DigitWidth

	for i, p := range fc.DigitPositions {
		if p < 0 || p >= 1 {
			return model.Config{}, fieldErr("digit_positions", "value %d (%g) must be in [0, 1)", i, p)
		}
		if p+cfg.DigitWidth > 1+layoutEpsilon {
			return model.Config{}, fieldErr("digit_positions", "digit %d at %g with width %g runs past the plate", i, p, cfg.DigitWidth)
		}
	}
	cfg.DigitPositions = append([]float64(nil), fc.DigitPositions...)

	if fc.DateFormat == nil || *fc.DateFormat == "" {
		return model.Config{}, fieldErr("date_format", "required")
	}
	cfg.DateFormat = *fc.DateFormat

	if fc.Timezone == nil || strings.TrimSpace(*fc.Timezone) == "" {
		return model.Config{}, fieldErr("timezone", "required (IANA name such as \"Europe/Moscow\", or \"Local\")")
	}
	loc, err := time.LoadLocation(strings.TrimSpace(*fc.Timezone))
	if err != nil {
		return model.Config{}, fieldErr("timezone", "%v", err)
	}
	cfg.Location = loc

	if fc.Extension != nil {
		ext := strings.TrimSpace(*fc.Extension)
		if ext == "" || ext == "." {
			return model.Config{}, fieldErr("extension", "must not be empty")
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Extension = ext
	}
	if fc.Workers != nil {
		if *fc.Workers < 1 {
			return model.Config{}, fieldErr("workers", "must be >= 1")
		}
		cfg.Workers = *fc.Workers
	}
	if fc.VideoTimeout != nil {
		d, err := time.ParseDuration(strings.TrimSpace(*fc.VideoTimeout))
		if err != nil {
			return model.Config{}, fieldErr("video_timeout", "%v", err)
		}
		if d <= 0 {
			return model.Config{}, fieldErr("video_timeout", "must be > 0")
		}
		cfg.VideoTimeout = d
	}
	if fc.FFmpegPath != nil && strings.TrimSpace(*fc.FFmpegPath) != "" {
		cfg.FFmpegPath = strings.TrimSpace(*fc.FFmpegPath)
	}
	if fc.LogLevel != nil {
		if _, err := logging.ParseLevel(*fc.LogLevel); err != nil {
			return model.Config{}, fieldErr("log_level", "%v", err)
		}
		cfg.LogLevel = *fc.LogLevel
	}
	return cfg, nil
}

func resolveBox(values []float64) (model.Box, error) {
	if len(values) != 4 {
		return model.Box{}, fieldErr("plate_bbox_relative", "expected 4 values (top, left, bottom, right), got %d", len(values))
	}
	for i, v := range values {
		if v < 0 || v > 1 {
			return model.Box{}, fieldErr("plate_bbox_relative", "value %d (%g) must be between 0 and 1", i, v)
		}
	}
	box := model.Box{Top: values[0], Left: values[1], Bottom: values[2], Right: values[3]}
	if box.Bottom <= box.Top || box.Right <= box.Left {
		return model.Box{}, fieldErr("plate_bbox_relative", "region is empty")
	}
	return box, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
