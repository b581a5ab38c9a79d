// Package config loads scan settings from TOML or JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the configuration file. Pointer and slice fields stay
// nil when the key is absent so flags and defaults can fill them.
type FileConfig struct {
	ModelPath      *string   `toml:"model_path" json:"model_path"`
	PlateBBox      []float64 `toml:"plate_bbox_relative" json:"plate_bbox_relative"`
	DigitPositions []float64 `toml:"digit_positions" json:"digit_positions"`
	DigitWidth     *float64  `toml:"digit_width" json:"digit_width"`
	DateFormat     *string   `toml:"date_format" json:"date_format"`
	Timezone       *string   `toml:"timezone" json:"timezone"`

	Backend        *string `toml:"backend" json:"backend"`
	TemplatesDir   *string `toml:"templates_dir" json:"templates_dir"`
	ONNXRuntimeLib *string `toml:"onnxruntime_lib" json:"onnxruntime_lib"`
	InputWidth     *int    `toml:"input_width" json:"input_width"`
	InputHeight    *int    `toml:"input_height" json:"input_height"`

	Extension    *string `toml:"extension" json:"extension"`
	Workers      *int    `toml:"workers" json:"workers"`
	VideoTimeout *string `toml:"video_timeout" json:"video_timeout"`
	FFmpegPath   *string `toml:"ffmpeg_path" json:"ffmpeg_path"`
	LogLevel     *string `toml:"log_level" json:"log_level"`
}

// LoadConfig reads a config from the given path. Files ending in .json are
// decoded as JSON, everything else as TOML. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to read config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return decodeJSON(data)
	}
	return decodeTOML(data)
}

func decodeTOML(data []byte) (FileConfig, error) {
	var cfg FileConfig
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, &FieldError{Field: undecoded[0].String(), Reason: "unknown key"}
	}
	return cfg, nil
}

func decodeJSON(data []byte) (FileConfig, error) {
	var cfg FileConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
