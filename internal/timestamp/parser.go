// Package timestamp reads the burned-in date and time from a video frame.
package timestamp

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/verte-zerg/stampclock/internal/model"
	"github.com/verte-zerg/stampclock/internal/plate"
)

// ParseError reports a digit string that does not satisfy the date format.
type ParseError struct {
	Digits string
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("digits %q do not match %q: %v", e.Digits, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DigitReader predicts one digit per crop.
type DigitReader interface {
	Classify(ctx context.Context, crops []image.Image) ([]int, error)
}

// Parser converts frames to epoch seconds.
type Parser struct {
	box        model.Box
	positions  []float64
	digitWidth float64
	format     string
	layout     string
	loc        *time.Location
	reader     DigitReader
}

// New validates the date format against the digit layout.
func New(cfg model.Config, reader DigitReader) (*Parser, error) {
	if cfg.Location == nil {
		return nil, errors.New("time zone is required")
	}
	if reader == nil {
		return nil, errors.New("digit reader is required")
	}
	layout, err := strftime.Layout(cfg.DateFormat)
	if err != nil {
		return nil, fmt.Errorf("date format %q: %w", cfg.DateFormat, err)
	}
	sample := time.Date(2024, time.December, 28, 23, 59, 58, 0, time.UTC).Format(layout)
	if strings.Trim(sample, "0123456789") != "" {
		return nil, fmt.Errorf("date format %q must consist of numeric fields only", cfg.DateFormat)
	}
	if len(sample) != len(cfg.DigitPositions) {
		return nil, fmt.Errorf("date format %q needs %d digits, %d positions configured", cfg.DateFormat, len(sample), len(cfg.DigitPositions))
	}
	return &Parser{
		box:        cfg.Plate,
		positions:  append([]float64(nil), cfg.DigitPositions...),
		digitWidth: cfg.DigitWidth,
		format:     cfg.DateFormat,
		layout:     layout,
		loc:        cfg.Location,
		reader:     reader,
	}, nil
}

// Digits returns the digit string rendered on the frame's plate.
func (p *Parser) Digits(ctx context.Context, frame image.Image) (string, error) {
	region, err := plate.Locate(frame, p.box)
	if err != nil {
		return "", err
	}
	crops, err := plate.Segment(region, p.positions, p.digitWidth)
	if err != nil {
		return "", err
	}
	digits, err := p.reader.Classify(ctx, crops)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(digits))
	for _, d := range digits {
		if d < 0 || d > 9 {
			return "", fmt.Errorf("digit out of range: %d", d)
		}
		b.WriteByte(byte('0' + d))
	}
	return b.String(), nil
}

// Parse returns the frame's timestamp as epoch seconds.
func (p *Parser) Parse(ctx context.Context, frame image.Image) (int64, error) {
	digits, err := p.Digits(ctx, frame)
	if err != nil {
		return 0, err
	}
	return p.ParseDigits(digits)
}

// ParseDigits interprets a digit string in the configured format and zone.
func (p *Parser) ParseDigits(digits string) (int64, error) {
	t, err := time.ParseInLocation(p.layout, digits, p.loc)
	if err != nil {
		return 0, &ParseError{Digits: digits, Format: p.format, Err: err}
	}
	return t.Unix(), nil
}
