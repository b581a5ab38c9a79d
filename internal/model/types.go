// Package model defines shared data structures.
package model

import "time"

// HoursPerDay is the number of hour-of-day buckets.
const HoursPerDay = 24

// Box is a relative rectangle expressed as fractions of the frame size.
type Box struct {
	Top    float64
	Left   float64
	Bottom float64
	Right  float64
}

// Backend names the digit inference backend.
type Backend string

// Known backends.
const (
	BackendONNX     Backend = "onnx"
	BackendTemplate Backend = "template"
)

// Config defines validated settings for a scan.
type Config struct {
	Backend        Backend
	ModelPath      string
	TemplatesDir   string
	ONNXRuntimeLib string
	InputWidth     int
	InputHeight    int

	Plate          Box
	DigitPositions []float64
	DigitWidth     float64
	DateFormat     string
	Location       *time.Location

	Extension    string
	Workers      int
	VideoTimeout time.Duration
	FFmpegPath   string
	LogLevel     string
}

// VideoInterval is the span between the first and last frame timestamps of a video.
type VideoInterval struct {
	FirstTimestamp  int64
	LastTimestamp   int64
	DurationSeconds int64
}

// HourTotals holds elapsed seconds per hour-of-day.
type HourTotals [HoursPerDay]int64

// Sum returns the total seconds across all buckets.
func (h HourTotals) Sum() int64 {
	var total int64
	for _, v := range h {
		total += v
	}
	return total
}

// Totals is a snapshot of an aggregate.
type Totals struct {
	Hours        HourTotals
	Videos       map[string][]VideoInterval
	TotalSeconds int64
}

// VideoTotal returns the summed duration of a video's intervals.
func (t Totals) VideoTotal(video string) int64 {
	var total int64
	for _, iv := range t.Videos[video] {
		total += iv.DurationSeconds
	}
	return total
}

// Skip records a video that was dropped from a run.
type Skip struct {
	Video  string
	Reason string
}

// Run summarizes one scan.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []string
	TimeZone   string
	Processed  int
	Skipped    []Skip
	Totals     Totals
}

// RunSummary is a lightweight listing row for stored runs.
type RunSummary struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Sources      []string
	TimeZone     string
	Processed    int
	SkippedCount int
	TotalSeconds int64
}
