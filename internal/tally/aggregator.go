// Package tally accumulates recorded time per video and per hour-of-day.
package tally

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verte-zerg/stampclock/internal/model"
)

// ErrNegativeDuration reports an interval whose end precedes its start.
var ErrNegativeDuration = errors.New("last timestamp precedes first")

// Contribution is the share of a span that falls into one clock hour.
type Contribution struct {
	Hour    int
	Start   int64
	Seconds int64
}

// HourlySplit partitions [first, last) at clock-hour boundaries in loc.
// The contributions sum to last-first; an empty span yields none.
func HourlySplit(first, last int64, loc *time.Location) []Contribution {
	var out []Contribution
	for current := first; current < last; {
		t := time.Unix(current, 0).In(loc)
		intoHour := int64(t.Minute()*60 + t.Second())
		next := current - intoHour + 3600
		end := min(next, last)
		out = append(out, Contribution{Hour: t.Hour(), Start: current, Seconds: end - current})
		current = end
	}
	return out
}

// Aggregator owns per-video intervals and hour-of-day buckets.
// It is safe for concurrent use.
type Aggregator struct {
	mu     sync.Mutex
	loc    *time.Location
	hours  model.HourTotals
	videos map[string][]model.VideoInterval
}

// New returns an empty aggregator that buckets by wall-clock hour in loc.
func New(loc *time.Location) *Aggregator {
	return &Aggregator{
		loc:    loc,
		videos: map[string][]model.VideoInterval{},
	}
}

// Location returns the zone used for bucketing.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// RecordVideoInterval appends an interval to the video's list.
func (a *Aggregator) RecordVideoInterval(videoID string, first, last int64) (model.VideoInterval, error) {
	iv, err := newInterval(videoID, first, last)
	if err != nil {
		return model.VideoInterval{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.videos[videoID] = append(a.videos[videoID], iv)
	return iv, nil
}

// AccumulateHourly adds the span [first, last) to the hour buckets.
func (a *Aggregator) AccumulateHourly(first, last int64) error {
	if last < first {
		return fmt.Errorf("span %d..%d: %w", first, last, ErrNegativeDuration)
	}
	parts := HourlySplit(first, last, a.loc)
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range parts {
		a.hours[p.Hour] += p.Seconds
	}
	return nil
}

// Add records the interval and accumulates its hours in one step.
func (a *Aggregator) Add(videoID string, first, last int64) (model.VideoInterval, error) {
	iv, err := newInterval(videoID, first, last)
	if err != nil {
		return model.VideoInterval{}, err
	}
	parts := HourlySplit(first, last, a.loc)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.videos[videoID] = append(a.videos[videoID], iv)
	for _, p := range parts {
		a.hours[p.Hour] += p.Seconds
	}
	return iv, nil
}

// Merge folds other into a. Bucket sums commute; intervals of other are
// appended after a's own for each video.
func (a *Aggregator) Merge(other *Aggregator) {
	if other == nil || other == a {
		return
	}
	snap := other.Totals()
	a.mu.Lock()
	defer a.mu.Unlock()
	for h, v := range snap.Hours {
		a.hours[h] += v
	}
	for _, id := range sortedKeys(snap.Videos) {
		a.videos[id] = append(a.videos[id], snap.Videos[id]...)
	}
}

// Totals returns a copy of the current aggregate.
func (a *Aggregator) Totals() model.Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := model.Totals{
		Hours:  a.hours,
		Videos: make(map[string][]model.VideoInterval, len(a.videos)),
	}
	for id, ivs := range a.videos {
		out.Videos[id] = append([]model.VideoInterval(nil), ivs...)
		for _, iv := range ivs {
			out.TotalSeconds += iv.DurationSeconds
		}
	}
	return out
}

// VideoIDs returns the recorded video ids in sorted order.
func VideoIDs(t model.Totals) []string {
	return sortedKeys(t.Videos)
}

func newInterval(videoID string, first, last int64) (model.VideoInterval, error) {
	if last < first {
		return model.VideoInterval{}, fmt.Errorf("%s: %d..%d: %w", videoID, first, last, ErrNegativeDuration)
	}
	return model.VideoInterval{
		FirstTimestamp:  first,
		LastTimestamp:   last,
		DurationSeconds: last - first,
	}, nil
}

func sortedKeys(m map[string][]model.VideoInterval) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
