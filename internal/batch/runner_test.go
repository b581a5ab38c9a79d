package batch

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verte-zerg/stampclock/internal/tally"
)

var errNoFrames = errors.New("no frames")

type stampedFrame struct {
	*image.Gray
	ts  int64
	bad bool
}

func frame(ts int64) stampedFrame {
	return stampedFrame{Gray: image.NewGray(image.Rect(0, 0, 1, 1)), ts: ts}
}

type clip struct {
	first, last stampedFrame
	err         error
	block       bool
}

type fakeSource struct {
	clips   map[string]clip
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeSource) FirstAndLast(ctx context.Context, path string) (image.Image, image.Image, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	c, ok := f.clips[path]
	if !ok {
		return nil, nil, errNoFrames
	}
	if c.block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	time.Sleep(2 * time.Millisecond)
	if c.err != nil {
		return nil, nil, c.err
	}
	return c.first, c.last, nil
}

type fakeParser struct{}

func (fakeParser) Parse(_ context.Context, img image.Image) (int64, error) {
	f := img.(stampedFrame)
	if f.bad {
		return 0, errors.New("digits do not match format")
	}
	return f.ts, nil
}

func TestRunRecordsEveryVideo(t *testing.T) {
	src := &fakeSource{clips: map[string]clip{
		"/v/a.mp4": {first: frame(1000), last: frame(1100)},
		"/v/b.mp4": {first: frame(5000), last: frame(5050)},
		"/w/c.mp4": {first: frame(9000), last: frame(9000)},
	}}
	agg := tally.New(time.UTC)
	r := New(src, fakeParser{}, agg, nil, Options{Workers: 2})
	sum := r.Run(context.Background(), []string{"/v/a.mp4", "/v/b.mp4", "/w/c.mp4"})
	if sum.Processed != 3 || len(sum.Skipped) != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	totals := agg.Totals()
	if totals.TotalSeconds != 150 {
		t.Fatalf("expected 150 seconds, got %d", totals.TotalSeconds)
	}
	if totals.VideoTotal("a.mp4") != 100 || totals.VideoTotal("b.mp4") != 50 {
		t.Fatalf("unexpected per-video totals: %+v", totals.Videos)
	}
	if _, ok := totals.Videos["c.mp4"]; !ok {
		t.Fatalf("zero-length video must still be recorded")
	}
}

func TestRunSkipsFailuresAndContinues(t *testing.T) {
	src := &fakeSource{clips: map[string]clip{
		"good.mp4":     {first: frame(0), last: frame(60)},
		"broken.mp4":   {err: errNoFrames},
		"garbled.mp4":  {first: frame(0), last: stampedFrame{Gray: image.NewGray(image.Rect(0, 0, 1, 1)), bad: true}},
		"backward.mp4": {first: frame(500), last: frame(100)},
	}}
	agg := tally.New(time.UTC)
	r := New(src, fakeParser{}, agg, nil, Options{Workers: 1})
	sum := r.Run(context.Background(), []string{"broken.mp4", "good.mp4", "garbled.mp4", "backward.mp4"})
	if sum.Processed != 1 {
		t.Fatalf("expected 1 processed, got %d", sum.Processed)
	}
	if len(sum.Skipped) != 3 {
		t.Fatalf("expected 3 skips, got %+v", sum.Skipped)
	}
	order := []string{"backward.mp4", "broken.mp4", "garbled.mp4"}
	for i, want := range order {
		if sum.Skipped[i].Video != want {
			t.Fatalf("skip %d: expected %s, got %s", i, want, sum.Skipped[i].Video)
		}
	}
	if !strings.Contains(sum.Skipped[0].Reason, tally.ErrNegativeDuration.Error()) {
		t.Fatalf("unexpected reason: %s", sum.Skipped[0].Reason)
	}
	if !strings.Contains(sum.Skipped[2].Reason, "last frame") {
		t.Fatalf("unexpected reason: %s", sum.Skipped[2].Reason)
	}
	if got := agg.Totals().TotalSeconds; got != 60 {
		t.Fatalf("expected only the good video to count, got %d", got)
	}
}

func TestRunTimesOutSlowVideo(t *testing.T) {
	src := &fakeSource{clips: map[string]clip{
		"stuck.mp4": {block: true},
		"fine.mp4":  {first: frame(0), last: frame(10)},
	}}
	r := New(src, fakeParser{}, tally.New(time.UTC), nil, Options{Workers: 2, Timeout: 20 * time.Millisecond})
	sum := r.Run(context.Background(), []string{"stuck.mp4", "fine.mp4"})
	if sum.Processed != 1 || len(sum.Skipped) != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if !strings.Contains(sum.Skipped[0].Reason, "timed out") {
		t.Fatalf("expected timeout reason, got %q", sum.Skipped[0].Reason)
	}
}

func TestRunStreamsResults(t *testing.T) {
	clips := map[string]clip{}
	var paths []string
	for i := 0; i < 8; i++ {
		p := string(rune('a'+i)) + ".mp4"
		clips[p] = clip{first: frame(int64(i) * 100), last: frame(int64(i)*100 + 30)}
		paths = append(paths, p)
	}
	src := &fakeSource{clips: clips}
	var mu sync.Mutex
	seen := map[string]int64{}
	r := New(src, fakeParser{}, tally.New(time.UTC), nil, Options{
		Workers: 3,
		OnResult: func(res Result) {
			mu.Lock()
			defer mu.Unlock()
			if res.Err != nil {
				t.Errorf("unexpected error for %s: %v", res.Video, res.Err)
			}
			seen[res.Video] = res.Interval.DurationSeconds
		},
	})
	sum := r.Run(context.Background(), paths)
	if sum.Processed != 8 || len(seen) != 8 {
		t.Fatalf("expected 8 streamed results, got %d (summary %+v)", len(seen), sum)
	}
	for id, d := range seen {
		if d != 30 {
			t.Fatalf("%s: expected 30, got %d", id, d)
		}
	}
	if m := src.maxSeen.Load(); m > 3 {
		t.Fatalf("expected at most 3 concurrent videos, saw %d", m)
	}
}

func TestRunCancelledContext(t *testing.T) {
	src := &fakeSource{clips: map[string]clip{"a.mp4": {first: frame(0), last: frame(1)}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := New(src, fakeParser{}, tally.New(time.UTC), nil, Options{}).Run(ctx, []string{"a.mp4"})
	if sum.Processed != 0 || len(sum.Skipped) != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if !strings.Contains(sum.Skipped[0].Reason, "not started") {
		t.Fatalf("unexpected reason %q", sum.Skipped[0].Reason)
	}
}

func TestVideoID(t *testing.T) {
	if got := VideoID("/data/rec/cam1.mp4"); got != "cam1.mp4" {
		t.Fatalf("expected cam1.mp4, got %s", got)
	}
}
