// Package batch runs timestamp extraction over a set of videos.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/stampclock/internal/model"
	"github.com/verte-zerg/stampclock/internal/tally"
)

// FrameSource returns the first and last frame of a video.
type FrameSource interface {
	FirstAndLast(ctx context.Context, path string) (image.Image, image.Image, error)
}

// TimestampReader converts a frame to epoch seconds.
type TimestampReader interface {
	Parse(ctx context.Context, frame image.Image) (int64, error)
}

// Result is the outcome for one video. Err is nil when the interval was recorded.
type Result struct {
	Video    string
	Path     string
	Interval model.VideoInterval
	Err      error
}

// Options tunes a Runner.
type Options struct {
	Workers  int
	Timeout  time.Duration
	OnResult func(Result)
}

// Summary counts the outcomes of a run.
type Summary struct {
	Processed int
	Skipped   []model.Skip
}

// Runner feeds videos through the parser into an aggregator.
type Runner struct {
	src    FrameSource
	parser TimestampReader
	agg    *tally.Aggregator
	log    *zap.Logger
	opts   Options

	mu      sync.Mutex
	summary Summary
}

// New returns a runner. A nil logger discards output.
func New(src FrameSource, parser TimestampReader, agg *tally.Aggregator, logger *zap.Logger, opts Options) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{src: src, parser: parser, agg: agg, log: logger, opts: opts}
}

// VideoID names a video by its file name.
func VideoID(path string) string {
	return filepath.Base(path)
}

// Run processes paths and returns once every video was recorded or skipped.
// A failing video never stops the others.
func (r *Runner) Run(ctx context.Context, paths []string) Summary {
	r.mu.Lock()
	r.summary = Summary{}
	r.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for _, path := range paths {
		g.Go(func() error {
			r.finish(r.process(ctx, path))
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.summary
	out.Skipped = append([]model.Skip(nil), r.summary.Skipped...)
	sort.SliceStable(out.Skipped, func(i, j int) bool {
		return out.Skipped[i].Video < out.Skipped[j].Video
	})
	return out
}

func (r *Runner) process(ctx context.Context, path string) Result {
	res := Result{Video: VideoID(path), Path: path}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("not started: %w", err)
		return res
	}
	vctx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	iv, err := r.extract(vctx, res.Video, path)
	if err != nil {
		if errors.Is(vctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", r.opts.Timeout, err)
		}
		res.Err = err
		return res
	}
	res.Interval = iv
	r.log.Debug("video processed",
		zap.String("video", res.Video),
		zap.Int64("first", iv.FirstTimestamp),
		zap.Int64("last", iv.LastTimestamp),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

func (r *Runner) extract(ctx context.Context, id, path string) (model.VideoInterval, error) {
	first, last, err := r.src.FirstAndLast(ctx, path)
	if err != nil {
		return model.VideoInterval{}, err
	}
	firstTs, err := r.parser.Parse(ctx, first)
	if err != nil {
		return model.VideoInterval{}, fmt.Errorf("first frame: %w", err)
	}
	lastTs, err := r.parser.Parse(ctx, last)
	if err != nil {
		return model.VideoInterval{}, fmt.Errorf("last frame: %w", err)
	}
	return r.agg.Add(id, firstTs, lastTs)
}

func (r *Runner) finish(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Err != nil {
		r.log.Warn("skipping video", zap.String("video", res.Path), zap.Error(res.Err))
		r.summary.Skipped = append(r.summary.Skipped, model.Skip{Video: res.Video, Reason: res.Err.Error()})
	} else {
		r.summary.Processed++
	}
	if r.opts.OnResult != nil {
		r.opts.OnResult(res)
	}
}
