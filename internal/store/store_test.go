package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/stampclock/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "nested", "stampclock.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func sampleRun(id string, started time.Time) model.Run {
	var hours model.HourTotals
	hours[23] = 600
	hours[0] = 650
	return model.Run{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(2500 * time.Millisecond),
		Sources:    []string{"/rec/cam1", "/rec/cam 2"},
		TimeZone:   "Europe/Moscow",
		Processed:  2,
		Skipped: []model.Skip{
			{Video: "bad.mp4", Reason: "frame unavailable"},
			{Video: "late.mp4", Reason: "timed out after 2m0s"},
		},
		Totals: model.Totals{
			Hours: hours,
			Videos: map[string][]model.VideoInterval{
				"a.mp4": {
					{FirstTimestamp: 500, LastTimestamp: 600, DurationSeconds: 100},
					{FirstTimestamp: 100, LastTimestamp: 150, DurationSeconds: 50},
				},
				"b.mp4": {{FirstTimestamp: 1000, LastTimestamp: 2100, DurationSeconds: 1100}},
			},
			TotalSeconds: 1250,
		},
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	started := time.Date(2024, time.June, 19, 10, 0, 0, 123456789, time.FixedZone("MSK", 3*3600))
	want := sampleRun("run-a", started)

	id, err := st.SaveRun(ctx, want)
	if err != nil {
		t.Fatalf("save run: %v", err)
	}
	if id != "run-a" {
		t.Fatalf("expected id run-a, got %s", id)
	}

	got, err := st.LoadRun(ctx, id)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if !got.StartedAt.Equal(want.StartedAt) || !got.FinishedAt.Equal(want.FinishedAt) {
		t.Fatalf("times differ: %v/%v vs %v/%v", got.StartedAt, got.FinishedAt, want.StartedAt, want.FinishedAt)
	}
	if len(got.Sources) != 2 || got.Sources[1] != "/rec/cam 2" {
		t.Fatalf("unexpected sources: %v", got.Sources)
	}
	if got.TimeZone != want.TimeZone || got.Processed != 2 {
		t.Fatalf("unexpected run fields: %+v", got)
	}
	if got.Totals.Hours != want.Totals.Hours {
		t.Fatalf("hours differ: %v vs %v", got.Totals.Hours, want.Totals.Hours)
	}
	if got.Totals.TotalSeconds != 1250 {
		t.Fatalf("expected total 1250, got %d", got.Totals.TotalSeconds)
	}
	a := got.Totals.Videos["a.mp4"]
	if len(a) != 2 || a[0].FirstTimestamp != 500 || a[1].FirstTimestamp != 100 {
		t.Fatalf("interval order not preserved: %+v", a)
	}
	if got.Totals.VideoTotal("b.mp4") != 1100 {
		t.Fatalf("unexpected b.mp4 total: %+v", got.Totals.Videos["b.mp4"])
	}
	if len(got.Skipped) != 2 || got.Skipped[0].Video != "bad.mp4" || got.Skipped[1].Reason != "timed out after 2m0s" {
		t.Fatalf("unexpected skips: %+v", got.Skipped)
	}
}

func TestSaveRunGeneratesID(t *testing.T) {
	st := openStore(t)
	id, err := st.SaveRun(context.Background(), sampleRun("", time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("save run: %v", err)
	}
	if len(id) != 36 {
		t.Fatalf("expected a UUID, got %q", id)
	}
}

func TestSaveRunDuplicateRollsBack(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	run := sampleRun("dup", time.Unix(0, 0))
	if _, err := st.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}
	run.Skipped = append(run.Skipped, model.Skip{Video: "extra.mp4", Reason: "x"})
	if _, err := st.SaveRun(ctx, run); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	got, err := st.LoadRun(ctx, "dup")
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if len(got.Skipped) != 2 {
		t.Fatalf("failed save must not leave rows behind, got %d skips", len(got.Skipped))
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{"r1", "r2", "r3"}
	for i, id := range ids {
		// r2 carries a fractional second to check text ordering
		started := base.Add(time.Duration(i) * time.Hour)
		if id == "r2" {
			started = started.Add(500 * time.Millisecond)
		}
		if _, err := st.SaveRun(ctx, sampleRun(id, started)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	runs, err := st.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "r3" || runs[1].ID != "r2" || runs[2].ID != "r1" {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if runs[0].SkippedCount != 2 || runs[0].TotalSeconds != 1250 || runs[0].Processed != 2 {
		t.Fatalf("unexpected summary: %+v", runs[0])
	}

	limited, err := st.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(limited))
	}

	latest, err := st.LatestRunID(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != "r3" {
		t.Fatalf("expected r3, got %s", latest)
	}
}

func TestEmptyStore(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	if _, err := st.LatestRunID(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := st.LoadRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	runs, err := st.ListRuns(ctx, 10)
	if err != nil || len(runs) != 0 {
		t.Fatalf("expected no runs, got %v, %v", runs, err)
	}
}

func TestResolveID(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"abc-1", "abd-2", "x_1"} {
		if _, err := st.SaveRun(ctx, sampleRun(id, time.Unix(0, 0))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if got, err := st.ResolveID(ctx, "abc"); err != nil || got != "abc-1" {
		t.Fatalf("expected abc-1, got %q, %v", got, err)
	}
	if _, err := st.ResolveID(ctx, "ab"); err == nil {
		t.Fatalf("expected ambiguity error")
	}
	if _, err := st.ResolveID(ctx, "x%"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("wildcards must be literal, got %v", err)
	}
	if got, err := st.ResolveID(ctx, "x_"); err != nil || got != "x_1" {
		t.Fatalf("expected x_1, got %q, %v", got, err)
	}
}
