package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/verte-zerg/stampclock/internal/model"
)

func sampleTotals() model.Totals {
	var hours model.HourTotals
	hours[0] = 100
	hours[1] = 50
	return model.Totals{
		Hours: hours,
		Videos: map[string][]model.VideoInterval{
			"b.mp4": {{FirstTimestamp: 5000, LastTimestamp: 5050, DurationSeconds: 50}},
			"a.mp4": {{FirstTimestamp: 1000, LastTimestamp: 1100, DurationSeconds: 100}},
		},
		TotalSeconds: 150,
	}
}

func messages(logs *observer.ObservedLogs) []string {
	var out []string
	for _, entry := range logs.All() {
		out = append(out, entry.Message)
	}
	return out
}

func TestAlignRowsPadsByDisplayWidth(t *testing.T) {
	cols := []column{{title: "Video"}, {title: "Seconds", right: true}}
	lines := alignRows(cols, [][]string{{"a.mp4", "100"}, {"long-name.mp4", "5"}})
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "Video"+strings.Repeat(" ", 10)+"Seconds" {
		t.Fatalf("unexpected header line: %q", lines[0])
	}
	if lines[1] != "a.mp4"+strings.Repeat(" ", 14)+"100" {
		t.Fatalf("unexpected row line: %q", lines[1])
	}
	if lines[2] != "long-name.mp4"+strings.Repeat(" ", 8)+"5" {
		t.Fatalf("unexpected row line: %q", lines[2])
	}
}

func TestAlignRowsWideRunes(t *testing.T) {
	lines := alignRows([]column{{title: "Name"}, {title: "N"}}, [][]string{{"日本.mp4", "1"}})
	if lines[0] != "Name      N" {
		t.Fatalf("unexpected header line: %q", lines[0])
	}
	if lines[1] != "日本.mp4  1" {
		t.Fatalf("unexpected row line: %q", lines[1])
	}
}

func TestAlignRowsShortRow(t *testing.T) {
	lines := alignRows([]column{{title: "A"}, {title: "Bee"}}, [][]string{{"x"}})
	if lines[1] != "x" {
		t.Fatalf("expected trailing blanks trimmed, got %q", lines[1])
	}
}

func TestLogVideos(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	LogVideos(zap.New(core), sampleTotals(), time.UTC)
	want := []string{
		"Timestamps for 'a.mp4':",
		"Interval 1:",
		"  - Start: 1970-01-01 00:16:40",
		"  - End: 1970-01-01 00:18:20",
		"  - Duration (seconds): 100",
		"Total Duration for 'a.mp4': 100 seconds",
		"Timestamps for 'b.mp4':",
		"Interval 1:",
		"  - Start: 1970-01-01 01:23:20",
		"  - End: 1970-01-01 01:24:10",
		"  - Duration (seconds): 50",
		"Total Duration for 'b.mp4': 50 seconds",
		"Total Duration for all videos: 150 seconds",
	}
	got := messages(logs)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected log lines:\n%s", strings.Join(got, "\n"))
	}
}

func TestLogVideosUsesZone(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	LogVideos(zap.New(core), sampleTotals(), time.FixedZone("UTC+3", 3*3600))
	if got := messages(logs)[2]; got != "  - Start: 1970-01-01 03:16:40" {
		t.Fatalf("unexpected start line: %q", got)
	}
}

func TestLogHours(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	LogHours(zap.New(core), sampleTotals().Hours)
	got := messages(logs)
	if len(got) != 24 {
		t.Fatalf("expected 24 lines, got %d", len(got))
	}
	if got[0] != "Total time in hour 00: 100 seconds" || got[23] != "Total time in hour 23: 0 seconds" {
		t.Fatalf("unexpected lines: %q, %q", got[0], got[23])
	}
}

func TestLogSkipsWarns(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	LogSkips(zap.New(core), []model.Skip{{Video: "x.mp4", Reason: "frame unavailable"}})
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warning, got %+v", entries)
	}
}

func TestHourTableLines(t *testing.T) {
	var hours model.HourTotals
	hours[23] = 600
	hours[0] = 600
	lines := HourTableLines(hours)
	if len(lines) != 26 {
		t.Fatalf("expected 26 lines, got %d", len(lines))
	}
	if got := strings.Join(strings.Fields(lines[1]), " "); got != "00 600 00:10:00 50.0%" {
		t.Fatalf("unexpected hour 00 row: %q", got)
	}
	if got := strings.Join(strings.Fields(lines[2]), " "); got != "01 0 00:00:00 0.0%" {
		t.Fatalf("unexpected hour 01 row: %q", got)
	}
	if got := strings.Join(strings.Fields(lines[25]), " "); got != "total 1200 00:20:00 100.0%" {
		t.Fatalf("unexpected total row: %q", got)
	}
}

func TestRenderHourTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderHourTable(&buf, model.HourTotals{}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), "0.0%") {
		t.Fatalf("expected zero shares, got %q", buf.String())
	}
}

func TestHourBarLinesScale(t *testing.T) {
	var hours model.HourTotals
	hours[5] = 3600
	hours[6] = 1800
	hours[7] = 1
	lines := HourBarLines(hours, 16, false)
	if len(lines) != 24 {
		t.Fatalf("expected 24 lines, got %d", len(lines))
	}
	if strings.Count(lines[5], "█") != 16 {
		t.Fatalf("peak hour should fill the width: %q", lines[5])
	}
	if strings.Count(lines[6], "█") != 8 {
		t.Fatalf("half hour should fill half the width: %q", lines[6])
	}
	if !strings.Contains(lines[7], "▏") {
		t.Fatalf("tiny value should still show a sliver: %q", lines[7])
	}
	if lines[0] != "00"+axisSeparator+" 00:00:00" {
		t.Fatalf("empty hour should have no bar: %q", lines[0])
	}
}

func TestRenderHourBarsColor(t *testing.T) {
	var hours model.HourTotals
	hours[9] = 60

	var plain bytes.Buffer
	if err := RenderHourBars(&plain, hours, 20, false); err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(plain.String(), "\x1b[") {
		t.Fatalf("non-terminal output should not be colored")
	}

	var forced bytes.Buffer
	t.Setenv("NO_COLOR", "")
	if err := RenderHourBars(&forced, hours, 20, true); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(forced.String(), barColor) {
		t.Fatalf("forced output should be colored")
	}

	var disabled bytes.Buffer
	t.Setenv("NO_COLOR", "1")
	if err := RenderHourBars(&disabled, hours, 20, true); err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(disabled.String(), "\x1b[") {
		t.Fatalf("NO_COLOR should disable color")
	}
}

func TestBarWidthFor(t *testing.T) {
	overhead := 2 + runewidth.StringWidth(axisSeparator) + 1 + 8
	if got := BarWidthFor(80); got != 80-overhead {
		t.Fatalf("expected %d, got %d", 80-overhead, got)
	}
	if got := BarWidthFor(0); got != minBarWidth {
		t.Fatalf("expected min width %d, got %d", minBarWidth, got)
	}
	if got := BarWidthFor(12); got != minBarWidth {
		t.Fatalf("expected min width %d, got %d", minBarWidth, got)
	}
}

func TestFormatClock(t *testing.T) {
	cases := map[int64]string{0: "00:00:00", 3661: "01:01:01", 90000: "25:00:00", -61: "-00:01:01"}
	for in, want := range cases {
		if got := FormatClock(in); got != want {
			t.Fatalf("FormatClock(%d): expected %s, got %s", in, want, got)
		}
	}
}

func TestRenderRun(t *testing.T) {
	started := time.Date(2024, time.June, 19, 10, 0, 0, 0, time.UTC)
	run := model.Run{
		ID:         "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Sources:    []string{"/rec"},
		TimeZone:   "UTC",
		Processed:  2,
		Skipped:    []model.Skip{{Video: "c.mp4", Reason: "frame unavailable"}},
		Totals:     sampleTotals(),
	}
	var buf bytes.Buffer
	if err := RenderRun(&buf, run, time.UTC, 20, false); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Run run-1", "Took:      1.5s", "2 processed, 1 skipped", "00:02:30 (150 seconds)", "1970-01-01 00:16:40", "Skipped:", "c.mp4: frame unavailable"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in report:\n%s", want, out)
		}
	}
}

func TestVideoTableLinesEmpty(t *testing.T) {
	lines := VideoTableLines(model.Totals{}, time.UTC)
	if len(lines) != 1 || lines[0] != "No videos recorded." {
		t.Fatalf("unexpected lines: %v", lines)
	}
}
