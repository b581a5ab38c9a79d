package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/verte-zerg/stampclock/internal/model"
	"github.com/verte-zerg/stampclock/internal/tally"
)

// RunHeaderLines summarizes a stored run.
func RunHeaderLines(run model.Run, now time.Time) []string {
	lines := []string{
		"Run " + run.ID,
		fmt.Sprintf("Started:   %s (%s)", run.StartedAt.Format(time.DateTime), humanize.RelTime(run.StartedAt, now, "ago", "from now")),
		fmt.Sprintf("Took:      %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)),
		"Sources:   " + strings.Join(run.Sources, ", "),
		"Time zone: " + run.TimeZone,
		fmt.Sprintf("Videos:    %s processed, %s skipped", humanize.Comma(int64(run.Processed)), humanize.Comma(int64(len(run.Skipped)))),
		fmt.Sprintf("Recorded:  %s (%s seconds)", FormatClock(run.Totals.TotalSeconds), humanize.Comma(run.Totals.TotalSeconds)),
	}
	return lines
}

var videoColumns = []column{
	{title: "Video"},
	{title: "#", right: true},
	{title: "Start"},
	{title: "End"},
	{title: "Seconds", right: true},
}

// VideoTableLines lists every interval of every video.
func VideoTableLines(totals model.Totals, loc *time.Location) []string {
	var rows [][]string
	for _, id := range tally.VideoIDs(totals) {
		for i, iv := range totals.Videos[id] {
			rows = append(rows, []string{
				id,
				strconv.Itoa(i + 1),
				FormatTimestamp(iv.FirstTimestamp, loc),
				FormatTimestamp(iv.LastTimestamp, loc),
				strconv.FormatInt(iv.DurationSeconds, 10),
			})
		}
	}
	if len(rows) == 0 {
		return []string{"No videos recorded."}
	}
	return alignRows(videoColumns, rows)
}

// SkipLines lists skipped videos with their reasons.
func SkipLines(skips []model.Skip) []string {
	lines := make([]string, 0, len(skips))
	for _, s := range skips {
		lines = append(lines, fmt.Sprintf("%s: %s", s.Video, s.Reason))
	}
	return lines
}

// RenderRun writes a full report of a stored run.
func RenderRun(w io.Writer, run model.Run, loc *time.Location, barWidth int, forceColor bool) error {
	sections := [][]string{
		RunHeaderLines(run, time.Now()),
		VideoTableLines(run.Totals, loc),
		HourTableLines(run.Totals.Hours),
		HourBarLines(run.Totals.Hours, barWidth, shouldUseColor(w, forceColor)),
	}
	if len(run.Skipped) > 0 {
		sections = append(sections, append([]string{"Skipped:"}, SkipLines(run.Skipped)...))
	}
	for i, section := range sections {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
		}
		for _, line := range section {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
		}
	}
	return nil
}
