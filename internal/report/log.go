package report

import (
	"fmt"
	"time"

	"github.com/ncruces/go-strftime"
	"go.uber.org/zap"

	"github.com/verte-zerg/stampclock/internal/model"
	"github.com/verte-zerg/stampclock/internal/tally"
)

// TimeFormat is the strftime layout for interval bounds.
const TimeFormat = "%Y-%m-%d %H:%M:%S"

// FormatTimestamp renders epoch seconds in loc using TimeFormat.
func FormatTimestamp(ts int64, loc *time.Location) string {
	return strftime.Format(TimeFormat, time.Unix(ts, 0).In(loc))
}

// LogVideos writes every recorded interval grouped by video, sorted by name,
// followed by per-video totals and the grand total.
func LogVideos(logger *zap.Logger, totals model.Totals, loc *time.Location) {
	for _, id := range tally.VideoIDs(totals) {
		logger.Info(fmt.Sprintf("Timestamps for '%s':", id))
		for i, iv := range totals.Videos[id] {
			logger.Info(fmt.Sprintf("Interval %d:", i+1))
			logger.Info("  - Start: " + FormatTimestamp(iv.FirstTimestamp, loc))
			logger.Info("  - End: " + FormatTimestamp(iv.LastTimestamp, loc))
			logger.Info(fmt.Sprintf("  - Duration (seconds): %d", iv.DurationSeconds))
		}
		logger.Info(fmt.Sprintf("Total Duration for '%s': %d seconds", id, totals.VideoTotal(id)))
	}
	logger.Info(fmt.Sprintf("Total Duration for all videos: %d seconds", totals.TotalSeconds))
}

// LogHours writes one line per hour of day.
func LogHours(logger *zap.Logger, hours model.HourTotals) {
	for h, secs := range hours {
		logger.Info(fmt.Sprintf("Total time in hour %02d: %d seconds", h, secs))
	}
}

// LogSkips warns about every video left out of a run.
func LogSkips(logger *zap.Logger, skips []model.Skip) {
	for _, s := range skips {
		logger.Warn(fmt.Sprintf("Skipped '%s': %s", s.Video, s.Reason))
	}
}
