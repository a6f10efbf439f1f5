package services

import (
	"context"
	"sort"
	"time"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
)

// Aggregator derives chart-ready series from raw usage records. Rollups are
// computed on read; the records remain the only source of truth.
type Aggregator struct {
	store *UsageStore
	loc   *time.Location
}

func NewAggregator(store *UsageStore, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, loc: loc}
}

// Hourly returns the key's raw records within the trailing window, oldest
// first, each tagged with its display-timezone label. An empty window yields
// an empty (non-nil) series, not an error.
func (a *Aggregator) Hourly(ctx context.Context, keyID int64, windowHours int) ([]models.HourlyPoint, error) {
	if windowHours <= 0 {
		windowHours = 24
	}

	since := time.Now().Add(-time.Duration(windowHours) * time.Hour)
	records, err := a.store.Window(ctx, keyID, since)
	if err != nil {
		return nil, err
	}

	return hourlyPoints(records, a.loc), nil
}

// Daily groups the key's records within the trailing window by calendar date
// in the display timezone and keeps the maximum character_count per date.
// Dates with no records are omitted; callers handle sparse series.
func (a *Aggregator) Daily(ctx context.Context, keyID int64, windowDays int) ([]models.DailyAggregate, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	since := time.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	records, err := a.store.Window(ctx, keyID, since)
	if err != nil {
		return nil, err
	}

	return dailyAggregates(records, a.loc), nil
}

func hourlyPoints(records []models.UsageRecord, loc *time.Location) []models.HourlyPoint {
	points := make([]models.HourlyPoint, 0, len(records))
	for _, rec := range records {
		local := rec.CheckTime.In(loc)
		points = append(points, models.HourlyPoint{
			Label:           local.Format("01-02 15:04"),
			CheckTime:       rec.CheckTime,
			CharacterCount:  rec.CharacterCount,
			CharacterLimit:  rec.CharacterLimit,
			UsagePercentage: UsagePercentage(rec.CharacterCount, rec.CharacterLimit),
		})
	}
	return points
}

func dailyAggregates(records []models.UsageRecord, loc *time.Location) []models.DailyAggregate {
	byDate := make(map[string]*models.DailyAggregate)
	for _, rec := range records {
		date := rec.CheckTime.In(loc).Format("2006-01-02")
		agg, ok := byDate[date]
		if !ok {
			byDate[date] = &models.DailyAggregate{
				Date:     date,
				MaxUsage: rec.CharacterCount,
				Records:  1,
			}
			continue
		}
		if rec.CharacterCount > agg.MaxUsage {
			agg.MaxUsage = rec.CharacterCount
		}
		agg.Records++
	}

	out := make([]models.DailyAggregate, 0, len(byDate))
	for _, agg := range byDate {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
