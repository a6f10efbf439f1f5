package services

import (
	"reflect"
	"testing"
	"time"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
)

func rec(ts time.Time, count int64) models.UsageRecord {
	return models.UsageRecord{CheckTime: ts, CharacterCount: count, CharacterLimit: 500000}
}

func TestDailyAggregates_MaxPerDate(t *testing.T) {
	day := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	records := []models.UsageRecord{
		rec(day.Add(1*time.Hour), 100),
		rec(day.Add(5*time.Hour), 500),
		rec(day.Add(9*time.Hour), 300),
	}

	got := dailyAggregates(records, time.UTC)

	want := []models.DailyAggregate{{Date: "2024-06-10", MaxUsage: 500, Records: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dailyAggregates() = %+v, want %+v", got, want)
	}
}

func TestDailyAggregates_Idempotent(t *testing.T) {
	day := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	records := []models.UsageRecord{
		rec(day.Add(1*time.Hour), 100),
		rec(day.Add(5*time.Hour), 500),
	}

	first := dailyAggregates(records, time.UTC)
	second := dailyAggregates(records, time.UTC)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same input produced different output: %+v vs %+v", first, second)
	}

	// A later record with a lower count must not move the max.
	records = append(records, rec(day.Add(9*time.Hour), 200))
	got := dailyAggregates(records, time.UTC)
	if got[0].MaxUsage != 500 {
		t.Errorf("max_usage = %d after lower-count record, want 500", got[0].MaxUsage)
	}
	if got[0].Records != 3 {
		t.Errorf("records = %d, want 3", got[0].Records)
	}
}

func TestDailyAggregates_SparseAndSorted(t *testing.T) {
	records := []models.UsageRecord{
		// Out of order on purpose, with a two-day gap.
		rec(time.Date(2024, time.June, 13, 8, 0, 0, 0, time.UTC), 900),
		rec(time.Date(2024, time.June, 10, 8, 0, 0, 0, time.UTC), 100),
		rec(time.Date(2024, time.June, 13, 20, 0, 0, 0, time.UTC), 400),
	}

	got := dailyAggregates(records, time.UTC)

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (no entries for empty dates)", len(got))
	}
	if got[0].Date != "2024-06-10" || got[1].Date != "2024-06-13" {
		t.Errorf("dates = [%s, %s], want ascending [2024-06-10, 2024-06-13]", got[0].Date, got[1].Date)
	}
	if got[1].MaxUsage != 900 {
		t.Errorf("max_usage for 06-13 = %d, want 900", got[1].MaxUsage)
	}
}

func TestDailyAggregates_DisplayTimezoneBoundaries(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 23:30 UTC June 10 is 08:30 June 11 in Tokyo.
	records := []models.UsageRecord{
		rec(time.Date(2024, time.June, 10, 23, 30, 0, 0, time.UTC), 100),
	}

	got := dailyAggregates(records, tokyo)

	if len(got) != 1 || got[0].Date != "2024-06-11" {
		t.Errorf("got %+v, want single entry dated 2024-06-11", got)
	}
}

func TestDailyAggregates_Empty(t *testing.T) {
	got := dailyAggregates(nil, time.UTC)
	if got == nil {
		t.Fatal("want non-nil empty slice")
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestHourlyPoints(t *testing.T) {
	ts := time.Date(2024, time.June, 10, 14, 5, 0, 0, time.UTC)
	records := []models.UsageRecord{
		{CheckTime: ts, CharacterCount: 250000, CharacterLimit: 500000},
	}

	got := hourlyPoints(records, time.UTC)

	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	p := got[0]
	if p.Label != "06-10 14:05" {
		t.Errorf("label = %q, want 06-10 14:05", p.Label)
	}
	if !p.CheckTime.Equal(ts) {
		t.Errorf("check_time = %v, want %v", p.CheckTime, ts)
	}
	if p.UsagePercentage != 50.0 {
		t.Errorf("usage_percentage = %v, want 50", p.UsagePercentage)
	}
}

func TestHourlyPoints_Empty(t *testing.T) {
	got := hourlyPoints(nil, time.UTC)
	if got == nil {
		t.Fatal("want non-nil empty slice for JSON serialization")
	}
}
