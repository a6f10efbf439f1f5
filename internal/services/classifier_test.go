package services

import (
	"testing"
	"time"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
)

func i64(v int64) *int64 { return &v }

func proKey(billingEnd time.Time) *models.ApiKey {
	return &models.ApiKey{
		ID:      1,
		ApiType: models.ApiTypePro,
		Billing: &models.BillingWindow{
			Start: billingEnd.Add(-30 * 24 * time.Hour),
			End:   billingEnd,
		},
	}
}

func TestClassify_PrecedenceOrder(t *testing.T) {
	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(30 * 24 * time.Hour)

	tests := []struct {
		name string
		key  *models.ApiKey
		rec  *models.UsageRecord
		want models.Status
	}{
		{
			name: "expired pro key wins even at low usage",
			key:  proKey(past),
			rec:  &models.UsageRecord{CharacterCount: 100, CharacterLimit: 10000},
			want: models.StatusExpired,
		},
		{
			name: "expired pro key wins over exhausted",
			key:  proKey(past),
			rec:  &models.UsageRecord{CharacterCount: 10000, CharacterLimit: 10000},
			want: models.StatusExpired,
		},
		{
			name: "never checked",
			key:  &models.ApiKey{ApiType: models.ApiTypeStandard},
			rec:  nil,
			want: models.StatusUnchecked,
		},
		{
			name: "zero limit counts as unchecked",
			key:  &models.ApiKey{ApiType: models.ApiTypeStandard},
			rec:  &models.UsageRecord{CharacterCount: 0, CharacterLimit: 0},
			want: models.StatusUnchecked,
		},
		{
			name: "exactly 99 percent is exhausted",
			key:  &models.ApiKey{ApiType: models.ApiTypeStandard},
			rec:  &models.UsageRecord{CharacterCount: 9900, CharacterLimit: 10000},
			want: models.StatusExhausted,
		},
		{
			name: "exactly 90 percent is near-exhausted",
			key:  &models.ApiKey{ApiType: models.ApiTypeStandard},
			rec:  &models.UsageRecord{CharacterCount: 9000, CharacterLimit: 10000},
			want: models.StatusNearExhausted,
		},
		{
			name: "below 90 percent is normal",
			key:  &models.ApiKey{ApiType: models.ApiTypeStandard},
			rec:  &models.UsageRecord{CharacterCount: 8999, CharacterLimit: 10000},
			want: models.StatusNormal,
		},
		{
			name: "pro key inside billing window classifies by usage",
			key:  proKey(future),
			rec:  &models.UsageRecord{CharacterCount: 100, CharacterLimit: 10000},
			want: models.StatusNormal,
		},
		{
			name: "pro key without billing window is never expired",
			key:  &models.ApiKey{ApiType: models.ApiTypePro},
			rec:  &models.UsageRecord{CharacterCount: 100, CharacterLimit: 10000},
			want: models.StatusNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.key, tt.rec, now); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEffectiveCounts_SubQuotaPrecedence(t *testing.T) {
	rec := &models.UsageRecord{
		CharacterCount:       500000,
		CharacterLimit:       1000000,
		APIKeyCharacterCount: i64(100),
		APIKeyCharacterLimit: i64(10000),
	}

	count, limit := EffectiveCounts(models.ApiTypePro, rec)
	if count != 100 || limit != 10000 {
		t.Errorf("pro key should use sub-quota, got %d/%d", count, limit)
	}

	// Standard keys ignore the sub-quota fields even when present.
	count, limit = EffectiveCounts(models.ApiTypeStandard, rec)
	if count != 500000 || limit != 1000000 {
		t.Errorf("standard key should use account quota, got %d/%d", count, limit)
	}

	// Pro key with sub-count but no sub-limit: limit falls to zero.
	rec.APIKeyCharacterLimit = nil
	count, limit = EffectiveCounts(models.ApiTypePro, rec)
	if count != 100 || limit != 0 {
		t.Errorf("missing sub-limit should yield 0, got %d/%d", count, limit)
	}
}

func TestUsagePercentage(t *testing.T) {
	tests := []struct {
		count, limit int64
		want         float64
	}{
		{0, 0, 0},
		{100, 0, 0},
		{0, 10000, 0},
		{9900, 10000, 99.0},
		{10000, 10000, 100.0},
		{5000, 10000, 50.0},
	}

	for _, tt := range tests {
		if got := UsagePercentage(tt.count, tt.limit); got != tt.want {
			t.Errorf("UsagePercentage(%d, %d) = %v, want %v", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestUsagePercentage_BoundedWhenLimitPositive(t *testing.T) {
	for _, c := range []int64{0, 1, 4999, 9999, 10000} {
		pct := UsagePercentage(c, 10000)
		if pct < 0 || pct > 100 {
			t.Errorf("UsagePercentage(%d, 10000) = %v, outside [0,100]", c, pct)
		}
	}
}

func TestSeverityTier(t *testing.T) {
	tests := []struct {
		pct  float64
		want models.Severity
	}{
		{0, models.SeverityLow},
		{49.9, models.SeverityLow},
		{50, models.SeverityMedium},
		{79.9, models.SeverityMedium},
		{80, models.SeverityHigh},
		{99, models.SeverityHigh},
		{100, models.SeverityHigh},
	}

	for _, tt := range tests {
		if got := SeverityTier(tt.pct); got != tt.want {
			t.Errorf("SeverityTier(%v) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}

func TestActiveCount_LiteralThresholdRule(t *testing.T) {
	summaries := []models.KeySummary{
		{UsagePercentage: 99.0, Status: models.StatusExhausted},
		{UsagePercentage: 50.0, Status: models.StatusNormal},
		// Expired pro key at 1% still counts as active: expiry and
		// exhaustion are orthogonal signals in the summary.
		{UsagePercentage: 1.0, Status: models.StatusExpired, IsExpired: true},
		{UsagePercentage: 0, Status: models.StatusUnchecked},
	}

	if got := ActiveCount(summaries); got != 3 {
		t.Errorf("ActiveCount() = %d, want 3", got)
	}
}

func TestSummarize_UncheckedKey(t *testing.T) {
	now := time.Now()
	key := &models.ApiKey{ID: 7, Name: "k1", GroupID: 3, ApiType: models.ApiTypeStandard}

	s := Summarize(key, "default", nil, now)

	if s.Status != models.StatusUnchecked {
		t.Errorf("status = %s, want unchecked", s.Status)
	}
	if s.UsagePercentage != 0 {
		t.Errorf("usage_percentage = %v, want 0", s.UsagePercentage)
	}
	if s.CharacterCount != 0 || s.CharacterLimit != 0 {
		t.Errorf("counts = %d/%d, want 0/0", s.CharacterCount, s.CharacterLimit)
	}
	if s.GroupName != "default" {
		t.Errorf("group_name = %q, want default", s.GroupName)
	}
}

func TestSummarize_ExpiredProKeyKeepsRawPercentage(t *testing.T) {
	now := time.Now()
	key := proKey(now.Add(-time.Hour))
	rec := &models.UsageRecord{CharacterCount: 100, CharacterLimit: 10000}

	s := Summarize(key, "g", rec, now)

	if s.Status != models.StatusExpired {
		t.Errorf("status = %s, want expired", s.Status)
	}
	if !s.IsExpired {
		t.Error("IsExpired should be true")
	}
	if s.UsagePercentage != 1.0 {
		t.Errorf("usage_percentage = %v, want 1.0", s.UsagePercentage)
	}
	if s.BillingEndTime == nil {
		t.Fatal("billing_end_time should be set")
	}
}
