package services

import (
	"time"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
)

// EffectiveCounts picks the counters a key is judged by. Pro keys with a
// reported sub-quota use the per-key figures; everything else uses the
// account-level figures. A nil record means the key was never successfully
// checked and yields zeros.
func EffectiveCounts(apiType models.ApiType, rec *models.UsageRecord) (count, limit int64) {
	if rec == nil {
		return 0, 0
	}
	if apiType == models.ApiTypePro && rec.APIKeyCharacterCount != nil {
		count = *rec.APIKeyCharacterCount
		if rec.APIKeyCharacterLimit != nil {
			limit = *rec.APIKeyCharacterLimit
		}
		return count, limit
	}
	return rec.CharacterCount, rec.CharacterLimit
}

// UsagePercentage is count/limit*100, or 0 when the limit is not positive.
func UsagePercentage(count, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(count) / float64(limit) * 100
}

// IsExpired reports whether a pro key's billing window has closed. Computed
// from the clock every time, never stored.
func IsExpired(key *models.ApiKey, now time.Time) bool {
	if key.ApiType != models.ApiTypePro || key.Billing == nil {
		return false
	}
	return now.After(key.Billing.End)
}

// Classify maps a key and its latest usage record to a status. Rules are
// evaluated in order, first match wins:
//
//	1. pro key past its billing end        -> expired
//	2. character_limit == 0 (never checked) -> unchecked
//	3. usage >= 99%                         -> exhausted
//	4. usage >= 90%                         -> near-exhausted
//	5. otherwise                            -> normal
func Classify(key *models.ApiKey, rec *models.UsageRecord, now time.Time) models.Status {
	if IsExpired(key, now) {
		return models.StatusExpired
	}

	count, limit := EffectiveCounts(key.ApiType, rec)
	if limit == 0 {
		return models.StatusUnchecked
	}

	pct := UsagePercentage(count, limit)
	switch {
	case pct >= 99:
		return models.StatusExhausted
	case pct >= 90:
		return models.StatusNearExhausted
	default:
		return models.StatusNormal
	}
}

// SeverityTier maps a usage percentage to the progress-bar tier. Independent
// of the five-state status.
func SeverityTier(pct float64) models.Severity {
	switch {
	case pct >= 80:
		return models.SeverityHigh
	case pct >= 50:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// ActiveCount tallies keys under the 99% threshold. This is deliberately the
// raw percentage rule: expired or unchecked keys below 99% still count, since
// expiry and exhaustion are reported as orthogonal signals in the summary.
func ActiveCount(summaries []models.KeySummary) int {
	n := 0
	for _, s := range summaries {
		if s.UsagePercentage < 99 {
			n++
		}
	}
	return n
}

// Summarize builds one dashboard row for a key from its latest record.
func Summarize(key *models.ApiKey, groupName string, rec *models.UsageRecord, now time.Time) models.KeySummary {
	count, limit := EffectiveCounts(key.ApiType, rec)
	pct := UsagePercentage(count, limit)

	summary := models.KeySummary{
		KeyID:           key.ID,
		KeyName:         key.Name,
		GroupID:         key.GroupID,
		GroupName:       groupName,
		SecretHint:      key.SecretHint,
		ApiType:         key.ApiType,
		CharacterCount:  count,
		CharacterLimit:  limit,
		UsagePercentage: pct,
		Status:          Classify(key, rec, now),
		Severity:        SeverityTier(pct),
		IsExpired:       IsExpired(key, now),
		LastCheck:       key.LastCheck,
	}
	if key.Billing != nil {
		end := key.Billing.End
		summary.BillingEndTime = &end
	}
	return summary
}
