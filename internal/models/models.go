package models

import (
	"time"
)

// ApiType distinguishes the two DeepL key tiers. Standard keys carry the
// ":fx" suffix and report only account-level quota; pro keys additionally
// report a per-key sub-quota and a billing period.
type ApiType string

const (
	ApiTypeStandard ApiType = "standard"
	ApiTypePro      ApiType = "pro"
)

// Status classifies a key's health from its latest usage snapshot.
type Status string

const (
	StatusExpired       Status = "expired"
	StatusUnchecked     Status = "unchecked"
	StatusExhausted     Status = "exhausted"
	StatusNearExhausted Status = "near-exhausted"
	StatusNormal        Status = "normal"
)

// Severity is the progress-bar tier, independent of Status.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Group is a named collection of API keys polled on a shared interval.
type Group struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	QueryInterval int       `json:"query_interval"` // seconds
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	KeyCount      int       `json:"api_keys_count"`
}

// BillingWindow is the pro-tier validity period reported by the provider.
type BillingWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ApiKey is a monitored DeepL credential. Billing is non-nil only for pro
// keys, so classification code branches on ApiType rather than probing
// individual nullable fields.
type ApiKey struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Secret     string         `json:"secret,omitempty"` // decrypted, details view only
	SecretHint string         `json:"secret_hint"`
	ApiType    ApiType        `json:"api_type"`
	GroupID    int64          `json:"group_id"`
	CreatedAt  time.Time      `json:"created_at"`
	LastCheck  *time.Time     `json:"last_check"`
	Billing    *BillingWindow `json:"billing,omitempty"`
}

// UsageRecord is an immutable time-series sample of a key's quota state.
// The api_key_* pair is the pro-tier sub-quota, present only when the
// provider reported one.
type UsageRecord struct {
	ID                   int64     `json:"id"`
	KeyID                int64     `json:"api_key_id"`
	CheckTime            time.Time `json:"check_time"`
	CharacterCount       int64     `json:"character_count"`
	CharacterLimit       int64     `json:"character_limit"`
	APIKeyCharacterCount *int64    `json:"api_key_character_count,omitempty"`
	APIKeyCharacterLimit *int64    `json:"api_key_character_limit,omitempty"`
}

// KeySummary is one dashboard row per key, joining group metadata and the
// latest usage snapshot.
type KeySummary struct {
	KeyID           int64      `json:"key_id"`
	KeyName         string     `json:"key_name"`
	GroupID         int64      `json:"group_id"`
	GroupName       string     `json:"group_name"`
	SecretHint      string     `json:"secret_hint"`
	ApiType         ApiType    `json:"api_type"`
	CharacterCount  int64      `json:"character_count"`
	CharacterLimit  int64      `json:"character_limit"`
	UsagePercentage float64    `json:"usage_percentage"`
	Status          Status     `json:"status"`
	Severity        Severity   `json:"severity"`
	IsExpired       bool       `json:"is_expired"`
	LastCheck       *time.Time `json:"last_check"`
	BillingEndTime  *time.Time `json:"billing_end_time,omitempty"`
}

// HourlyPoint is one raw sample tagged with its display-timezone label.
type HourlyPoint struct {
	Label           string    `json:"label"`
	CheckTime       time.Time `json:"check_time"`
	CharacterCount  int64     `json:"character_count"`
	CharacterLimit  int64     `json:"character_limit"`
	UsagePercentage float64   `json:"usage_percentage"`
}

// DailyAggregate is the derived per-date rollup: the maximum character_count
// observed among a key's records on that calendar date. Never persisted,
// always recomputed from UsageRecords.
type DailyAggregate struct {
	Date     string `json:"date"` // YYYY-MM-DD in the display timezone
	MaxUsage int64  `json:"max_usage"`
	Records  int    `json:"records"`
}
