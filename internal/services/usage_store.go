package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
	"github.com/akagifreeez/deepl-quota-monitor/pkg/database"
)

// pgForeignKeyViolation is the SQLSTATE raised when an insert references a
// row deleted out from under it (key removed mid-tick).
const pgForeignKeyViolation = "23503"

// UsageStore is the append-only time-series of usage samples. Appends and
// reads may run concurrently from any number of pollers; ordering is by
// check_time and enforced in the queries, not by writers.
type UsageStore struct {
	db *database.DB
}

func NewUsageStore(db *database.DB) *UsageStore {
	return &UsageStore{db: db}
}

// Append inserts one sample. A vanished key surfaces as NotFoundError so a
// tick can skip it and continue with siblings.
func (s *UsageStore) Append(ctx context.Context, rec models.UsageRecord) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO usage_records
			(api_key_id, check_time, character_count, character_limit,
			 api_key_character_count, api_key_character_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.KeyID, rec.CheckTime, rec.CharacterCount, rec.CharacterLimit,
		rec.APIKeyCharacterCount, rec.APIKeyCharacterLimit)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return &models.NotFoundError{Entity: "api key", ID: rec.KeyID}
		}
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// Latest returns the most recent sample for a key, or nil when none exists.
func (s *UsageStore) Latest(ctx context.Context, keyID int64) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := s.db.Pool.QueryRow(ctx, `
		SELECT id, api_key_id, check_time, character_count, character_limit,
		       api_key_character_count, api_key_character_limit
		FROM usage_records
		WHERE api_key_id = $1
		ORDER BY check_time DESC
		LIMIT 1
	`, keyID).Scan(&rec.ID, &rec.KeyID, &rec.CheckTime, &rec.CharacterCount,
		&rec.CharacterLimit, &rec.APIKeyCharacterCount, &rec.APIKeyCharacterLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest usage: %w", err)
	}
	return &rec, nil
}

// Window returns a key's samples since the given time, oldest first.
func (s *UsageStore) Window(ctx context.Context, keyID int64, since time.Time) ([]models.UsageRecord, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, api_key_id, check_time, character_count, character_limit,
		       api_key_character_count, api_key_character_limit
		FROM usage_records
		WHERE api_key_id = $1 AND check_time >= $2
		ORDER BY check_time ASC
	`, keyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage window: %w", err)
	}
	defer rows.Close()

	records := make([]models.UsageRecord, 0)
	for rows.Next() {
		var rec models.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.KeyID, &rec.CheckTime, &rec.CharacterCount,
			&rec.CharacterLimit, &rec.APIKeyCharacterCount, &rec.APIKeyCharacterLimit); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Summary returns one classified row per key, joining group name and the
// latest sample via LATERAL. Keys with no samples yet appear as unchecked.
func (s *UsageStore) Summary(ctx context.Context) ([]models.KeySummary, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT
			k.id, k.name, k.secret_hint, k.api_type, k.group_id, k.created_at,
			k.last_check, k.billing_start_time, k.billing_end_time,
			g.name AS group_name,
			u.id, u.check_time, u.character_count, u.character_limit,
			u.api_key_character_count, u.api_key_character_limit
		FROM api_keys k
		JOIN groups g ON g.id = k.group_id
		LEFT JOIN LATERAL (
			SELECT id, check_time, character_count, character_limit,
			       api_key_character_count, api_key_character_limit
			FROM usage_records
			WHERE api_key_id = k.id
			ORDER BY check_time DESC
			LIMIT 1
		) u ON true
		ORDER BY g.name ASC, k.name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	summaries := make([]models.KeySummary, 0)
	for rows.Next() {
		var (
			key          models.ApiKey
			groupName    string
			billingStart *time.Time
			billingEnd   *time.Time
			recID        *int64
			checkTime    *time.Time
			charCount    *int64
			charLimit    *int64
			subCount     *int64
			subLimit     *int64
		)
		if err := rows.Scan(
			&key.ID, &key.Name, &key.SecretHint, &key.ApiType, &key.GroupID, &key.CreatedAt,
			&key.LastCheck, &billingStart, &billingEnd,
			&groupName,
			&recID, &checkTime, &charCount, &charLimit, &subCount, &subLimit,
		); err != nil {
			return nil, err
		}

		if billingStart != nil && billingEnd != nil {
			key.Billing = &models.BillingWindow{Start: *billingStart, End: *billingEnd}
		}

		var latest *models.UsageRecord
		if recID != nil {
			latest = &models.UsageRecord{
				ID:                   *recID,
				KeyID:                key.ID,
				CheckTime:            *checkTime,
				CharacterCount:       *charCount,
				CharacterLimit:       *charLimit,
				APIKeyCharacterCount: subCount,
				APIKeyCharacterLimit: subLimit,
			}
		}

		summaries = append(summaries, Summarize(&key, groupName, latest, now))
	}
	return summaries, rows.Err()
}
