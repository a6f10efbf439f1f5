package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
	"github.com/akagifreeez/deepl-quota-monitor/pkg/crypto"
	"github.com/akagifreeez/deepl-quota-monitor/pkg/database"
	"github.com/akagifreeez/deepl-quota-monitor/pkg/deeplapi"
)

const pgUniqueViolation = "23505"

// Registry owns groups and API keys: CRUD with referential integrity,
// secret encryption at rest, and a read-through group-name cache.
type Registry struct {
	db              *database.DB
	cipher          *crypto.Cipher
	minInterval     int
	defaultInterval int

	nameMu    sync.RWMutex
	nameCache map[int64]string
}

func NewRegistry(db *database.DB, cipher *crypto.Cipher, minInterval, defaultInterval int) *Registry {
	if minInterval <= 0 {
		minInterval = 60
	}
	if defaultInterval < minInterval {
		defaultInterval = 3600
	}
	return &Registry{
		db:              db,
		cipher:          cipher,
		minInterval:     minInterval,
		defaultInterval: defaultInterval,
		nameCache:       make(map[int64]string),
	}
}

// UpdateGroupParams carries the optional fields of a group update; nil means
// leave unchanged.
type UpdateGroupParams struct {
	Name          *string `json:"name"`
	QueryInterval *int    `json:"query_interval"`
	IsActive      *bool   `json:"is_active"`
}

// CreateGroup validates and inserts a new group. A zero interval takes the
// configured default.
func (r *Registry) CreateGroup(ctx context.Context, name string, queryInterval int, isActive bool) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.Validationf("group name must not be empty")
	}
	if queryInterval == 0 {
		queryInterval = r.defaultInterval
	}
	if queryInterval < r.minInterval {
		return nil, models.Validationf("query interval must be at least %d seconds", r.minInterval)
	}

	group := &models.Group{Name: name, QueryInterval: queryInterval, IsActive: isActive}
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO groups (name, query_interval, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, name, queryInterval, isActive).Scan(&group.ID, &group.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	log.Info().Int64("group_id", group.ID).Str("name", name).Int("interval", queryInterval).Msg("Group created")
	return group, nil
}

// UpdateGroup applies the given fields. Validation happens before any write.
func (r *Registry) UpdateGroup(ctx context.Context, id int64, params UpdateGroupParams) (*models.Group, error) {
	if params.Name != nil && strings.TrimSpace(*params.Name) == "" {
		return nil, models.Validationf("group name must not be empty")
	}
	if params.QueryInterval != nil && *params.QueryInterval < r.minInterval {
		return nil, models.Validationf("query interval must be at least %d seconds", r.minInterval)
	}

	group, err := r.GroupByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Name != nil {
		group.Name = strings.TrimSpace(*params.Name)
	}
	if params.QueryInterval != nil {
		group.QueryInterval = *params.QueryInterval
	}
	if params.IsActive != nil {
		group.IsActive = *params.IsActive
	}

	_, err = r.db.Pool.Exec(ctx, `
		UPDATE groups SET name = $1, query_interval = $2, is_active = $3 WHERE id = $4
	`, group.Name, group.QueryInterval, group.IsActive, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}

	r.invalidateName(id)
	return group, nil
}

// DeleteGroup removes a group, its keys and their records in one statement;
// ON DELETE CASCADE makes the removal atomic.
func (r *Registry) DeleteGroup(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Entity: "group", ID: id}
	}

	r.invalidateName(id)
	log.Info().Int64("group_id", id).Msg("Group deleted with its keys and records")
	return nil
}

// GroupByID fetches a single group with its key count.
func (r *Registry) GroupByID(ctx context.Context, id int64) (*models.Group, error) {
	var g models.Group
	err := r.db.Pool.QueryRow(ctx, `
		SELECT g.id, g.name, g.query_interval, g.is_active, g.created_at,
		       (SELECT COUNT(*) FROM api_keys k WHERE k.group_id = g.id)
		FROM groups g
		WHERE g.id = $1
	`, id).Scan(&g.ID, &g.Name, &g.QueryInterval, &g.IsActive, &g.CreatedAt, &g.KeyCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NotFoundError{Entity: "group", ID: id}
		}
		return nil, fmt.Errorf("failed to query group: %w", err)
	}
	return &g, nil
}

// ListGroups returns all groups with key counts.
func (r *Registry) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT g.id, g.name, g.query_interval, g.is_active, g.created_at,
		       (SELECT COUNT(*) FROM api_keys k WHERE k.group_id = g.id)
		FROM groups g
		ORDER BY g.name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]models.Group, 0)
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.QueryInterval, &g.IsActive, &g.CreatedAt, &g.KeyCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ActiveGroups returns the groups the poller should be running tasks for.
func (r *Registry) ActiveGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, query_interval, is_active, created_at
		FROM groups
		WHERE is_active = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active groups: %w", err)
	}
	defer rows.Close()

	groups := make([]models.Group, 0)
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.QueryInterval, &g.IsActive, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// NameOf resolves a group's name through the in-memory cache, hitting the
// database on a miss. Rename and delete invalidate the entry.
func (r *Registry) NameOf(ctx context.Context, id int64) (string, error) {
	r.nameMu.RLock()
	name, ok := r.nameCache[id]
	r.nameMu.RUnlock()
	if ok {
		return name, nil
	}

	err := r.db.Pool.QueryRow(ctx, `SELECT name FROM groups WHERE id = $1`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", &models.NotFoundError{Entity: "group", ID: id}
		}
		return "", fmt.Errorf("failed to query group name: %w", err)
	}

	r.nameMu.Lock()
	r.nameCache[id] = name
	r.nameMu.Unlock()
	return name, nil
}

func (r *Registry) invalidateName(id int64) {
	r.nameMu.Lock()
	delete(r.nameCache, id)
	r.nameMu.Unlock()
}

// CreateKey validates, encrypts and inserts a new key into a group. The api
// type is inferred from the secret and the name defaults to the secret's
// trailing characters when omitted.
func (r *Registry) CreateKey(ctx context.Context, name, secret string, groupID int64) (*models.ApiKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, models.Validationf("api key secret must not be empty")
	}

	// Group reference is validated up front so the caller gets a
	// ValidationError rather than a bare FK failure.
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check group: %w", err)
	}
	if !exists {
		return nil, models.Validationf("group %d does not exist", groupID)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultKeyName(secret)
	}

	encrypted, err := r.cipher.Encrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	key := &models.ApiKey{
		Name:       name,
		SecretHint: MaskSecret(secret),
		ApiType:    InferApiType(secret),
		GroupID:    groupID,
	}

	err = r.db.Pool.QueryRow(ctx, `
		INSERT INTO api_keys (name, encrypted_secret, secret_hint, secret_sha, api_type, group_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, name, encrypted, key.SecretHint, secretDigest(secret), key.ApiType, groupID).
		Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, models.Validationf("api key already registered")
		}
		return nil, fmt.Errorf("failed to create key: %w", err)
	}

	log.Info().Int64("key_id", key.ID).Int64("group_id", groupID).Str("api_type", string(key.ApiType)).Msg("API key created")
	return key, nil
}

// CreateKeys registers many secrets into one group. Validation failures on
// individual secrets are collected; successfully validated keys are inserted
// in a single transaction.
func (r *Registry) CreateKeys(ctx context.Context, groupID int64, secrets []string) ([]models.ApiKey, []string, error) {
	if len(secrets) == 0 {
		return nil, nil, models.Validationf("no secrets provided")
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists); err != nil {
		return nil, nil, fmt.Errorf("failed to check group: %w", err)
	}
	if !exists {
		return nil, nil, models.Validationf("group %d does not exist", groupID)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	created := make([]models.ApiKey, 0, len(secrets))
	skipped := make([]string, 0)

	for _, raw := range secrets {
		secret := strings.TrimSpace(raw)
		if secret == "" {
			skipped = append(skipped, "empty secret")
			continue
		}

		encrypted, err := r.cipher.Encrypt(secret)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encrypt secret: %w", err)
		}

		key := models.ApiKey{
			Name:       DefaultKeyName(secret),
			SecretHint: MaskSecret(secret),
			ApiType:    InferApiType(secret),
			GroupID:    groupID,
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO api_keys (name, encrypted_secret, secret_hint, secret_sha, api_type, group_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (secret_sha) DO NOTHING
			RETURNING id, created_at
		`, key.Name, encrypted, key.SecretHint, secretDigest(secret), key.ApiType, groupID).
			Scan(&key.ID, &key.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				skipped = append(skipped, MaskSecret(secret)+" already registered")
				continue
			}
			return nil, nil, fmt.Errorf("failed to create key: %w", err)
		}
		created = append(created, key)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit keys: %w", err)
	}

	log.Info().Int64("group_id", groupID).Int("created", len(created)).Int("skipped", len(skipped)).Msg("Bulk key registration")
	return created, skipped, nil
}

// UpdateKey renames a key. Rename is the only mutable field.
func (r *Registry) UpdateKey(ctx context.Context, id int64, name string) (*models.ApiKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.Validationf("key name must not be empty")
	}

	tag, err := r.db.Pool.Exec(ctx, `UPDATE api_keys SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &models.NotFoundError{Entity: "api key", ID: id}
	}

	return r.KeyByID(ctx, id, false)
}

// DeleteKey removes a key and, via cascade, its usage records.
func (r *Registry) DeleteKey(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Entity: "api key", ID: id}
	}

	log.Info().Int64("key_id", id).Msg("API key deleted")
	return nil
}

// KeyByID fetches a key. With revealSecret the stored secret is decrypted
// into the Secret field (details view); otherwise only the hint is set.
func (r *Registry) KeyByID(ctx context.Context, id int64, revealSecret bool) (*models.ApiKey, error) {
	var (
		key          models.ApiKey
		encrypted    string
		billingStart *time.Time
		billingEnd   *time.Time
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, encrypted_secret, secret_hint, api_type, group_id,
		       created_at, last_check, billing_start_time, billing_end_time
		FROM api_keys
		WHERE id = $1
	`, id).Scan(&key.ID, &key.Name, &encrypted, &key.SecretHint, &key.ApiType,
		&key.GroupID, &key.CreatedAt, &key.LastCheck, &billingStart, &billingEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.NotFoundError{Entity: "api key", ID: id}
		}
		return nil, fmt.Errorf("failed to query key: %w", err)
	}

	if billingStart != nil && billingEnd != nil {
		key.Billing = &models.BillingWindow{Start: *billingStart, End: *billingEnd}
	}

	if revealSecret {
		secret, err := r.cipher.Decrypt(encrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt secret: %w", err)
		}
		key.Secret = secret
	}
	return &key, nil
}

// KeysForPolling returns a group's keys with decrypted secrets, ready for
// provider calls. Keys whose secrets fail to decrypt are skipped with a log
// entry rather than failing the whole tick.
func (r *Registry) KeysForPolling(ctx context.Context, groupID int64) ([]models.ApiKey, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, encrypted_secret, secret_hint, api_type, group_id,
		       created_at, last_check, billing_start_time, billing_end_time
		FROM api_keys
		WHERE group_id = $1
		ORDER BY id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys for group: %w", err)
	}
	defer rows.Close()

	keys := make([]models.ApiKey, 0)
	for rows.Next() {
		var (
			key          models.ApiKey
			encrypted    string
			billingStart *time.Time
			billingEnd   *time.Time
		)
		if err := rows.Scan(&key.ID, &key.Name, &encrypted, &key.SecretHint, &key.ApiType,
			&key.GroupID, &key.CreatedAt, &key.LastCheck, &billingStart, &billingEnd); err != nil {
			return nil, err
		}

		secret, err := r.cipher.Decrypt(encrypted)
		if err != nil {
			log.Error().Err(err).Int64("key_id", key.ID).Msg("Failed to decrypt key secret, skipping")
			continue
		}
		key.Secret = secret

		if billingStart != nil && billingEnd != nil {
			key.Billing = &models.BillingWindow{Start: *billingStart, End: *billingEnd}
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// MarkChecked stamps a key's last successful check time.
func (r *Registry) MarkChecked(ctx context.Context, keyID int64, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE api_keys SET last_check = $1 WHERE id = $2`, at, keyID)
	return err
}

// SetBillingWindow refreshes a pro key's billing period from the provider.
func (r *Registry) SetBillingWindow(ctx context.Context, keyID int64, w models.BillingWindow) error {
	if !w.End.After(w.Start) {
		return models.Validationf("billing end must be after billing start")
	}
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE api_keys SET billing_start_time = $1, billing_end_time = $2 WHERE id = $3
	`, w.Start, w.End, keyID)
	return err
}

// InferApiType maps a secret to its tier: ":fx"-suffixed keys are standard,
// everything else pro.
func InferApiType(secret string) models.ApiType {
	if deeplapi.IsStandardSecret(secret) {
		return models.ApiTypeStandard
	}
	return models.ApiTypePro
}

// DefaultKeyName derives a deterministic name from the secret's trailing
// eight characters.
func DefaultKeyName(secret string) string {
	tail := secret
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	return "API-" + tail
}

// MaskSecret renders a secret safe for listings: long secrets keep their
// edges, short ones collapse entirely.
func MaskSecret(secret string) string {
	switch {
	case len(secret) > 24:
		return secret[:10] + "..." + secret[len(secret)-10:]
	case len(secret) > 8:
		return secret[:4] + "..." + secret[len(secret)-4:]
	default:
		return "****"
	}
}

func secretDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
