// Package postgres provides the Postgres-backed custody store. It mirrors the
// SQLite store's semantics and ensures its schema on startup.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/louisbranch/gearlocker/internal/custody"
	"github.com/louisbranch/gearlocker/internal/custody/storage"
)

const driverName = "pgx"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		status TEXT NOT NULL,
		holder_id TEXT,
		held_since BIGINT,
		expected_return BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transitions (
		id BIGSERIAL PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		acting_holder_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		note TEXT NOT NULL,
		occurred_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transitions_asset_id ON transitions(asset_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_transitions_occurred_at ON transitions(occurred_at, id)`,
}

// Store provides Postgres-backed persistence for custody state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a custody Postgres store for the provided DSN and ensures the
// schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("ensure custody schema: %w", err)
		}
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database pool.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetAsset loads one asset row by id.
func (s *Store) GetAsset(ctx context.Context, assetID string) (storage.Asset, error) {
	if err := ctx.Err(); err != nil {
		return storage.Asset{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Asset{}, fmt.Errorf("storage is not configured")
	}
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return storage.Asset{}, fmt.Errorf("asset id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, display_name, status, holder_id, held_since, expected_return, created_at, updated_at
FROM assets
WHERE id = $1
`, assetID)
	asset, err := scanAsset(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Asset{}, storage.ErrNotFound
		}
		return storage.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// ApplyTransition updates the asset row conditioned on prev still holding and
// appends the transition record in the same transaction.
func (s *Store) ApplyTransition(ctx context.Context, assetID string, prev storage.State, transition storage.Transition) (storage.TransitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TransitionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TransitionRecord{}, fmt.Errorf("storage is not configured")
	}
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return storage.TransitionRecord{}, fmt.Errorf("asset id is required")
	}
	record := transition.Record
	if record.OccurredAt.IsZero() {
		return storage.TransitionRecord{}, fmt.Errorf("transition occurred-at is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.TransitionRecord{}, fmt.Errorf("begin custody transition write: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback custody transition write: %v", cause, rollbackErr)
		}
		return cause
	}

	occurredAt := toMillis(record.OccurredAt)
	var heldSince any
	if transition.Next.Status == custody.StatusHeld {
		heldSince = occurredAt
	}

	result, err := tx.ExecContext(ctx, `
UPDATE assets
SET status = $1, holder_id = $2, held_since = $3, expected_return = NULL, updated_at = $4
WHERE id = $5 AND status = $6 AND holder_id IS NOT DISTINCT FROM $7
`, string(transition.Next.Status), holderParam(transition.Next.HolderID), heldSince, occurredAt,
		assetID, string(prev.Status), holderParam(prev.HolderID))
	if err != nil {
		return storage.TransitionRecord{}, rollbackWith(fmt.Errorf("update asset state: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.TransitionRecord{}, rollbackWith(fmt.Errorf("update asset state rows affected: %w", err))
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM assets WHERE id = $1`, assetID).Scan(&exists); err != nil {
			return storage.TransitionRecord{}, rollbackWith(fmt.Errorf("check asset existence: %w", err))
		}
		if exists == 0 {
			return storage.TransitionRecord{}, rollbackWith(storage.ErrNotFound)
		}
		return storage.TransitionRecord{}, rollbackWith(storage.ErrStaleState)
	}

	var recordID int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO transitions (asset_id, acting_holder_id, kind, note, occurred_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, assetID, record.ActingHolderID, string(record.Kind), record.Note, occurredAt).Scan(&recordID)
	if err != nil {
		return storage.TransitionRecord{}, rollbackWith(fmt.Errorf("insert transition record: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return storage.TransitionRecord{}, fmt.Errorf("commit custody transition write: %w", err)
	}

	record.ID = recordID
	record.AssetID = assetID
	record.OccurredAt = fromMillis(occurredAt)
	return record, nil
}

// PutAsset creates one asset row.
func (s *Store) PutAsset(ctx context.Context, asset storage.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	asset.ID = strings.TrimSpace(asset.ID)
	if asset.ID == "" {
		return fmt.Errorf("asset id is required")
	}
	if strings.TrimSpace(asset.DisplayName) == "" {
		return fmt.Errorf("asset display name is required")
	}
	if !asset.Status.IsKnown() {
		return fmt.Errorf("asset status %q is not known", asset.Status)
	}

	now := time.Now().UTC()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	if asset.UpdatedAt.IsZero() {
		asset.UpdatedAt = asset.CreatedAt
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO assets (id, display_name, status, holder_id, held_since, expected_return, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, asset.ID, asset.DisplayName, string(asset.Status), holderParam(asset.HolderID),
		optionalMillis(asset.HeldSince), optionalMillis(asset.ExpectedReturn),
		toMillis(asset.CreatedAt), toMillis(asset.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put asset: %w", err)
	}
	return nil
}

// ListAssets lists asset rows in id order with cursor pagination.
func (s *Store) ListAssets(ctx context.Context, pageSize int, pageToken string) (storage.AssetPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.AssetPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AssetPage{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		return storage.AssetPage{}, fmt.Errorf("page size must be greater than zero")
	}
	pageToken = strings.TrimSpace(pageToken)

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, display_name, status, holder_id, held_since, expected_return, created_at, updated_at
FROM assets
WHERE id > $1
ORDER BY id
LIMIT $2
`, pageToken, limit)
	if err != nil {
		return storage.AssetPage{}, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	page := storage.AssetPage{}
	for rows.Next() {
		asset, err := scanAsset(rows.Scan)
		if err != nil {
			return storage.AssetPage{}, fmt.Errorf("scan asset: %w", err)
		}
		page.Assets = append(page.Assets, asset)
	}
	if err := rows.Err(); err != nil {
		return storage.AssetPage{}, fmt.Errorf("list assets: %w", err)
	}
	if len(page.Assets) > pageSize {
		page.NextPageToken = page.Assets[pageSize-1].ID
		page.Assets = page.Assets[:pageSize]
	}
	return page, nil
}

// ListTransitions lists one asset's transition records newest-first with
// cursor pagination.
func (s *Store) ListTransitions(ctx context.Context, assetID string, pageSize int, pageToken string) (storage.TransitionPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.TransitionPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TransitionPage{}, fmt.Errorf("storage is not configured")
	}
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return storage.TransitionPage{}, fmt.Errorf("asset id is required")
	}
	if pageSize <= 0 {
		return storage.TransitionPage{}, fmt.Errorf("page size must be greater than zero")
	}

	var exists int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(1) FROM assets WHERE id = $1`, assetID).Scan(&exists); err != nil {
		return storage.TransitionPage{}, fmt.Errorf("check asset existence: %w", err)
	}
	if exists == 0 {
		return storage.TransitionPage{}, storage.ErrNotFound
	}

	beforeID := int64(0)
	if token := strings.TrimSpace(pageToken); token != "" {
		parsed, err := strconv.ParseInt(token, 10, 64)
		if err != nil || parsed <= 0 {
			return storage.TransitionPage{}, fmt.Errorf("page token %q is not valid", pageToken)
		}
		beforeID = parsed
	}

	limit := pageSize + 1
	query := `
SELECT id, asset_id, acting_holder_id, kind, note, occurred_at
FROM transitions
WHERE asset_id = $1
ORDER BY id DESC
LIMIT $2
`
	args := []any{assetID, limit}
	if beforeID > 0 {
		query = `
SELECT id, asset_id, acting_holder_id, kind, note, occurred_at
FROM transitions
WHERE asset_id = $1 AND id < $2
ORDER BY id DESC
LIMIT $3
`
		args = []any{assetID, beforeID, limit}
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.TransitionPage{}, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	page := storage.TransitionPage{}
	for rows.Next() {
		record, err := scanTransition(rows.Scan)
		if err != nil {
			return storage.TransitionPage{}, fmt.Errorf("scan transition: %w", err)
		}
		page.Transitions = append(page.Transitions, record)
	}
	if err := rows.Err(); err != nil {
		return storage.TransitionPage{}, fmt.Errorf("list transitions: %w", err)
	}
	if len(page.Transitions) > pageSize {
		page.NextPageToken = strconv.FormatInt(page.Transitions[pageSize-1].ID, 10)
		page.Transitions = page.Transitions[:pageSize]
	}
	return page, nil
}

// ListRecentTransitions lists the newest transition records across all assets.
func (s *Store) ListRecentTransitions(ctx context.Context, limit int) ([]storage.TransitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, asset_id, acting_holder_id, kind, note, occurred_at
FROM transitions
ORDER BY id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent transitions: %w", err)
	}
	defer rows.Close()

	var records []storage.TransitionRecord
	for rows.Next() {
		record, err := scanTransition(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent transitions: %w", err)
	}
	return records, nil
}

func holderParam(holderID string) any {
	if holderID == "" {
		return nil
	}
	return holderID
}

func optionalMillis(value *time.Time) any {
	if value == nil {
		return nil
	}
	return toMillis(*value)
}

func scanAsset(scan func(dest ...any) error) (storage.Asset, error) {
	var (
		asset          storage.Asset
		status         string
		holderID       sql.NullString
		heldSince      sql.NullInt64
		expectedReturn sql.NullInt64
		createdAt      int64
		updatedAt      int64
	)
	if err := scan(&asset.ID, &asset.DisplayName, &status, &holderID, &heldSince, &expectedReturn, &createdAt, &updatedAt); err != nil {
		return storage.Asset{}, err
	}

	asset.Status = custody.Status(status)
	if !asset.Status.IsKnown() {
		return storage.Asset{}, fmt.Errorf("asset %s status %q: %w", asset.ID, status, storage.ErrCorruptState)
	}
	if holderID.Valid {
		asset.HolderID = holderID.String
	}
	if heldSince.Valid {
		value := fromMillis(heldSince.Int64)
		asset.HeldSince = &value
	}
	if expectedReturn.Valid {
		value := fromMillis(expectedReturn.Int64)
		asset.ExpectedReturn = &value
	}
	asset.CreatedAt = fromMillis(createdAt)
	asset.UpdatedAt = fromMillis(updatedAt)
	return asset, nil
}

func scanTransition(scan func(dest ...any) error) (storage.TransitionRecord, error) {
	var (
		record     storage.TransitionRecord
		kind       string
		occurredAt int64
	)
	if err := scan(&record.ID, &record.AssetID, &record.ActingHolderID, &kind, &record.Note, &occurredAt); err != nil {
		return storage.TransitionRecord{}, err
	}
	record.Kind = custody.Kind(kind)
	record.OccurredAt = fromMillis(occurredAt)
	return record, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ storage.AssetStore = (*Store)(nil)
var _ storage.ProvisioningStore = (*Store)(nil)
