package postgresql

import (
	"context"
	"database/sql"
	"errors"

	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/kubellm/kubellm/internal/key"
	"github.com/lib/pq"
)

func (s *Store) CreateKeysTable() error {
	createTableQuery := `
	CREATE TABLE IF NOT EXISTS keys (
		name VARCHAR(255) NOT NULL,
		key_id VARCHAR(255) PRIMARY KEY,
		owner_id VARCHAR(255),
		key VARCHAR(255) NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		tags VARCHAR(255)[],
		revoked BOOLEAN NOT NULL,
		revoked_reason VARCHAR(255),
		ttl VARCHAR(255),
		cost_limit_in_usd FLOAT8,
		cost_limit_in_usd_over_time FLOAT8,
		cost_limit_in_usd_unit VARCHAR(255),
		rate_limit_over_time INT,
		rate_limit_unit VARCHAR(255)
	)`

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.wt)
	defer cancel()

	_, err := s.db.ExecContext(ctxTimeout, createTableQuery)
	if err != nil {
		return err
	}

	return nil
}

func (s *Store) CreateKeyIndexForKeysTable() error {
	createIndexQuery := `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_keys_key ON keys (key);`

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.wt)
	defer cancel()

	_, err := s.db.ExecContext(ctxTimeout, createIndexQuery)
	if err != nil {
		return err
	}

	return nil
}

const keyColumns = `name, key_id, owner_id, key, created_at, updated_at, tags, revoked, revoked_reason, ttl, cost_limit_in_usd, cost_limit_in_usd_over_time, cost_limit_in_usd_unit, rate_limit_over_time, rate_limit_unit`

func scanKey(scanner interface{ Scan(dest ...any) error }) (*key.VirtualKey, error) {
	var k key.VirtualKey
	if err := scanner.Scan(
		&k.Name,
		&k.KeyId,
		&k.OwnerId,
		&k.Key,
		&k.CreatedAt,
		&k.UpdatedAt,
		pq.Array(&k.Tags),
		&k.Revoked,
		&k.RevokedReason,
		&k.Ttl,
		&k.CostLimitInUsd,
		&k.CostLimitInUsdOverTime,
		&k.CostLimitInUsdUnit,
		&k.RateLimitOverTime,
		&k.RateLimitUnit,
	); err != nil {
		return nil, err
	}

	return &k, nil
}

func (s *Store) GetAllKeys() ([]*key.VirtualKey, error) {
	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.rt)
	defer cancel()

	rows, err := s.db.QueryContext(ctxTimeout, "SELECT "+keyColumns+" FROM keys")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*key.VirtualKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}

		keys = append(keys, k)
	}

	return keys, nil
}

func (s *Store) GetUpdatedKeys(updatedAt int64) ([]*key.VirtualKey, error) {
	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.rt)
	defer cancel()

	rows, err := s.db.QueryContext(ctxTimeout, "SELECT "+keyColumns+" FROM keys WHERE updated_at >= $1", updatedAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*key.VirtualKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}

		keys = append(keys, k)
	}

	return keys, nil
}

func (s *Store) InsertKey(k *key.VirtualKey) (*key.VirtualKey, error) {
	query := `
	INSERT INTO keys (name, key_id, owner_id, key, created_at, updated_at, tags, revoked, revoked_reason, ttl, cost_limit_in_usd, cost_limit_in_usd_over_time, cost_limit_in_usd_unit, rate_limit_over_time, rate_limit_unit)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING ` + keyColumns

	values := []any{
		k.Name,
		k.KeyId,
		k.OwnerId,
		k.Key,
		k.CreatedAt,
		k.UpdatedAt,
		pq.Array(k.Tags),
		k.Revoked,
		k.RevokedReason,
		k.Ttl,
		k.CostLimitInUsd,
		k.CostLimitInUsdOverTime,
		k.CostLimitInUsdUnit,
		k.RateLimitOverTime,
		k.RateLimitUnit,
	}

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.wt)
	defer cancel()

	return scanKey(s.db.QueryRowContext(ctxTimeout, query, values...))
}

func (s *Store) RevokeKey(keyId string, reason string, updatedAt int64) (*key.VirtualKey, error) {
	query := "UPDATE keys SET revoked = TRUE, revoked_reason = $2, updated_at = $3 WHERE key_id = $1 RETURNING " + keyColumns

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.wt)
	defer cancel()

	k, err := scanKey(s.db.QueryRowContext(ctxTimeout, query, keyId, reason, updatedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal_errors.NewNotFoundError("key is not found")
		}

		return nil, err
	}

	return k, nil
}

func (s *Store) GetKeyByHash(hash string) (*key.VirtualKey, error) {
	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.rt)
	defer cancel()

	row := s.db.QueryRowContext(ctxTimeout, "SELECT "+keyColumns+" FROM keys WHERE key = $1", hash)

	k, err := scanKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal_errors.NewNotFoundError("key is not found")
		}

		return nil, err
	}

	return k, nil
}
