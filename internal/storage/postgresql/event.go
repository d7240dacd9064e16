package postgresql

import (
	"context"

	"github.com/kubellm/kubellm/internal/event"
)

func (s *Store) CreateUsageEventsTable() error {
	createTableQuery := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id VARCHAR(255) PRIMARY KEY,
		request_id VARCHAR(255) NOT NULL,
		created_at BIGINT NOT NULL,
		key_id VARCHAR(255) NOT NULL,
		provider VARCHAR(255) NOT NULL,
		model VARCHAR(255) NOT NULL,
		prompt_token_count INT NOT NULL,
		completion_token_count INT NOT NULL,
		total_token_count INT NOT NULL,
		cost_in_usd FLOAT8 NOT NULL,
		estimated BOOLEAN NOT NULL,
		status VARCHAR(255) NOT NULL,
		latency_in_ms INT NOT NULL
	)`

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.wt)
	defer cancel()

	_, err := s.db.ExecContext(ctxTimeout, createTableQuery)
	if err != nil {
		return err
	}

	return nil
}

func (s *Store) CreateKeyIdIndexForUsageEventsTable() error {
	createIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_usage_events_key_id ON usage_events (key_id);`

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.wt)
	defer cancel()

	_, err := s.db.ExecContext(ctxTimeout, createIndexQuery)
	if err != nil {
		return err
	}

	return nil
}

func (s *Store) CreateTimeStampIndexForUsageEventsTable() error {
	createIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_usage_events_created_at ON usage_events (created_at);`

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.wt)
	defer cancel()

	_, err := s.db.ExecContext(ctxTimeout, createIndexQuery)
	if err != nil {
		return err
	}

	return nil
}

func (s *Store) InsertUsageRecord(r *event.UsageRecord) error {
	query := `
	INSERT INTO usage_events (id, request_id, created_at, key_id, provider, model, prompt_token_count, completion_token_count, total_token_count, cost_in_usd, estimated, status, latency_in_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.wt)
	defer cancel()

	_, err := s.db.ExecContext(ctxTimeout, query,
		r.Id,
		r.RequestId,
		r.CreatedAt,
		r.KeyId,
		r.Provider,
		r.Model,
		r.PromptTokenCount,
		r.CompletionTokenCount,
		r.TotalTokenCount,
		r.CostInUsd,
		r.Estimated,
		r.Status,
		r.LatencyInMs,
	)
	if err != nil {
		return err
	}

	return nil
}

// GetAggregatedSpend returns the lifetime committed spend for a key in
// usd. Only successful and cancelled requests count toward spend.
func (s *Store) GetAggregatedSpend(keyId string) (float64, error) {
	query := `
	SELECT COALESCE(SUM(cost_in_usd), 0) FROM usage_events WHERE key_id = $1 AND status != $2`

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.rt)
	defer cancel()

	var total float64
	if err := s.db.QueryRowContext(ctxTimeout, query, keyId, event.StatusFailed).Scan(&total); err != nil {
		return 0, err
	}

	return total, nil
}

// GetSpendOverRange returns the committed spend for a key between start
// and end (unix seconds, inclusive).
func (s *Store) GetSpendOverRange(keyId string, start, end int64) (float64, error) {
	query := `
	SELECT COALESCE(SUM(cost_in_usd), 0) FROM usage_events WHERE key_id = $1 AND status != $2 AND created_at BETWEEN $3 AND $4`

	ctxTimeout, cancel := context.WithTimeout(context.Background(), s.rt)
	defer cancel()

	var total float64
	if err := s.db.QueryRowContext(ctxTimeout, query, keyId, event.StatusFailed, start, end).Scan(&total); err != nil {
		return 0, err
	}

	return total, nil
}
