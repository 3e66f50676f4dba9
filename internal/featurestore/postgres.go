// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package featurestore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recsyslab/featurepipe/internal/models"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

// schemaSQL is embedded so the service can bootstrap its own schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the production DurableTier. Feature records are stored as
// one JSONB document per subject; interaction aggregates are a keyed counter
// table with count += 1 upsert semantics.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	URL string `koanf:"url"`

	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int `koanf:"max_conns"`

	// ConnectTimeout bounds pool creation and the initial ping.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// NewPostgresStore creates a connection pool and fails fast when the
// database is unreachable.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run repeatedly.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping validates connectivity for readiness checks.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Name implements DurableTier.
func (p *PostgresStore) Name() string { return "postgres" }

// featureTable maps a subject kind to its table and key column.
func featureTable(kind models.SubjectKind) (table, keyColumn string) {
	if kind == models.SubjectItem {
		return "item_features", "item_id"
	}
	return "user_features", "user_id"
}

// GetFeatures implements DurableTier.
func (p *PostgresStore) GetFeatures(ctx context.Context, subject models.Subject) (*models.FeatureRecord, error) {
	table, keyColumn := featureTable(subject.Kind)

	var data []byte
	query := fmt.Sprintf("SELECT features FROM %s WHERE %s = $1", table, keyColumn)
	err := p.pool.QueryRow(ctx, query, subject.ID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("select %s: %w", table, err))
	}

	rec, err := models.UnmarshalFeatureRecord(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s row %s: %w", table, subject.ID, err)
	}
	return rec, nil
}

// UpsertFeatures implements DurableTier. Last writer wins on every mutable
// field.
func (p *PostgresStore) UpsertFeatures(ctx context.Context, subject models.Subject, rec *models.FeatureRecord) error {
	table, keyColumn := featureTable(subject.Kind)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode feature record: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, features, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (%s)
		DO UPDATE SET features = EXCLUDED.features, updated_at = EXCLUDED.updated_at
	`, table, keyColumn, keyColumn)

	if _, err := p.pool.Exec(ctx, query, subject.ID, data, rec.UpdatedAt); err != nil {
		return resilience.Transient(fmt.Errorf("upsert %s: %w", table, err))
	}
	return nil
}

// UpsertInteraction implements DurableTier.
func (p *PostgresStore) UpsertInteraction(ctx context.Context, userID, itemID string, eventType models.EventType, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO interactions (user_id, item_id, interaction_type, count, last_interaction_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (user_id, item_id, interaction_type)
		DO UPDATE SET
			count = interactions.count + 1,
			last_interaction_at = EXCLUDED.last_interaction_at
	`, userID, itemID, string(eventType), at)
	if err != nil {
		return resilience.Transient(fmt.Errorf("upsert interaction: %w", err))
	}
	return nil
}

// TopItems implements DurableTier.
func (p *PostgresStore) TopItems(ctx context.Context, window time.Duration, k int) ([]PopularItem, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT item_id, SUM(count) AS total
		FROM interactions
		WHERE last_interaction_at > $1
		GROUP BY item_id
		ORDER BY total DESC, item_id ASC
		LIMIT $2
	`, time.Now().Add(-window), k)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("popularity query: %w", err))
	}
	defer rows.Close()

	var items []PopularItem
	for rows.Next() {
		var (
			itemID string
			total  int64
		)
		if err := rows.Scan(&itemID, &total); err != nil {
			return nil, fmt.Errorf("scan popularity row: %w", err)
		}
		items = append(items, PopularItem{ItemID: itemID, Score: float64(total)})
	}
	if err := rows.Err(); err != nil {
		return nil, resilience.Transient(fmt.Errorf("popularity rows: %w", err))
	}
	return items, nil
}

// Close implements DurableTier.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
