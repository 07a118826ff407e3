package resultlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/screening-engine/internal/models"
)

// PostgresLog appends records to the results table through a pgx pool
type PostgresLog struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	MaxLifetime time.Duration
}

// NewPostgresLog connects to PostgreSQL
func NewPostgresLog(ctx context.Context, cfg PostgresConfig) (*PostgresLog, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresLog{pool: pool}, nil
}

// Append inserts the record. Re-appending a record id is a no-op.
func (l *PostgresLog) Append(ctx context.Context, r models.ResultRecord) error {
	clusters, err := json.Marshal(clustersOrEmpty(r.Clusters))
	if err != nil {
		return fmt.Errorf("failed to encode clusters: %w", err)
	}

	query := `
		INSERT INTO results (id, user_id, test_id, recorded_at, total_score, category, clusters, raw_answers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = l.pool.Exec(ctx, query,
		r.ID,
		r.UserID,
		r.TestID,
		r.Timestamp,
		r.Total,
		r.Category,
		string(clusters),
		toInt64s(r.Answers),
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// ListByUser returns a user's records in append order
func (l *PostgresLog) ListByUser(ctx context.Context, userID int64) ([]models.ResultRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, user_id, test_id, recorded_at, total_score, category, clusters, raw_answers
		FROM results WHERE user_id = $1 ORDER BY seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []models.ResultRecord
	for rows.Next() {
		var (
			r        models.ResultRecord
			clusters []byte
			answers  []int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.TestID, &r.Timestamp, &r.Total, &r.Category, &clusters, &answers); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := json.Unmarshal(clusters, &r.Clusters); err != nil {
			return nil, fmt.Errorf("failed to decode clusters: %w", err)
		}
		r.Answers = fromInt64s(answers)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks database connectivity
func (l *PostgresLog) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close closes the connection pool
func (l *PostgresLog) Close() error {
	l.pool.Close()
	return nil
}

func clustersOrEmpty(c []models.ClusterScore) []models.ClusterScore {
	if c == nil {
		return []models.ClusterScore{}
	}
	return c
}

func fromInt64s(in []int64) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
