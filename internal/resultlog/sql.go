package resultlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"     // registers "postgres"
	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/terra-clan/screening-engine/internal/models"
)

// Driver selects the database/sql driver of a SQLLog
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverPQ     Driver = "postgres"
)

// SQLLog appends records through database/sql
type SQLLog struct {
	db     *sql.DB
	driver Driver
}

// OpenSQL opens the database and ensures the results table exists
func OpenSQL(ctx context.Context, driver Driver, dsn string) (*SQLLog, error) {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPQ:
		schema = schemaPostgres
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// one writer keeps appends from hitting SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &SQLLog{db: db, driver: driver}, nil
}

// DB returns the underlying *sql.DB
func (l *SQLLog) DB() *sql.DB {
	return l.db
}

// Append inserts the record. Re-appending a record id is a no-op.
func (l *SQLLog) Append(ctx context.Context, r models.ResultRecord) error {
	clusters, err := json.Marshal(clustersOrEmpty(r.Clusters))
	if err != nil {
		return fmt.Errorf("failed to encode clusters: %w", err)
	}

	var query string
	var answers any
	switch l.driver {
	case DriverPQ:
		query = `INSERT INTO results (id, user_id, test_id, recorded_at, total_score, category, clusters, raw_answers)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`
		answers = pq.Array(toInt64s(r.Answers))
	default:
		query = `INSERT INTO results (id, user_id, test_id, recorded_at, total_score, category, clusters, raw_answers)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`
		answers = JoinAnswers(r.Answers)
	}

	_, err = l.db.ExecContext(ctx, query,
		r.ID,
		r.UserID,
		r.TestID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Total,
		r.Category,
		string(clusters),
		answers,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// ListByUser returns a user's records in append order
func (l *SQLLog) ListByUser(ctx context.Context, userID int64) ([]models.ResultRecord, error) {
	query := `SELECT id, user_id, test_id, recorded_at, total_score, category, clusters, raw_answers
		FROM results WHERE user_id = ? ORDER BY seq`
	if l.driver == DriverPQ {
		query = `SELECT id, user_id, test_id, recorded_at, total_score, category, clusters, raw_answers
			FROM results WHERE user_id = $1 ORDER BY seq`
	}

	rows, err := l.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []models.ResultRecord
	for rows.Next() {
		var (
			r         models.ResultRecord
			timestamp string
			clusters  string
		)
		dest := []any{&r.ID, &r.UserID, &r.TestID, &timestamp, &r.Total, &r.Category, &clusters}

		var joined string
		var arr pq.Int64Array
		if l.driver == DriverPQ {
			dest = append(dest, &arr)
		} else {
			dest = append(dest, &joined)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		if r.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
		}
		if err := json.Unmarshal([]byte(clusters), &r.Clusters); err != nil {
			return nil, fmt.Errorf("failed to decode clusters: %w", err)
		}
		if l.driver == DriverPQ {
			r.Answers = fromInt64s(arr)
		} else if r.Answers, err = SplitAnswers(joined); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks database connectivity
func (l *SQLLog) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database
func (l *SQLLog) Close() error {
	return l.db.Close()
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS results (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  user_id INTEGER NOT NULL,
  test_id TEXT NOT NULL,
  recorded_at TEXT NOT NULL,
  total_score INTEGER NOT NULL,
  category TEXT NOT NULL,
  clusters TEXT NOT NULL DEFAULT '[]',
  raw_answers TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_user_id ON results (user_id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS results (
  id VARCHAR(64) PRIMARY KEY,
  user_id BIGINT NOT NULL,
  test_id VARCHAR(100) NOT NULL,
  recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
  total_score INTEGER NOT NULL,
  category TEXT NOT NULL,
  clusters JSONB NOT NULL DEFAULT '[]',
  raw_answers INTEGER[] NOT NULL,
  seq BIGSERIAL
);
CREATE INDEX IF NOT EXISTS idx_results_user_id ON results (user_id);
`
