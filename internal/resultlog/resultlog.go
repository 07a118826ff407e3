package resultlog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/terra-clan/screening-engine/internal/config"
	"github.com/terra-clan/screening-engine/internal/models"
)

// ResultLog is an append-only sink of completed assessments.
// Each Append writes one record as a unit; records are never updated or deleted.
type ResultLog interface {
	Append(ctx context.Context, record models.ResultRecord) error
	Ping(ctx context.Context) error
	Close() error
}

// PersistenceError reports an append that still failed after retrying
type PersistenceError struct {
	RecordID string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist result %s after %d attempts: %v", e.RecordID, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Open creates the result log selected by cfg
func Open(ctx context.Context, cfg config.ResultsConfig) (ResultLog, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return OpenFile(cfg.Path)
	case config.BackendSQLite:
		return OpenSQL(ctx, DriverSQLite, cfg.DSN)
	case config.BackendPQ:
		return OpenSQL(ctx, DriverPQ, cfg.DSN)
	case config.BackendPostgres:
		log, err := NewPostgresLog(ctx, PostgresConfig{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, log.pool, cfg.MigrationsDir); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return log, nil
	default:
		return nil, fmt.Errorf("unknown results backend: %q", cfg.Backend)
	}
}

// JoinAnswers renders answers as comma-joined option indices
func JoinAnswers(answers []int) string {
	parts := make([]string, len(answers))
	for i, a := range answers {
		parts[i] = strconv.Itoa(a)
	}
	return strings.Join(parts, ",")
}

// SplitAnswers parses the output of JoinAnswers
func SplitAnswers(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid answer %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func toInt64s(answers []int) []int64 {
	out := make([]int64, len(answers))
	for i, a := range answers {
		out[i] = int64(a)
	}
	return out
}
