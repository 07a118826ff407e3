package resultlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/screening-engine/internal/config"
	"github.com/terra-clan/screening-engine/internal/models"
)

func record(id string, userID int64) models.ResultRecord {
	return models.ResultRecord{
		ID:        id,
		UserID:    userID,
		TestID:    "beck-depression",
		Timestamp: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		Total:     18,
		Category:  "borderline clinical depression",
		Answers:   []int{3, 3, 3, 3, 3, 3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	}
}

func TestFileLogWritesHeaderAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.tsv")

	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), record("a", 1)))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "user_id\ttimestamp\ttest_id\ttotal_score\tcategory\traw_answers\trecord_id", lines[0])
	assert.Equal(t, "1\t2024-03-01T12:30:00Z\tbeck-depression\t18\tborderline clinical depression\t3,3,3,3,3,3,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0\ta", lines[1])
}

func TestFileLogReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.tsv")
	ctx := context.Background()

	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, record("a", 1)))
	require.NoError(t, l.Close())

	l, err = OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, record("b", 2)))
	require.NoError(t, l.Close())

	records, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].UserID)
	assert.Equal(t, int64(2), records[1].UserID)
	assert.Equal(t, record("a", 1).Answers, records[0].Answers)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}

func TestFileLogAppendIsIdempotentByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.tsv")
	ctx := context.Background()

	l, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, record("a", 1)))
	require.NoError(t, l.Append(ctx, record("a", 1)))
	require.NoError(t, l.Close())

	// a retry after a restart still finds the row already written
	l, err = OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, record("a", 1)))
	require.NoError(t, l.Append(ctx, record("b", 1)))
	require.NoError(t, l.Close())

	records, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}

func TestFileLogRejectsForeignLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.tsv")
	require.NoError(t, os.WriteFile(path, []byte("user_id\ttimestamp\n1\t2024-03-01T12:30:00Z\n"), 0o644))

	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestFileLogConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.tsv")
	l, err := OpenFile(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, l.Append(context.Background(), record(fmt.Sprint(n), int64(n))))
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	records, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 50)

	seen := make(map[int64]bool)
	for _, r := range records {
		assert.Equal(t, "beck-depression", r.TestID)
		assert.Len(t, r.Answers, 21)
		seen[r.UserID] = true
	}
	assert.Len(t, seen, 50)
}

func TestFileLogClosed(t *testing.T) {
	l, err := OpenFile(filepath.Join(t.TempDir(), "results.tsv"))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Error(t, l.Append(context.Background(), record("a", 1)))
	assert.Error(t, l.Ping(context.Background()))
}

func TestSQLiteLog(t *testing.T) {
	ctx := context.Background()
	l, err := OpenSQL(ctx, DriverSQLite, "file:"+filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer l.Close()

	pcl := record("p1", 7)
	pcl.TestID = "pcl5"
	pcl.Clusters = []models.ClusterScore{{Name: "B", Score: 5}, {Name: "C", Score: 2}}

	require.NoError(t, l.Append(ctx, record("d1", 7)))
	require.NoError(t, l.Append(ctx, pcl))
	require.NoError(t, l.Append(ctx, pcl), "duplicate ids are ignored")
	require.NoError(t, l.Append(ctx, record("x1", 8)))

	records, err := l.ListByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "d1", records[0].ID)
	assert.Empty(t, records[0].Clusters)
	assert.Equal(t, record("d1", 7).Answers, records[0].Answers)
	assert.True(t, records[0].Timestamp.Equal(record("d1", 7).Timestamp))

	assert.Equal(t, "p1", records[1].ID)
	assert.Equal(t, pcl.Clusters, records[1].Clusters)
	require.NoError(t, l.Ping(ctx))
}

func TestPQLog(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	l, err := OpenSQL(ctx, DriverPQ, dsn)
	require.NoError(t, err)
	defer l.Close()

	userID := time.Now().UnixNano()
	r := record(fmt.Sprintf("pq-%d", userID), userID)
	require.NoError(t, l.Append(ctx, r))
	require.NoError(t, l.Append(ctx, r))

	records, err := l.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, r.Answers, records[0].Answers)
}

func TestPostgresLog(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	l, err := Open(ctx, config.ResultsConfig{
		Backend:       config.BackendPostgres,
		DSN:           dsn,
		MigrationsDir: "../../migrations",
	})
	require.NoError(t, err)
	defer l.Close()

	pg := l.(*PostgresLog)
	userID := time.Now().UnixNano()
	r := record(fmt.Sprintf("pgx-%d", userID), userID)
	r.Clusters = []models.ClusterScore{{Name: "B", Score: 1}}
	require.NoError(t, pg.Append(ctx, r))
	require.NoError(t, pg.Append(ctx, r))

	records, err := pg.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, r.Answers, records[0].Answers)
	assert.Equal(t, r.Clusters, records[0].Clusters)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	l, err := Open(ctx, config.ResultsConfig{Backend: config.BackendFile, Path: filepath.Join(t.TempDir(), "r.tsv")})
	require.NoError(t, err)
	assert.IsType(t, &FileLog{}, l)
	require.NoError(t, l.Close())

	l, err = Open(ctx, config.ResultsConfig{Backend: config.BackendSQLite, DSN: "file:" + filepath.Join(t.TempDir(), "r.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLLog{}, l)
	require.NoError(t, l.Close())

	_, err = Open(ctx, config.ResultsConfig{Backend: "mongo"})
	assert.Error(t, err)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	mem := NewMemoryLog()
	mem.FailNext(2, errors.New("disk full"))

	l := WithRetry(mem, 3, time.Millisecond)
	require.NoError(t, l.Append(context.Background(), record("a", 1)))
	assert.Len(t, mem.Records(), 1)
}

func TestRetryGivesUp(t *testing.T) {
	mem := NewMemoryLog()
	cause := errors.New("disk full")
	mem.FailNext(5, cause)

	l := WithRetry(mem, 3, time.Millisecond)
	err := l.Append(context.Background(), record("a", 1))

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Attempts)
	assert.Equal(t, "a", perr.RecordID)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, mem.Records())

	// the two remaining injected failures are absorbed by the next call
	require.NoError(t, l.Append(context.Background(), record("a", 1)))
	assert.Len(t, mem.Records(), 1)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	mem := NewMemoryLog()
	mem.FailNext(10, errors.New("down"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := WithRetry(mem, 5, time.Hour)
	err := l.Append(ctx, record("a", 1))

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Attempts)
}

func TestAnswersRoundTrip(t *testing.T) {
	assert.Equal(t, "", JoinAnswers(nil))
	assert.Equal(t, "0,4,2", JoinAnswers([]int{0, 4, 2}))

	got, err := SplitAnswers("0,4,2")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 2}, got)

	_, err = SplitAnswers("0,x")
	assert.Error(t, err)
}
