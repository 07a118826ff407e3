package resultlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/terra-clan/screening-engine/internal/models"
)

// Header is the first row of a file result log
var Header = []string{"user_id", "timestamp", "test_id", "total_score", "category", "raw_answers", "record_id"}

// FileLog appends tab-separated records to a local file. Appends are
// idempotent by record id, including across reopening the file.
type FileLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	seen map[string]struct{}
}

// OpenFile opens or creates the log at path, writing the header to a new file
func OpenFile(path string) (*FileLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create results directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat results file: %w", err)
	}

	l := &FileLog{path: path, file: f, seen: make(map[string]struct{})}
	if info.Size() == 0 {
		if err := l.write(Header, ""); err != nil {
			f.Close()
			return nil, err
		}
		return l, nil
	}

	existing, err := ReadFile(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	for _, r := range existing {
		if r.ID != "" {
			l.seen[r.ID] = struct{}{}
		}
	}
	return l, nil
}

// Append writes the record as one line. A record whose id is already in
// the file is not written again.
func (l *FileLog) Append(_ context.Context, r models.ResultRecord) error {
	return l.write([]string{
		strconv.FormatInt(r.UserID, 10),
		r.Timestamp.UTC().Format(time.RFC3339),
		r.TestID,
		strconv.Itoa(r.Total),
		r.Category,
		JoinAnswers(r.Answers),
		r.ID,
	}, r.ID)
}

// write encodes the row off the lock and issues a single write. A row that
// reached the file counts as written for id even when the sync fails, so a
// retry does not duplicate it.
func (l *FileLog) write(row []string, id string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("results file %s is closed", l.path)
	}
	if id != "" {
		if _, dup := l.seen[id]; dup {
			return nil
		}
	}
	if _, err := l.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if id != "" {
		l.seen[id] = struct{}{}
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync results file: %w", err)
	}
	return nil
}

// Ping checks that the file is still open
func (l *FileLog) Ping(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("results file %s is closed", l.path)
	}
	return nil
}

// Close closes the file
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadFile parses a file result log. Cluster sub-scores are not stored in
// the file layout and come back empty.
func ReadFile(path string) ([]models.ResultRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = len(Header)

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse results file: %w", err)
	}

	var out []models.ResultRecord
	for i, row := range rows {
		if i == 0 {
			continue
		}
		userID, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid user id: %w", i+1, err)
		}
		ts, err := time.Parse(time.RFC3339, row[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid timestamp: %w", i+1, err)
		}
		total, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid total: %w", i+1, err)
		}
		answers, err := SplitAnswers(row[5])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, models.ResultRecord{
			ID:        row[6],
			UserID:    userID,
			Timestamp: ts,
			TestID:    row[2],
			Total:     total,
			Category:  row[4],
			Answers:   answers,
		})
	}
	return out, nil
}
