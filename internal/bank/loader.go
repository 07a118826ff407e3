package bank

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/screening-engine/internal/models"
)

// CatalogFile is the name of the catalog inside a bank directory
const CatalogFile = "catalog.yaml"

// ErrUnknownTest is returned when a test id was never loaded
var ErrUnknownTest = errors.New("unknown test")

// MalformedBankError reports a test definition that could not be loaded.
// The previously loaded definition of the test, if any, stays in place.
type MalformedBankError struct {
	TestID string
	Err    error
}

func (e *MalformedBankError) Error() string {
	return fmt.Sprintf("malformed bank for test %q: %v", e.TestID, e.Err)
}

func (e *MalformedBankError) Unwrap() error {
	return e.Err
}

func malformed(testID string, format string, args ...any) error {
	return &MalformedBankError{TestID: testID, Err: fmt.Errorf(format, args...)}
}

// Loader loads and caches test definitions.
// Definitions are built off to the side and swapped in whole, so readers
// never observe a partially loaded test.
type Loader struct {
	mu      sync.RWMutex
	dir     string
	catalog map[string]catalogEntry
	tests   map[string]*models.TestDefinition
	order   []string
	check   func(*models.TestDefinition) error
}

// NewLoader creates a new question bank loader
func NewLoader() *Loader {
	return &Loader{
		catalog: make(map[string]catalogEntry),
		tests:   make(map[string]*models.TestDefinition),
	}
}

// SetCheck installs an extra acceptance check run on every definition
// before it is swapped in. A definition failing it is malformed.
func (l *Loader) SetCheck(check func(*models.TestDefinition) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.check = check
}

func (l *Loader) accept(def *models.TestDefinition) error {
	l.mu.RLock()
	check := l.check
	l.mu.RUnlock()

	if check == nil {
		return nil
	}
	if err := check(def); err != nil {
		return &MalformedBankError{TestID: def.ID, Err: err}
	}
	return nil
}

// LoadFromDir reads the catalog in dir and loads every test it lists.
// Tests that fail to load are skipped; the returned error joins their failures.
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading question bank", "dir", dir)

	if err := l.LoadCatalog(dir); err != nil {
		return err
	}

	return l.LoadAll()
}

// LoadCatalog reads catalog.yaml from dir without loading any test
func (l *Loader) LoadCatalog(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, CatalogFile))
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse catalog: %w", err)
	}

	catalog := make(map[string]catalogEntry, len(cf.Tests))
	ids := make([]string, 0, len(cf.Tests))
	for i, entry := range cf.Tests {
		if entry.ID == "" {
			return fmt.Errorf("catalog entry %d has no id", i+1)
		}
		if _, dup := catalog[entry.ID]; dup {
			return fmt.Errorf("duplicate catalog entry %q", entry.ID)
		}
		catalog[entry.ID] = entry
		ids = append(ids, entry.ID)
	}

	l.mu.Lock()
	l.dir = dir
	l.catalog = catalog
	for _, id := range ids {
		l.track(id)
	}
	l.mu.Unlock()

	slog.Info("catalog loaded", "dir", dir, "tests", len(ids))
	return nil
}

// LoadAll loads every test listed in the catalog
func (l *Loader) LoadAll() error {
	l.mu.RLock()
	ids := make([]string, 0, len(l.catalog))
	for _, id := range l.order {
		if _, ok := l.catalog[id]; ok {
			ids = append(ids, id)
		}
	}
	l.mu.RUnlock()

	var errs []error
	loaded := 0
	for _, id := range ids {
		if _, err := l.Load(id); err != nil {
			slog.Warn("failed to load test", "test_id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		loaded++
	}

	slog.Info("question bank loaded", "count", loaded, "total", len(ids))
	return errors.Join(errs...)
}

// Load reads and validates a test from its backing file and swaps it in.
// Reloading an already loaded test replaces it atomically.
func (l *Loader) Load(testID string) (*models.TestDefinition, error) {
	l.mu.RLock()
	entry, ok := l.catalog[testID]
	dir := l.dir
	l.mu.RUnlock()

	if !ok {
		return nil, malformed(testID, "no catalog entry")
	}

	def, err := entry.build(dir)
	if err != nil {
		return nil, err
	}
	if err := l.accept(def); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.tests[testID] = def
	l.track(testID)
	l.mu.Unlock()

	slog.Info("test loaded", "test_id", testID, "questions", def.Len())
	return def, nil
}

// Reload is Load for a test that may already be cached
func (l *Loader) Reload(testID string) (*models.TestDefinition, error) {
	return l.Load(testID)
}

// Get retrieves a loaded test by id
func (l *Loader) Get(testID string) (*models.TestDefinition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	def, ok := l.tests[testID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTest, testID)
	}
	return def, nil
}

// List returns all loaded tests in catalog order
func (l *Loader) List() []*models.TestDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*models.TestDefinition, 0, len(l.tests))
	for _, id := range l.order {
		if def, ok := l.tests[id]; ok {
			result = append(result, def)
		}
	}
	return result
}

// Add programmatically adds a validated test definition
func (l *Loader) Add(def *models.TestDefinition) error {
	if def == nil {
		return malformed("", "nil definition")
	}
	if err := def.Validate(); err != nil {
		return &MalformedBankError{TestID: def.ID, Err: err}
	}
	if def.Scoring == "" {
		def.Scoring = def.ID
	}
	if err := l.accept(def); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tests[def.ID] = def
	l.track(def.ID)
	return nil
}

// Remove removes a test by id
func (l *Loader) Remove(testID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tests, testID)
}

// CatalogIDs returns the ids listed in the catalog, sorted
func (l *Loader) CatalogIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.catalog))
	for id := range l.catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// track remembers first-seen order; callers hold l.mu
func (l *Loader) track(id string) {
	for _, seen := range l.order {
		if seen == id {
			return
		}
	}
	l.order = append(l.order, id)
}

// --- YAML file structs ---

// catalogFile represents the YAML structure of catalog.yaml
type catalogFile struct {
	Tests []catalogEntry `yaml:"tests"`
}

// catalogEntry describes where and how a single test is stored
type catalogEntry struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	File      string `yaml:"file"`
	Options   int    `yaml:"options"`
	Questions int    `yaml:"questions"`
	Header    bool   `yaml:"header"`
	Scoring   string `yaml:"scoring"`
}

// build reads the entry's file and returns a validated definition
func (e catalogEntry) build(dir string) (*models.TestDefinition, error) {
	if e.File == "" {
		return nil, malformed(e.ID, "no file configured")
	}
	if e.Options < 2 {
		return nil, malformed(e.ID, "catalog declares %d options, need at least 2", e.Options)
	}

	path := e.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &MalformedBankError{TestID: e.ID, Err: err}
	}
	defer f.Close()

	questions, err := ParseTSV(f, e.Options+1, e.Header)
	if err != nil {
		return nil, &MalformedBankError{TestID: e.ID, Err: err}
	}

	if e.Questions > 0 && len(questions) != e.Questions {
		return nil, malformed(e.ID, "file has %d questions, catalog expects %d", len(questions), e.Questions)
	}

	title := e.Title
	if title == "" {
		title = e.ID
	}
	scoring := e.Scoring
	if scoring == "" {
		scoring = e.ID
	}

	def := &models.TestDefinition{
		ID:        e.ID,
		Title:     title,
		Scoring:   scoring,
		Questions: questions,
	}
	if err := def.Validate(); err != nil {
		return nil, &MalformedBankError{TestID: e.ID, Err: err}
	}
	return def, nil
}
