package scoring

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/terra-clan/screening-engine/internal/models"
)

// Common errors
var (
	ErrIncompleteAnswers = errors.New("answer count does not match test length")
	ErrInvalidAnswer     = errors.New("answer outside the question's option range")
	ErrUnknownStrategy   = errors.New("unknown scoring strategy")
)

// Engine routes a test to its scoring strategy
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewEngine creates an engine with no strategies registered
func NewEngine() *Engine {
	return &Engine{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy under the given key
func (e *Engine) Register(name string, strategy Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[name] = strategy
}

// Get retrieves a strategy by key
func (e *Engine) Get(name string) Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategies[name]
}

// List returns all registered strategy keys
func (e *Engine) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check reports whether def can be scored by a registered strategy
func (e *Engine) Check(def *models.TestDefinition) error {
	if e.Get(def.Scoring) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, def.Scoring)
	}
	return nil
}

// Unscorable returns the ids of definitions whose scoring key has no
// registered strategy
func (e *Engine) Unscorable(defs []*models.TestDefinition) []string {
	var missing []string
	for _, def := range defs {
		if e.Check(def) != nil {
			missing = append(missing, def.ID)
		}
	}
	return missing
}

// Score computes the score of a complete answer sequence against def.
// answers[i] is the option index chosen for ordinal i+1.
func (e *Engine) Score(def *models.TestDefinition, answers []int) (models.Score, error) {
	if def == nil {
		return models.Score{}, errors.New("no test definition to score against")
	}

	if len(answers) != def.Len() {
		return models.Score{}, fmt.Errorf("%w: test %s has %d questions, got %d answers",
			ErrIncompleteAnswers, def.ID, def.Len(), len(answers))
	}

	for i, a := range answers {
		if !def.Questions[i].ValidOption(a) {
			return models.Score{}, fmt.Errorf("%w: question %d answer %d", ErrInvalidAnswer, i+1, a)
		}
	}

	strategy := e.Get(def.Scoring)
	if strategy == nil {
		return models.Score{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, def.Scoring)
	}

	return strategy.Score(answers)
}
