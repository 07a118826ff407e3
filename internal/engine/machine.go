package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/screening-engine/internal/bank"
	"github.com/terra-clan/screening-engine/internal/models"
	"github.com/terra-clan/screening-engine/internal/resultlog"
	"github.com/terra-clan/screening-engine/internal/sessions"
)

// EventKind identifies an inbound user event
type EventKind string

const (
	Start  EventKind = "start"
	Select EventKind = "select"
	Answer EventKind = "answer"
	Cancel EventKind = "cancel"
	Reset  EventKind = "reset"
	Resume EventKind = "resume"
)

// Event is one inbound user action. Select uses TestID, or Option as an
// index into the test menu when TestID is empty. Answer uses Option.
type Event struct {
	Kind   EventKind `json:"type"`
	UserID int64     `json:"user_id"`
	TestID string    `json:"test_id,omitempty"`
	Option int       `json:"option"`
}

// TestSource provides loaded test definitions
type TestSource interface {
	Get(testID string) (*models.TestDefinition, error)
	List() []*models.TestDefinition
}

// Scorer scores a complete answer sequence against the definition it
// was given
type Scorer interface {
	Score(def *models.TestDefinition, answers []int) (models.Score, error)
}

// Machine drives user sessions through test selection, answering and
// completion. Every event of a user is applied under that user's session
// lock, so events of one user never interleave.
type Machine struct {
	tests     TestSource
	scorer    Scorer
	store     *sessions.Store
	results   resultlog.ResultLog
	messenger Messenger
	now       func() time.Time
	newID     func() string
}

// Option configures a Machine
type Option func(*Machine)

// WithClock overrides the time source used for result timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithIDGenerator overrides result record id generation
func WithIDGenerator(fn func() string) Option {
	return func(m *Machine) {
		m.newID = fn
	}
}

// NewMachine creates a new state machine
func NewMachine(tests TestSource, scorer Scorer, store *sessions.Store, results resultlog.ResultLog, messenger Messenger, opts ...Option) *Machine {
	m := &Machine{
		tests:     tests,
		scorer:    scorer,
		store:     store,
		results:   results,
		messenger: messenger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle applies one event. User input errors are reported to the user and
// returned as *UserInputError; any other error is a system failure.
func (m *Machine) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case Start:
		return m.start(ctx, ev.UserID)
	case Select:
		return m.selectTest(ctx, ev)
	case Answer:
		return m.answer(ctx, ev.UserID, ev.Option)
	case Cancel:
		return m.cancel(ctx, ev.UserID)
	case Reset:
		return m.reset(ctx, ev.UserID)
	case Resume:
		return m.resume(ctx, ev.UserID)
	default:
		return &UserInputError{Kind: ev.Kind, Err: ErrUnexpectedEvent}
	}
}

// mutate runs fn under the user's session lock and checks the session
// invariants before the result is stored.
func (m *Machine) mutate(ctx context.Context, userID int64, fn func(*models.Session) error) error {
	return m.store.Mutate(ctx, userID, func(s *models.Session) error {
		if err := fn(s); err != nil {
			return err
		}
		if err := s.CheckInvariants(); err != nil {
			return fmt.Errorf("session invariant violated for user %d: %w", userID, err)
		}
		return nil
	})
}

func (m *Machine) start(ctx context.Context, userID int64) error {
	m.store.GetOrCreate(ctx, userID)

	return m.mutate(ctx, userID, func(s *models.Session) error {
		switch s.State {
		case models.StateAnswering:
			return m.offerResume(ctx, s)
		case models.StateCompleted:
			return m.persist(ctx, s, true)
		}

		next, err := transition(ctx, s.State, eventStart)
		if err != nil {
			return err
		}
		s.State = next
		m.renderMenu(ctx, userID, "")
		return nil
	})
}

func (m *Machine) selectTest(ctx context.Context, ev Event) error {
	m.store.GetOrCreate(ctx, ev.UserID)

	var userErr error
	err := m.mutate(ctx, ev.UserID, func(s *models.Session) error {
		if s.State == models.StateIdle {
			next, err := transition(ctx, s.State, eventStart)
			if err != nil {
				return err
			}
			s.State = next
		}

		if !allowed(s.State, eventSelect) {
			userErr = m.refuse(ctx, s, Select)
			return nil
		}

		testID := ev.TestID
		if testID == "" {
			testID = m.menuID(ev.Option)
		}

		def, err := m.tests.Get(testID)
		if errors.Is(err, bank.ErrUnknownTest) {
			userErr = &UserInputError{Kind: Select, Err: fmt.Errorf("%w: %q", bank.ErrUnknownTest, testID)}
			m.renderMenu(ctx, s.UserID, "Unknown test, please choose one from the list.")
			return nil
		}
		if err != nil {
			return err
		}

		next, err := transition(ctx, s.State, eventSelect)
		if err != nil {
			return err
		}
		s.Begin(def)
		s.State = next
		m.renderQuestion(ctx, s, def, false)
		return nil
	})
	if err != nil {
		return err
	}
	return userErr
}

func (m *Machine) answer(ctx context.Context, userID int64, option int) error {
	var userErr error
	err := m.mutate(ctx, userID, func(s *models.Session) error {
		if !allowed(s.State, eventAnswer) {
			userErr = m.refuse(ctx, s, Answer)
			return nil
		}

		def, err := pinned(s)
		if err != nil {
			return err
		}
		q, ok := def.Question(s.CurrentOrdinal)
		if !ok {
			return fmt.Errorf("ordinal %d outside test %s", s.CurrentOrdinal, s.TestID)
		}

		if !q.ValidOption(option) {
			userErr = &UserInputError{Kind: Answer, Err: fmt.Errorf("%w: %d of %d", ErrInvalidOption, option, len(q.Options))}
			m.sendPlain(ctx, userID, "Please choose one of the offered options.")
			m.renderQuestion(ctx, s, def, false)
			return nil
		}

		s.Record(option)
		if s.CurrentOrdinal <= def.Len() {
			next, err := transition(ctx, s.State, eventAnswer)
			if err != nil {
				return err
			}
			s.State = next
			m.renderQuestion(ctx, s, def, false)
			return nil
		}

		return m.complete(ctx, s, def)
	})

	if errors.Is(err, sessions.ErrNoSession) {
		m.sendPlain(ctx, userID, "No test in progress. Send start to begin.")
		return &UserInputError{Kind: Answer, Err: ErrNoActiveTest}
	}
	if err != nil {
		return err
	}
	return userErr
}

// complete scores the finished session and records the result
func (m *Machine) complete(ctx context.Context, s *models.Session, def *models.TestDefinition) error {
	answers := s.OrderedAnswers()
	score, err := m.scorer.Score(def, answers)
	if err != nil {
		m.sendPlain(ctx, s.UserID, "Sorry, your answers could not be scored right now. Your progress is kept: send resume to answer the last question again later.")
		return fmt.Errorf("%w: test %s: %w", ErrScoringFailed, s.TestID, err)
	}

	next, err := transition(ctx, s.State, eventComplete)
	if err != nil {
		return err
	}
	s.State = next
	s.Pending = &models.ResultRecord{
		ID:        m.newID(),
		UserID:    s.UserID,
		TestID:    s.TestID,
		Timestamp: m.now().UTC(),
		Total:     score.Total,
		Clusters:  score.Clusters,
		Category:  score.Category,
		Answers:   answers,
	}

	slog.Info("test completed",
		"user_id", s.UserID,
		"test_id", s.TestID,
		"total", score.Total,
		"category", score.Category,
	)

	return m.persist(ctx, s, true)
}

// persist appends the pending result. On success the result is shown and the
// session dropped; on failure the session stays completed with its result
// pending so a later retry can still record it.
func (m *Machine) persist(ctx context.Context, s *models.Session, notify bool) error {
	if err := m.results.Append(ctx, *s.Pending); err != nil {
		slog.Error("failed to persist result",
			"user_id", s.UserID,
			"test_id", s.TestID,
			"record_id", s.Pending.ID,
			"error", err,
		)
		if notify {
			m.sendPlain(ctx, s.UserID, "Your test is complete, but saving the result is delayed. It will be saved automatically; you can also send start to retry.")
		}
		return nil
	}

	title := s.TestID
	if s.Test != nil {
		title = s.Test.Title
	} else if def, err := m.tests.Get(s.TestID); err == nil {
		title = def.Title
	}
	m.renderResult(ctx, s, resultText(title, s.Pending))
	return sessions.Drop
}

// RetryPending retries persisting a completed result held by the user's
// session. It returns nil when there is nothing pending.
func (m *Machine) RetryPending(ctx context.Context, userID int64) error {
	var stillPending bool
	err := m.mutate(ctx, userID, func(s *models.Session) error {
		if !s.HasPending() {
			return nil
		}
		err := m.persist(ctx, s, false)
		stillPending = err == nil
		return err
	})
	if errors.Is(err, sessions.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if stillPending {
		return fmt.Errorf("result for user %d is still pending", userID)
	}
	return nil
}

func (m *Machine) cancel(ctx context.Context, userID int64) error {
	var userErr error
	err := m.mutate(ctx, userID, func(s *models.Session) error {
		if s.HasPending() {
			userErr = &UserInputError{Kind: Cancel, Err: ErrResultPending}
			m.sendPlain(ctx, userID, "Your completed test is still being saved and cannot be cancelled.")
			return nil
		}
		if _, err := transition(ctx, s.State, eventCancel); err != nil {
			return err
		}
		m.sendPlain(ctx, userID, "Test cancelled. Send start to begin again.")
		return sessions.Drop
	})

	if errors.Is(err, sessions.ErrNoSession) {
		m.sendPlain(ctx, userID, "Nothing to cancel.")
		return nil
	}
	if err != nil {
		return err
	}
	return userErr
}

func (m *Machine) reset(ctx context.Context, userID int64) error {
	var userErr error
	err := m.mutate(ctx, userID, func(s *models.Session) error {
		if s.HasPending() {
			userErr = &UserInputError{Kind: Reset, Err: ErrResultPending}
			m.sendPlain(ctx, userID, "Your completed test is still being saved and cannot be reset.")
			return nil
		}
		next, err := transition(ctx, s.State, eventReset)
		if err != nil {
			return err
		}
		s.ResetToSelection()
		s.State = next
		m.renderMenu(ctx, userID, "")
		return nil
	})

	if errors.Is(err, sessions.ErrNoSession) {
		m.sendPlain(ctx, userID, "Nothing to reset. Send start to begin.")
		return nil
	}
	if err != nil {
		return err
	}
	return userErr
}

func (m *Machine) resume(ctx context.Context, userID int64) error {
	var userErr error
	err := m.mutate(ctx, userID, func(s *models.Session) error {
		if !allowed(s.State, eventResume) {
			userErr = m.refuse(ctx, s, Resume)
			return nil
		}
		def, err := pinned(s)
		if err != nil {
			return err
		}
		m.renderQuestion(ctx, s, def, true)
		return nil
	})

	if errors.Is(err, sessions.ErrNoSession) {
		m.sendPlain(ctx, userID, "No test in progress. Send start to begin.")
		return &UserInputError{Kind: Resume, Err: ErrNoActiveTest}
	}
	if err != nil {
		return err
	}
	return userErr
}

// refuse reports an event that the session's state does not accept
func (m *Machine) refuse(ctx context.Context, s *models.Session, kind EventKind) error {
	switch s.State {
	case models.StateCompleted:
		m.sendPlain(ctx, s.UserID, "Your completed test is still being saved. Send start to retry.")
		return &UserInputError{Kind: kind, Err: ErrResultPending}
	case models.StateAnswering:
		m.sendPlain(ctx, s.UserID, "A test is already in progress. Answer the current question, or send cancel or reset.")
	default:
		m.sendPlain(ctx, s.UserID, "No test in progress. Send start to begin.")
	}
	return &UserInputError{Kind: kind, Err: fmt.Errorf("%w: %s in state %s", ErrUnexpectedEvent, kind, s.State)}
}

// pinned returns the definition the session's test began with
func pinned(s *models.Session) (*models.TestDefinition, error) {
	if s.Test == nil {
		return nil, fmt.Errorf("session of user %d has no definition pinned for test %s", s.UserID, s.TestID)
	}
	return s.Test, nil
}

func (m *Machine) menuID(index int) string {
	tests := m.tests.List()
	if index < 0 || index >= len(tests) {
		return ""
	}
	return tests[index].ID
}
