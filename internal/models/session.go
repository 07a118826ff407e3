package models

import (
	"fmt"
	"time"
)

// SessionState represents the conversational state of a session
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateSelectingTest SessionState = "selecting_test"
	StateAnswering     SessionState = "answering"
	StateCompleted     SessionState = "completed" // Scored, result not yet durably recorded
)

// Session is the mutable per-user state of one assessment.
// It is only ever mutated through the session store.
type Session struct {
	UserID         int64           `json:"user_id"`
	TestID         string          `json:"test_id,omitempty"`
	Test           *TestDefinition `json:"test,omitempty"` // pinned when the test began
	State          SessionState    `json:"state"`
	CurrentOrdinal int             `json:"current_ordinal,omitempty"`
	Answers        map[int]int     `json:"answers,omitempty"`
	PromptRef      string          `json:"prompt_ref,omitempty"`
	Pending        *ResultRecord   `json:"pending,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewSession creates an idle session for the user
func NewSession(userID int64, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		State:     StateIdle,
		Answers:   make(map[int]int),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Begin starts def from its first question. The session keeps def for the
// rest of the assessment, so reloading the bank does not affect it.
func (s *Session) Begin(def *TestDefinition) {
	s.TestID = def.ID
	s.Test = def
	s.State = StateAnswering
	s.CurrentOrdinal = 1
	s.Answers = make(map[int]int)
	s.PromptRef = ""
	s.Pending = nil
}

// ResetToSelection discards progress and returns to test selection
func (s *Session) ResetToSelection() {
	s.TestID = ""
	s.Test = nil
	s.State = StateSelectingTest
	s.CurrentOrdinal = 0
	s.Answers = make(map[int]int)
	s.PromptRef = ""
	s.Pending = nil
}

// Record stores the answer for the current question and advances
func (s *Session) Record(option int) {
	s.Answers[s.CurrentOrdinal] = option
	s.CurrentOrdinal++
}

// OrderedAnswers returns answers as a slice indexed by ordinal-1
func (s *Session) OrderedAnswers() []int {
	out := make([]int, 0, len(s.Answers))
	for i := 1; i <= len(s.Answers); i++ {
		v, ok := s.Answers[i]
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// IdleFor returns how long the session has gone without a mutation
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}

// HasPending reports whether a completed result is still awaiting persistence
func (s *Session) HasPending() bool {
	return s.State == StateCompleted && s.Pending != nil
}

// CheckInvariants verifies the answer bookkeeping of the session against
// its pinned test definition
func (s *Session) CheckInvariants() error {
	switch s.State {
	case StateAnswering, StateCompleted:
		if s.TestID == "" {
			return fmt.Errorf("state %s without test id", s.State)
		}
	}
	if s.State != StateAnswering {
		return nil
	}
	if s.Test == nil {
		return fmt.Errorf("answering test %s without its definition", s.TestID)
	}
	if s.Test.ID != s.TestID {
		return fmt.Errorf("definition %s pinned for test %s", s.Test.ID, s.TestID)
	}
	if s.CurrentOrdinal < 1 || s.CurrentOrdinal > s.Test.Len() {
		return fmt.Errorf("ordinal %d outside test %s of %d questions", s.CurrentOrdinal, s.TestID, s.Test.Len())
	}
	if len(s.Answers) != s.CurrentOrdinal-1 {
		return fmt.Errorf("%d answers recorded at ordinal %d", len(s.Answers), s.CurrentOrdinal)
	}
	for ordinal, option := range s.Answers {
		if ordinal < 1 || ordinal >= s.CurrentOrdinal {
			return fmt.Errorf("answer for ordinal %d outside [1, %d)", ordinal, s.CurrentOrdinal)
		}
		if !s.Test.Questions[ordinal-1].ValidOption(option) {
			return fmt.Errorf("answer %d to question %d is not an offered option", option, ordinal)
		}
	}
	return nil
}

// Clone returns a copy safe to hand out of the store. The pinned
// definition is immutable and shared.
func (s *Session) Clone() *Session {
	c := *s
	c.Answers = make(map[int]int, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	if s.Pending != nil {
		p := s.Pending.Clone()
		c.Pending = &p
	}
	return &c
}
