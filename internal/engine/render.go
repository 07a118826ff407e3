package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/terra-clan/screening-engine/internal/models"
)

// Offer options shown when a user starts over with a test in progress
const (
	OptionResume = "Resume"
	OptionCancel = "Cancel test"
)

// renderMenu sends the test selection menu as a new prompt.
// The menu is not tracked in prompt_ref.
func (m *Machine) renderMenu(ctx context.Context, userID int64, notice string) {
	tests := m.tests.List()
	titles := make([]string, len(tests))
	for i, t := range tests {
		titles[i] = t.Title
	}

	text := "Choose a test:"
	if notice != "" {
		text = notice + "\n\n" + text
	}

	if _, err := m.messenger.SendPrompt(ctx, userID, text, titles); err != nil {
		slog.Warn("failed to send menu", "user_id", userID, "error", err)
	}
}

// renderQuestion shows the session's current question. The first question of
// a test is sent as a new prompt; later ones edit the previous prompt in place,
// falling back to a new prompt when the edit fails.
func (m *Machine) renderQuestion(ctx context.Context, s *models.Session, def *models.TestDefinition, forceNew bool) {
	q, ok := def.Question(s.CurrentOrdinal)
	if !ok {
		return
	}
	text := questionText(def, q)

	if s.PromptRef != "" && !forceNew {
		err := m.messenger.EditPrompt(ctx, s.PromptRef, text, q.Options)
		if err == nil {
			return
		}
		if errors.Is(err, ErrPromptNotFound) {
			slog.Debug("prompt gone, sending a new one", "user_id", s.UserID, "ref", s.PromptRef)
		} else {
			slog.Warn("failed to edit prompt", "user_id", s.UserID, "ref", s.PromptRef, "error", err)
		}
	}

	ref, err := m.messenger.SendPrompt(ctx, s.UserID, text, q.Options)
	if err != nil {
		slog.Warn("failed to send question", "user_id", s.UserID, "ordinal", q.Ordinal, "error", err)
		return
	}
	s.PromptRef = ref
}

// renderResult replaces the last question with the result, or sends it as
// a plain message when there is no prompt to edit.
func (m *Machine) renderResult(ctx context.Context, s *models.Session, text string) {
	if s.PromptRef != "" {
		if err := m.messenger.EditPrompt(ctx, s.PromptRef, text, nil); err == nil {
			return
		}
	}
	m.sendPlain(ctx, s.UserID, text)
}

func (m *Machine) offerResume(ctx context.Context, s *models.Session) error {
	title := s.TestID
	total := 0
	if s.Test != nil {
		title = s.Test.Title
		total = s.Test.Len()
	}

	text := fmt.Sprintf("You have an unfinished test %q (question %d of %d). Resume it or cancel it?", title, s.CurrentOrdinal, total)
	if _, err := m.messenger.SendPrompt(ctx, s.UserID, text, []string{OptionResume, OptionCancel}); err != nil {
		slog.Warn("failed to send resume offer", "user_id", s.UserID, "error", err)
	}
	return nil
}

func (m *Machine) sendPlain(ctx context.Context, userID int64, text string) {
	if err := m.messenger.SendPlain(ctx, userID, text); err != nil {
		slog.Warn("failed to send message", "user_id", userID, "error", err)
	}
}

func questionText(def *models.TestDefinition, q *models.Question) string {
	return fmt.Sprintf("%s\nQuestion %d of %d\n\n%s", def.Title, q.Ordinal, def.Len(), q.Text)
}

func resultText(title string, r *models.ResultRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test %q completed: score %d. %s.", title, r.Total, r.Category)
	for _, c := range r.Clusters {
		fmt.Fprintf(&b, "\nCluster %s: %d", c.Name, c.Score)
	}
	return b.String()
}
