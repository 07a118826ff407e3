package engine

import (
	"context"
	"errors"
)

// ErrPromptNotFound is returned by EditPrompt when the referenced prompt no
// longer exists or can no longer be edited.
var ErrPromptNotFound = errors.New("prompt not found")

// Messenger delivers prompts and messages to users over some chat transport
type Messenger interface {
	// SendPrompt sends a new message with selectable options and returns a
	// reference that can be passed to EditPrompt.
	SendPrompt(ctx context.Context, userID int64, text string, options []string) (string, error)
	// EditPrompt replaces the text and options of a previously sent prompt
	EditPrompt(ctx context.Context, ref string, text string, options []string) error
	// SendPlain sends a message without options
	SendPlain(ctx context.Context, userID int64, text string) error
}
