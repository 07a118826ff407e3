package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/screening-engine/internal/models"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from  models.SessionState
		event string
		to    models.SessionState
		ok    bool
	}{
		{models.StateIdle, eventStart, models.StateSelectingTest, true},
		{models.StateSelectingTest, eventStart, models.StateSelectingTest, true},
		{models.StateSelectingTest, eventSelect, models.StateAnswering, true},
		{models.StateAnswering, eventAnswer, models.StateAnswering, true},
		{models.StateAnswering, eventComplete, models.StateCompleted, true},
		{models.StateAnswering, eventReset, models.StateSelectingTest, true},
		{models.StateSelectingTest, eventCancel, models.StateIdle, true},
		{models.StateAnswering, eventResume, models.StateAnswering, true},
		{models.StateIdle, eventSelect, models.StateIdle, false},
		{models.StateIdle, eventAnswer, models.StateIdle, false},
		{models.StateSelectingTest, eventAnswer, models.StateSelectingTest, false},
		{models.StateAnswering, eventSelect, models.StateAnswering, false},
		{models.StateCompleted, eventReset, models.StateCompleted, false},
		{models.StateCompleted, eventCancel, models.StateCompleted, false},
		{models.StateCompleted, eventAnswer, models.StateCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.event, func(t *testing.T) {
			got, err := transition(context.Background(), tt.from, tt.event)
			if tt.ok {
				require.NoError(t, err)
				assert.True(t, allowed(tt.from, tt.event))
			} else {
				assert.ErrorIs(t, err, ErrUnexpectedEvent)
				assert.False(t, allowed(tt.from, tt.event))
			}
			assert.Equal(t, tt.to, got)
		})
	}
}
