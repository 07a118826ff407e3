package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/screening-engine/internal/models"
)

func definition(id string, questions, options int) *models.TestDefinition {
	def := &models.TestDefinition{ID: id, Title: id, Scoring: id}
	opts := make([]string, options)
	for i := range opts {
		opts[i] = string(rune('a' + i))
	}
	for i := 0; i < questions; i++ {
		def.Questions = append(def.Questions, models.Question{Ordinal: i + 1, Text: "q", Options: opts})
	}
	return def
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryPersister struct {
	mu       sync.Mutex
	sessions map[int64]*models.Session
	fail     bool
}

func newMemoryPersister() *memoryPersister {
	return &memoryPersister{sessions: make(map[int64]*models.Session)}
}

func (p *memoryPersister) Save(_ context.Context, s *models.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("unavailable")
	}
	p.sessions[s.UserID] = s.Clone()
	return nil
}

func (p *memoryPersister) Delete(_ context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, userID)
	return nil
}

func (p *memoryPersister) Load(context.Context) ([]*models.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Session
	for _, s := range p.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first := s.GetOrCreate(ctx, 1)
	assert.Equal(t, models.StateIdle, first.State)

	require.NoError(t, s.Mutate(ctx, 1, func(sess *models.Session) error {
		sess.State = models.StateSelectingTest
		return nil
	}))

	second := s.GetOrCreate(ctx, 1)
	assert.Equal(t, models.StateSelectingTest, second.State)
	assert.Equal(t, 1, s.Len())
}

func TestReturnedSessionsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	sess := s.GetOrCreate(ctx, 1)
	sess.Answers[1] = 3
	sess.State = models.StateAnswering

	stored, ok := s.Get(1)
	require.True(t, ok)
	assert.Empty(t, stored.Answers)
	assert.Equal(t, models.StateIdle, stored.State)
}

func TestMutateWithoutSession(t *testing.T) {
	s := NewStore()
	called := false
	err := s.Mutate(context.Background(), 42, func(*models.Session) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, called)
	assert.Equal(t, 0, s.Len())
}

func TestMutateErrorLeavesSessionUnchanged(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.GetOrCreate(ctx, 1)

	boom := errors.New("boom")
	err := s.Mutate(ctx, 1, func(sess *models.Session) error {
		sess.Begin(definition("spin", 17, 5))
		sess.Record(2)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, _ := s.Get(1)
	assert.Equal(t, models.StateIdle, stored.State)
	assert.Empty(t, stored.Answers)
}

func TestMutateDropRemovesSession(t *testing.T) {
	ctx := context.Background()
	p := newMemoryPersister()
	s := NewStore(WithPersister(p))
	s.GetOrCreate(ctx, 1)

	require.NoError(t, s.Mutate(ctx, 1, func(*models.Session) error { return Drop }))

	_, ok := s.Get(1)
	assert.False(t, ok)
	assert.Empty(t, p.sessions)
	assert.ErrorIs(t, s.Mutate(ctx, 1, func(*models.Session) error { return nil }), ErrNoSession)
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.GetOrCreate(ctx, 1)

	s.Remove(ctx, 1)
	s.Remove(ctx, 1)
	s.Remove(ctx, 2)

	assert.Equal(t, 0, s.Len())
	fresh := s.GetOrCreate(ctx, 1)
	assert.Equal(t, models.StateIdle, fresh.State)
}

func TestMutateUpdatesTimestamp(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(WithClock(clock.Now))

	created := s.GetOrCreate(ctx, 1)
	clock.Advance(time.Minute)
	require.NoError(t, s.Mutate(ctx, 1, func(*models.Session) error { return nil }))

	stored, _ := s.Get(1)
	assert.Equal(t, created.CreatedAt, stored.CreatedAt)
	assert.Equal(t, created.CreatedAt.Add(time.Minute), stored.UpdatedAt)
}

func TestRemoveIdleSkipsPending(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(WithClock(clock.Now))

	s.GetOrCreate(ctx, 1)
	s.GetOrCreate(ctx, 2)
	s.GetOrCreate(ctx, 3)
	require.NoError(t, s.Mutate(ctx, 2, func(sess *models.Session) error {
		sess.TestID = "spin"
		sess.State = models.StateCompleted
		sess.Pending = &models.ResultRecord{ID: "r1", UserID: 2, TestID: "spin"}
		return nil
	}))

	clock.Advance(2 * time.Hour)
	require.NoError(t, s.Mutate(ctx, 3, func(*models.Session) error { return nil }))

	removed := s.RemoveIdle(ctx, time.Hour)
	assert.Equal(t, []int64{1}, removed)
	assert.Equal(t, []int64{2}, s.Pending())

	ids := []int64{}
	for _, sess := range s.List() {
		ids = append(ids, sess.UserID)
	}
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestConcurrentUsersDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	const users = 20
	const answers = 50
	def := definition("t", answers+1, users+1)

	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		s.GetOrCreate(ctx, u)
		require.NoError(t, s.Mutate(ctx, u, func(sess *models.Session) error {
			sess.Begin(def)
			return nil
		}))

		for i := 0; i < answers; i++ {
			wg.Add(1)
			go func(user int64) {
				defer wg.Done()
				err := s.Mutate(ctx, user, func(sess *models.Session) error {
					sess.Record(int(user))
					return sess.CheckInvariants()
				})
				assert.NoError(t, err)
			}(u)
		}
	}
	wg.Wait()

	for u := int64(1); u <= users; u++ {
		sess, ok := s.Get(u)
		require.True(t, ok)
		assert.Len(t, sess.Answers, answers)
		assert.Equal(t, answers+1, sess.CurrentOrdinal)
		for _, v := range sess.Answers {
			assert.Equal(t, int(u), v, "user %d saw a foreign answer", u)
		}
	}
}

func TestConcurrentRemoveAndMutate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		s.GetOrCreate(ctx, 7)
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := s.Mutate(ctx, 7, func(sess *models.Session) error {
				sess.State = models.StateSelectingTest
				return nil
			})
			if err != nil {
				assert.ErrorIs(t, err, ErrNoSession)
			}
		}()
		go func() {
			defer wg.Done()
			s.Remove(ctx, 7)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 1)
}

func TestPersisterSnapshotsAndRestore(t *testing.T) {
	ctx := context.Background()
	p := newMemoryPersister()
	s := NewStore(WithPersister(p))

	s.GetOrCreate(ctx, 5)
	require.NoError(t, s.Mutate(ctx, 5, func(sess *models.Session) error {
		sess.Begin(definition("beck-anxiety", 21, 4))
		sess.Record(1)
		sess.Record(2)
		return nil
	}))

	restarted := NewStore(WithPersister(p))
	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sess, ok := restarted.Get(5)
	require.True(t, ok)
	assert.Equal(t, models.StateAnswering, sess.State)
	assert.Equal(t, 3, sess.CurrentOrdinal)
	assert.Equal(t, []int{1, 2}, sess.OrderedAnswers())
}

func TestRestoreSkipsInconsistentSnapshots(t *testing.T) {
	ctx := context.Background()
	p := newMemoryPersister()
	spin := definition("spin", 17, 5)
	p.sessions[1] = &models.Session{UserID: 1, State: models.StateAnswering, TestID: "spin", Test: spin, CurrentOrdinal: 4, Answers: map[int]int{1: 0}}
	p.sessions[2] = &models.Session{UserID: 2, State: models.StateSelectingTest}
	p.sessions[3] = &models.Session{UserID: 3, State: models.StateAnswering, TestID: "spin", Test: spin, CurrentOrdinal: 3, Answers: map[int]int{1: 0, 2: 7}}
	p.sessions[4] = &models.Session{UserID: 4, State: models.StateAnswering, TestID: "spin", CurrentOrdinal: 2, Answers: map[int]int{1: 0}}
	p.sessions[5] = &models.Session{UserID: 5, State: models.StateAnswering, TestID: "spin", Test: spin, CurrentOrdinal: 3, Answers: map[int]int{1: 0, 2: 4}}

	s := NewStore(WithPersister(p))
	n, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []int64{1, 3, 4} {
		_, ok := s.Get(id)
		assert.False(t, ok, "user %d", id)
	}
	restored, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, []int{0, 4}, restored.OrderedAnswers())
	sess, ok := s.Get(2)
	require.True(t, ok)
	assert.NotNil(t, sess.Answers)
}

func TestPersisterFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	p := newMemoryPersister()
	p.fail = true
	s := NewStore(WithPersister(p))

	s.GetOrCreate(ctx, 1)
	err := s.Mutate(ctx, 1, func(sess *models.Session) error {
		sess.State = models.StateSelectingTest
		return nil
	})
	require.NoError(t, err)

	sess, _ := s.Get(1)
	assert.Equal(t, models.StateSelectingTest, sess.State)
}
