package sessions

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/screening-engine/internal/models"
)

func TestRedisPersister(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDRESS not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { client.Close() })

	p := NewRedisPersisterFromClient(client, time.Hour)

	sess := models.NewSession(11, time.Now())
	sess.Begin(&models.TestDefinition{
		ID: "pcl5",
		Questions: []models.Question{
			{Ordinal: 1, Text: "q1", Options: []string{"0", "1", "2", "3", "4"}},
			{Ordinal: 2, Text: "q2", Options: []string{"0", "1", "2", "3", "4"}},
		},
	})
	sess.Record(3)
	require.NoError(t, p.Save(ctx, sess))

	ttl, err := client.TTL(ctx, sessionKey(11)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, []int{3}, loaded[0].OrderedAnswers())
	assert.Equal(t, "pcl5", loaded[0].TestID)
	require.NotNil(t, loaded[0].Test)
	assert.Equal(t, 2, loaded[0].Test.Len())
	require.NoError(t, loaded[0].CheckInvariants())

	require.NoError(t, p.Delete(ctx, 11))
	loaded, err = p.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
