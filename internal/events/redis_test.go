package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-router/internal/common/errors"
	"traffic-router/internal/redis"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisSink_PublishesOnChannel(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	sink, err := NewRedisSink(client, RedisSinkConfig{Channel: "routing:outcomes"})
	require.NoError(t, err)

	pubsub := client.Subscribe(ctx, "routing:outcomes")
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Send(ctx, sampleEvent("v2", true)))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "v2", got.Version)
	assert.Equal(t, "v2-a", got.Endpoint)
	assert.True(t, got.Success)
}

func TestRedisSink_AppendsToStream(t *testing.T) {
	client, mr := setupRedis(t)

	sink, err := NewRedisSink(client, RedisSinkConfig{Stream: "routing:outcomes:stream", StreamMaxLen: 100})
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), sampleEvent("v1", false)))
	require.NoError(t, sink.Send(context.Background(), sampleEvent("v1", true)))

	entries, err := mr.Stream("routing:outcomes:stream")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Values, "false")
	assert.NoError(t, sink.Close())
}

func TestNewRedisSink_Invalid(t *testing.T) {
	client, _ := setupRedis(t)

	_, err := NewRedisSink(nil, RedisSinkConfig{Channel: "c"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewRedisSink(client, RedisSinkConfig{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
