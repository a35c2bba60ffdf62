package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-router/internal/common/errors"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr()}
		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
		assert.Equal(t, 5*time.Second, config.DialTimeout)
		assert.Equal(t, mr.Addr(), client.Address())
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := NewClient(&Config{Address: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)

	assert.NoError(t, client.Health(context.Background()))

	mr.SetError("LOADING Redis is loading the dataset in memory")
	assert.Error(t, client.Health(context.Background()))
	mr.SetError("")
}

func TestClient_KeyValue(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("string value", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "routing:config", "rules: []", 0))
		got, err := client.Get(ctx, "routing:config")
		require.NoError(t, err)
		assert.Equal(t, "rules: []", got)
	})

	t.Run("struct value is stored as JSON", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "doc", map[string]int{"max_attempts": 3}, 0))
		got, err := client.Get(ctx, "doc")
		require.NoError(t, err)
		assert.JSONEq(t, `{"max_attempts":3}`, got)
	})

	t.Run("expiration", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "short", "x", time.Minute))
		mr.FastForward(2 * time.Minute)
		_, err := client.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := client.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "gone", "x", 0))
		require.NoError(t, client.Delete(ctx, "gone"))
		assert.False(t, mr.Exists("gone"))
	})

	t.Run("unmarshalable value", func(t *testing.T) {
		assert.Error(t, client.Set(ctx, "bad", make(chan int), 0))
	})
}

func TestClient_PubSub(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	channel := "routing:events"

	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, channel, map[string]string{"version": "v2"}))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, channel, msg.Channel)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
	assert.Equal(t, "v2", payload["version"])
}

func TestClient_AppendStream(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := client.AppendStream(ctx, "routing:outcomes", 0, map[string]interface{}{"version": "v1"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	entries, err := mr.Stream("routing:outcomes")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
