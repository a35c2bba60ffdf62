package events

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"traffic-router/internal/common/errors"
)

func dialFake(t *testing.T, srv *pstest.Server) option.ClientOption {
	t.Helper()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return option.WithGRPCConn(conn)
}

func TestPubSubSink(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	admin, err := pubsub.NewClient(ctx, "test-project", dialFake(t, srv))
	require.NoError(t, err)
	defer admin.Close()
	_, err = admin.CreateTopic(ctx, "outcomes")
	require.NoError(t, err)

	sink, err := NewPubSubSink(ctx, PubSubConfig{ProjectID: "test-project", TopicID: "outcomes"}, dialFake(t, srv))
	require.NoError(t, err)

	require.NoError(t, sink.Send(ctx, sampleEvent("v2", true)))
	require.NoError(t, sink.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "v2", msgs[0].Attributes["version"])
	assert.Equal(t, "success", msgs[0].Attributes["outcome"])

	var got Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "req-1", got.RequestID)
}

func TestNewPubSubSink_MissingTopic(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	_, err := NewPubSubSink(ctx, PubSubConfig{ProjectID: "test-project", TopicID: "missing"}, dialFake(t, srv))
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestPubSubConfig_Validate(t *testing.T) {
	cfg := PubSubConfig{ProjectID: "p"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "traffic-router-outcomes", cfg.TopicID)

	empty := PubSubConfig{}
	assert.True(t, errors.IsType(empty.Validate(), errors.ErrTypeConfig))
}
