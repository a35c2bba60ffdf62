package events

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"traffic-router/internal/common/errors"
)

// PubSubConfig configures a PubSubSink
type PubSubConfig struct {
	ProjectID       string
	TopicID         string
	CredentialsFile string
}

// Validate checks the configuration and fills defaults
func (c *PubSubConfig) Validate() error {
	if c.ProjectID == "" {
		return errors.ConfigError("pubsub sink requires GCP_PROJECT_ID")
	}
	if c.TopicID == "" {
		c.TopicID = "traffic-router-outcomes"
	}
	return nil
}

// PubSubSink publishes events to a Google Cloud Pub/Sub topic
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink connects to Pub/Sub and checks that the topic exists.
// Extra client options are appended after the credentials option.
func NewPubSubSink(ctx context.Context, cfg PubSubConfig, opts ...option.ClientOption) (*PubSubSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to create Pub/Sub client", err)
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, errors.ConnectionError("failed to check Pub/Sub topic", err)
	}
	if !exists {
		client.Close()
		return nil, errors.ConfigErrorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	topic.PublishSettings.CountThreshold = 10
	topic.PublishSettings.DelayThreshold = 100 * time.Millisecond

	return &PubSubSink{client: client, topic: topic}, nil
}

func (s *PubSubSink) Name() string { return SinkPubSub }

func (s *PubSubSink) Send(ctx context.Context, e Event) error {
	body, err := e.Encode()
	if err != nil {
		return err
	}

	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"version":    e.Version,
			"endpoint":   e.Endpoint,
			"outcome":    e.Outcome(),
			"attempt":    strconv.Itoa(e.Attempt),
			"request_id": e.RequestID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return errors.ConnectionError("failed to publish outcome event to Pub/Sub", err)
	}
	return nil
}

func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
