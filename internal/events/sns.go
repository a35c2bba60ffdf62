package events

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"traffic-router/internal/common/errors"
)

// snsPublisher is the part of *sns.Client the sink uses
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSConfig configures an SNSSink. Without static keys the default AWS
// credential chain is used.
type SNSConfig struct {
	Region          string
	TopicARN        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Endpoint overrides the service endpoint, e.g. for LocalStack
	Endpoint string
}

// Validate checks the configuration
func (c *SNSConfig) Validate() error {
	if c.TopicARN == "" {
		return errors.ConfigError("sns sink requires SNS_TOPIC_ARN")
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.ConfigError("sns sink requires both an access key ID and a secret access key")
	}
	return nil
}

// SNSSink publishes events to an SNS topic with version and outcome message
// attributes, so subscribers can filter
type SNSSink struct {
	client   snsPublisher
	topicARN string
}

// NewSNSSink loads the AWS configuration and creates the client
func NewSNSSink(ctx context.Context, cfg SNSConfig) (*SNSSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to load AWS config", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &SNSSink{client: client, topicARN: cfg.TopicARN}, nil
}

func (s *SNSSink) Name() string { return SinkSNS }

func (s *SNSSink) Send(ctx context.Context, e Event) error {
	body, err := e.Encode()
	if err != nil {
		return err
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"version": {DataType: aws.String("String"), StringValue: aws.String(e.Version)},
			"outcome": {DataType: aws.String("String"), StringValue: aws.String(e.Outcome())},
			"attempt": {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(e.Attempt))},
		},
	})
	if err != nil {
		return errors.ConnectionError("failed to publish outcome event to SNS", err)
	}
	return nil
}

func (s *SNSSink) Close() error { return nil }
