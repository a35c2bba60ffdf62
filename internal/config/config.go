// Package config provides configuration management for the traffic router.
//
// Two layers live here. Process settings come from environment variables
// (optionally seeded from a .env file) and are fixed for the life of the
// process. The routing document (rules, traffic split, versions, probe and
// dispatch settings) is YAML, hot-reloadable, and held by a Store as an
// immutable versioned Snapshot.
//
// Environment Variables:
//
// Listeners:
//   - PORT: Proxy listener port (default: 8080)
//   - ADMIN_PORT: Admin API port (default: 9090)
//   - ADMIN_JWT_SECRET: HS256 secret guarding mutating admin routes (optional, minimum 32 characters)
//   - TLS_CERT_FILE, TLS_KEY_FILE: serve the proxy listener over TLS (optional, set both)
//
// Logging:
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: stdout)
//
// Routing document:
//   - ROUTING_CONFIG_FILE: Path of the routing document (default: ./routing.yaml)
//   - ROUTING_CONFIG_WATCH: Reload the document when the file changes (default: true)
//
// Redis:
//   - REDIS_ADDRESS: Redis server address; empty disables every Redis feature
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_CONFIG_KEY: Key holding the routing document (optional)
//   - REDIS_CONFIG_CHANNEL: Channel carrying routing document pushes (default: traffic-router:config)
//   - CONFIG_RESYNC_SCHEDULE: Cron schedule re-reading REDIS_CONFIG_KEY (default: @every 1m)
//
// Outcome events:
//   - EVENTS_SINKS: Comma list of redis, rabbitmq, kafka, sns, pubsub (default: none)
//   - EVENTS_BUFFER: Emitter queue length (default: 1024)
//   - EVENTS_REDIS_CHANNEL / EVENTS_REDIS_STREAM: Redis sink targets
//   - RABBITMQ_URL, RABBITMQ_EXCHANGE: RabbitMQ sink
//   - KAFKA_BROKERS, KAFKA_TOPIC: Kafka sink
//   - AWS_REGION, SNS_TOPIC_ARN, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY: SNS sink
//   - GCP_PROJECT_ID, PUBSUB_TOPIC, GOOGLE_APPLICATION_CREDENTIALS: Pub/Sub sink
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Rate limit the proxy listener (default: false)
//   - RATE_LIMIT_RPS: Sustained requests per second (default: 1000)
//   - RATE_LIMIT_BURST: Token bucket size (default: 2000)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"traffic-router/internal/events"
)

// Config holds the process settings. String fields mirror their environment
// variables; numeric ones are parsed by Load and checked by Validate.
type Config struct {
	Port           string
	AdminPort      string
	AdminJWTSecret string
	TLSCertFile    string
	TLSKeyFile     string

	LogLevel string
	LogFile  string

	RoutingConfigFile  string
	RoutingConfigWatch bool

	RedisAddress         string
	RedisPassword        string
	RedisDB              string
	RedisPoolSize        string
	RedisConfigKey       string
	RedisConfigChannel   string
	ConfigResyncSchedule string

	EventsSinks        string
	EventsBuffer       string
	EventsRedisChannel string
	EventsRedisStream  string

	RabbitMQURL      string
	RabbitMQExchange string

	KafkaBrokers string
	KafkaTopic   string

	AWSRegion          string
	SNSTopicARN        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	GCPProjectID       string
	PubSubTopic        string
	GCPCredentialsFile string

	RateLimitEnabled bool
	RateLimitRPS     string
	RateLimitBurst   string
}

// Load creates a Config from the environment, using defaults for unset
// variables. It does not validate; call Validate on the result.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		AdminPort:      getEnv("ADMIN_PORT", "9090"),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		TLSCertFile:    getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:     getEnv("TLS_KEY_FILE", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		RoutingConfigFile:  getEnv("ROUTING_CONFIG_FILE", "./routing.yaml"),
		RoutingConfigWatch: getBoolEnv("ROUTING_CONFIG_WATCH", true),

		RedisAddress:         getEnv("REDIS_ADDRESS", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnv("REDIS_DB", "0"),
		RedisPoolSize:        getEnv("REDIS_POOL_SIZE", "10"),
		RedisConfigKey:       getEnv("REDIS_CONFIG_KEY", ""),
		RedisConfigChannel:   getEnv("REDIS_CONFIG_CHANNEL", "traffic-router:config"),
		ConfigResyncSchedule: getEnv("CONFIG_RESYNC_SCHEDULE", "@every 1m"),

		EventsSinks:        getEnv("EVENTS_SINKS", ""),
		EventsBuffer:       getEnv("EVENTS_BUFFER", "1024"),
		EventsRedisChannel: getEnv("EVENTS_REDIS_CHANNEL", "traffic-router:outcomes"),
		EventsRedisStream:  getEnv("EVENTS_REDIS_STREAM", ""),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "traffic-router.outcomes"),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "traffic-router.outcomes"),

		AWSRegion:          getEnv("AWS_REGION", ""),
		SNSTopicARN:        getEnv("SNS_TOPIC_ARN", ""),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		GCPProjectID:       getEnv("GCP_PROJECT_ID", ""),
		PubSubTopic:        getEnv("PUBSUB_TOPIC", ""),
		GCPCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", false),
		RateLimitRPS:     getEnv("RATE_LIMIT_RPS", "1000"),
		RateLimitBurst:   getEnv("RATE_LIMIT_BURST", "2000"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a
// default value. Unparseable values fall back to the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks field formats and cross-field requirements, e.g. that a
// Kafka sink has brokers. It returns the first problem found.
func (c *Config) Validate() error {
	if err := validatePort("PORT", c.Port); err != nil {
		return err
	}
	if err := validatePort("ADMIN_PORT", c.AdminPort); err != nil {
		return err
	}
	if c.Port == c.AdminPort {
		return fmt.Errorf("PORT and ADMIN_PORT must differ")
	}

	if c.AdminJWTSecret != "" && len(c.AdminJWTSecret) < 32 {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 characters long for security")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
		if c.RedisConfigKey != "" {
			if _, err := cron.ParseStandard(c.ConfigResyncSchedule); err != nil {
				return fmt.Errorf("CONFIG_RESYNC_SCHEDULE must be a valid cron expression: %v", err)
			}
		}
	} else if c.RedisConfigKey != "" {
		return fmt.Errorf("REDIS_CONFIG_KEY requires REDIS_ADDRESS")
	}

	if c.RoutingConfigFile == "" && c.RedisConfigKey == "" {
		return fmt.Errorf("one of ROUTING_CONFIG_FILE or REDIS_CONFIG_KEY is required")
	}

	if buffer, err := strconv.Atoi(c.EventsBuffer); err != nil || buffer < 1 {
		return fmt.Errorf("EVENTS_BUFFER must be a positive number")
	}

	sinks, err := events.ParseSinkNames(c.EventsSinks)
	if err != nil {
		return fmt.Errorf("EVENTS_SINKS: %w", err)
	}
	for _, sink := range sinks {
		if err := c.validateSink(sink); err != nil {
			return err
		}
	}

	if c.RateLimitEnabled {
		if rps, err := strconv.ParseFloat(c.RateLimitRPS, 64); err != nil || rps <= 0 {
			return fmt.Errorf("RATE_LIMIT_RPS must be a positive number")
		}
		if burst, err := strconv.Atoi(c.RateLimitBurst); err != nil || burst < 1 {
			return fmt.Errorf("RATE_LIMIT_BURST must be a positive number")
		}
	}

	return nil
}

func (c *Config) validateSink(sink string) error {
	switch sink {
	case events.SinkRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("the redis event sink requires REDIS_ADDRESS")
		}
		if c.EventsRedisChannel == "" && c.EventsRedisStream == "" {
			return fmt.Errorf("the redis event sink requires EVENTS_REDIS_CHANNEL or EVENTS_REDIS_STREAM")
		}
	case events.SinkRabbitMQ:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("the rabbitmq event sink requires RABBITMQ_URL")
		}
	case events.SinkKafka:
		if c.KafkaBrokers == "" {
			return fmt.Errorf("the kafka event sink requires KAFKA_BROKERS")
		}
	case events.SinkSNS:
		if c.AWSRegion == "" || c.SNSTopicARN == "" {
			return fmt.Errorf("the sns event sink requires AWS_REGION and SNS_TOPIC_ARN")
		}
		if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
			return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
		}
	case events.SinkPubSub:
		if c.GCPProjectID == "" || c.PubSubTopic == "" {
			return fmt.Errorf("the pubsub event sink requires GCP_PROJECT_ID and PUBSUB_TOPIC")
		}
	}
	return nil
}

func validatePort(name, value string) error {
	if port, err := strconv.Atoi(value); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%s must be a valid port number between 1 and 65535", name)
	}
	return nil
}

// Sinks returns the configured event sink names
func (c *Config) Sinks() []string {
	sinks, _ := events.ParseSinkNames(c.EventsSinks)
	return sinks
}

// KafkaBrokerList splits KAFKA_BROKERS on commas
func (c *Config) KafkaBrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Int parses a numeric setting validated by Validate, returning fallback on error
func Int(value string, fallback int) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
