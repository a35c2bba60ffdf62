package config

import (
	"os"
	"strings"
	"testing"
)

var testEnvVars = []string{
	"PORT", "ADMIN_PORT", "ADMIN_JWT_SECRET", "TLS_CERT_FILE", "TLS_KEY_FILE", "LOG_LEVEL", "LOG_FILE",
	"ROUTING_CONFIG_FILE", "ROUTING_CONFIG_WATCH",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
	"REDIS_CONFIG_KEY", "REDIS_CONFIG_CHANNEL", "CONFIG_RESYNC_SCHEDULE",
	"EVENTS_SINKS", "EVENTS_BUFFER", "EVENTS_REDIS_CHANNEL", "EVENTS_REDIS_STREAM",
	"RABBITMQ_URL", "RABBITMQ_EXCHANGE", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"AWS_REGION", "SNS_TOPIC_ARN", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	"GCP_PROJECT_ID", "PUBSUB_TOPIC", "GOOGLE_APPLICATION_CREDENTIALS",
	"RATE_LIMIT_ENABLED", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range testEnvVars {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func TestLoad(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	if config.Port != "8080" {
		t.Errorf("Load() Port = %v, want %v", config.Port, "8080")
	}
	if config.AdminPort != "9090" {
		t.Errorf("Load() AdminPort = %v, want %v", config.AdminPort, "9090")
	}
	if config.LogLevel != "info" {
		t.Errorf("Load() LogLevel = %v, want %v", config.LogLevel, "info")
	}
	if config.RoutingConfigFile != "./routing.yaml" {
		t.Errorf("Load() RoutingConfigFile = %v, want %v", config.RoutingConfigFile, "./routing.yaml")
	}
	if !config.RoutingConfigWatch {
		t.Errorf("Load() RoutingConfigWatch = %v, want true", config.RoutingConfigWatch)
	}
	if config.RedisAddress != "" {
		t.Errorf("Load() RedisAddress = %v, want empty", config.RedisAddress)
	}
	if config.RedisConfigChannel != "traffic-router:config" {
		t.Errorf("Load() RedisConfigChannel = %v, want %v", config.RedisConfigChannel, "traffic-router:config")
	}
	if config.ConfigResyncSchedule != "@every 1m" {
		t.Errorf("Load() ConfigResyncSchedule = %v, want %v", config.ConfigResyncSchedule, "@every 1m")
	}
	if config.EventsBuffer != "1024" {
		t.Errorf("Load() EventsBuffer = %v, want %v", config.EventsBuffer, "1024")
	}
	if config.RateLimitEnabled {
		t.Errorf("Load() RateLimitEnabled = %v, want false", config.RateLimitEnabled)
	}
	if len(config.Sinks()) != 0 {
		t.Errorf("Load() Sinks() = %v, want none", config.Sinks())
	}
}

func TestLoadWithEnvVars(t *testing.T) {
	clearTestEnvVars(t)

	t.Setenv("PORT", "8000")
	t.Setenv("ADMIN_PORT", "8001")
	t.Setenv("ROUTING_CONFIG_WATCH", "false")
	t.Setenv("REDIS_ADDRESS", "redis:6379")
	t.Setenv("EVENTS_SINKS", "redis, kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RATE_LIMIT_ENABLED", "true")

	config := Load()

	if config.Port != "8000" || config.AdminPort != "8001" {
		t.Errorf("Load() ports = %v/%v, want 8000/8001", config.Port, config.AdminPort)
	}
	if config.RoutingConfigWatch {
		t.Error("Load() RoutingConfigWatch = true, want false")
	}
	if got := strings.Join(config.Sinks(), ","); got != "redis,kafka" {
		t.Errorf("Sinks() = %v, want redis,kafka", got)
	}
	if got := config.KafkaBrokerList(); len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Errorf("KafkaBrokerList() = %v", got)
	}
	if !config.RateLimitEnabled {
		t.Error("Load() RateLimitEnabled = false, want true")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"false", true, false},
		{"0", true, false},
		{"not-a-bool", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if got := getBoolEnv("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getBoolEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Port:                 "8080",
		AdminPort:            "9090",
		RoutingConfigFile:    "./routing.yaml",
		RedisDB:              "0",
		RedisPoolSize:        "10",
		ConfigResyncSchedule: "@every 1m",
		EventsBuffer:         "1024",
		EventsRedisChannel:   "traffic-router:outcomes",
		RateLimitRPS:         "100",
		RateLimitBurst:       "200",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Port = "70000" },
			wantErr: "PORT must be a valid port",
		},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.AdminPort = "8080" },
			wantErr: "must differ",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.AdminJWTSecret = "short" },
			wantErr: "ADMIN_JWT_SECRET",
		},
		{
			name:    "tls cert without key",
			mutate:  func(c *Config) { c.TLSCertFile = "/etc/tls/cert.pem" },
			wantErr: "TLS_CERT_FILE and TLS_KEY_FILE",
		},
		{
			name: "bad redis db",
			mutate: func(c *Config) {
				c.RedisAddress = "localhost:6379"
				c.RedisDB = "16"
			},
			wantErr: "REDIS_DB",
		},
		{
			name:    "config key without redis",
			mutate:  func(c *Config) { c.RedisConfigKey = "routing" },
			wantErr: "REDIS_CONFIG_KEY requires REDIS_ADDRESS",
		},
		{
			name: "bad resync schedule",
			mutate: func(c *Config) {
				c.RedisAddress = "localhost:6379"
				c.RedisConfigKey = "routing"
				c.ConfigResyncSchedule = "every minute"
			},
			wantErr: "CONFIG_RESYNC_SCHEDULE",
		},
		{
			name:    "unknown sink",
			mutate:  func(c *Config) { c.EventsSinks = "redis,nats" },
			wantErr: `unknown event sink "nats"`,
		},
		{
			name:    "redis sink without redis",
			mutate:  func(c *Config) { c.EventsSinks = "redis" },
			wantErr: "requires REDIS_ADDRESS",
		},
		{
			name:    "kafka sink without brokers",
			mutate:  func(c *Config) { c.EventsSinks = "kafka" },
			wantErr: "KAFKA_BROKERS",
		},
		{
			name: "sns with half the static keys",
			mutate: func(c *Config) {
				c.EventsSinks = "sns"
				c.AWSRegion = "eu-west-1"
				c.SNSTopicARN = "arn:aws:sns:eu-west-1:123456789012:outcomes"
				c.AWSAccessKeyID = "AKIA"
			},
			wantErr: "must be set together",
		},
		{
			name:    "pubsub without project",
			mutate:  func(c *Config) { c.EventsSinks = "pubsub" },
			wantErr: "GCP_PROJECT_ID",
		},
		{
			name: "rate limit with zero rps",
			mutate: func(c *Config) {
				c.RateLimitEnabled = true
				c.RateLimitRPS = "0"
			},
			wantErr: "RATE_LIMIT_RPS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestInt(t *testing.T) {
	if got := Int("42", 7); got != 42 {
		t.Errorf("Int(42) = %d", got)
	}
	if got := Int("x", 7); got != 7 {
		t.Errorf("Int(x) = %d, want fallback", got)
	}
}
