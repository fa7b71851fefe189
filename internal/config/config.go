package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeWorker = "worker"
	ModeCLI    = "cli"

	BusKafka     = "kafka"
	BusKafkaGo   = "kafka-go"
	BusEventHubs = "eventhubs"
	BusNATS      = "nats"
	BusStdout    = "stdout"

	DefaultEndpoint       = "realtimehub"
	DefaultColumn         = "text"
	DefaultMaxObjectBytes = 256 << 20
	DefaultStatusTopic    = "Relay.Status"
	DefaultMetricsAddr    = ":9102"
)

// Config represents the relay configuration
type Config struct {
	// Service mode: "worker" or "cli"
	Mode string `yaml:"mode" env:"RELAY_MODE" default:"worker"`

	// Logging configuration
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" default:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" default:"json"`

	Storage StorageConfig `yaml:"storage"`
	Relay   RelayConfig   `yaml:"relay"`
	Bus     BusConfig     `yaml:"bus"`

	// Kafka cluster carrying storage notifications and status events
	Kafka KafkaConfig `yaml:"kafka"`

	Worker  WorkerConfig  `yaml:"worker"`
	Metrics MetricsConfig `yaml:"metrics"`
	CLI     CLIConfig     `yaml:"cli"`
}

// StorageConfig selects the object store credentials.
// A connection string wins over an account name/key pair.
type StorageConfig struct {
	ConnectionString string `yaml:"connection_string" env:"BLOB_CONNECTION_STRING"`
	AccountName      string `yaml:"account_name" env:"BLOB_ACCOUNT_NAME"`
	AccountKey       string `yaml:"account_key" env:"BLOB_ACCOUNT_KEY"`
	ServiceURL       string `yaml:"service_url" env:"BLOB_SERVICE_URL"`
	Container        string `yaml:"container" env:"BLOB_CONTAINER_NAME"`
}

// Configured reports whether any credentials were supplied
func (s StorageConfig) Configured() bool {
	return s.ConnectionString != "" || (s.AccountName != "" && s.AccountKey != "")
}

// RelayConfig controls extraction
type RelayConfig struct {
	Column         string `yaml:"column" env:"RELAY_COLUMN" default:"text"`
	Delimiter      string `yaml:"delimiter" env:"RELAY_DELIMITER" default:","`
	MaxObjectBytes int64  `yaml:"max_object_bytes" env:"RELAY_MAX_OBJECT_BYTES" default:"268435456"`
}

// Comma returns the field delimiter as a rune, ',' when unset
func (r RelayConfig) Comma() rune {
	if r.Delimiter == "" {
		return ','
	}
	c, _ := utf8.DecodeRuneInString(r.Delimiter)
	return c
}

// BusConfig selects and configures the message bus sink
type BusConfig struct {
	Type     string `yaml:"type" env:"BUS_TYPE" default:"eventhubs"`
	Endpoint string `yaml:"endpoint" env:"EVENTHUB_NAME" default:"realtimehub"`

	// Zero keeps the sink's own limit
	MaxBatchCount int `yaml:"max_batch_count" env:"BUS_MAX_BATCH_COUNT"`
	MaxBatchBytes int `yaml:"max_batch_bytes" env:"BUS_MAX_BATCH_BYTES"`

	// Nil keeps the sink's own per-message overhead
	MessageOverhead *int `yaml:"message_overhead" env:"BUS_MESSAGE_OVERHEAD"`

	// Key messages by source object name so one object lands on one partition
	KeyByObject bool `yaml:"key_by_object" env:"BUS_KEY_BY_OBJECT"`

	Kafka     KafkaConfig     `yaml:"kafka"`
	EventHubs EventHubsConfig `yaml:"eventhubs"`
	NATS      NATSConfig      `yaml:"nats"`
}

// KafkaConfig contains Kafka connection settings
type KafkaConfig struct {
	Brokers          string `yaml:"brokers" env:"KAFKA_BROKERS"`
	SecurityProtocol string `yaml:"security_protocol" env:"KAFKA_SECURITY_PROTOCOL"`
	SASLMechanism    string `yaml:"sasl_mechanism" env:"KAFKA_SASL_MECHANISM"`
	SASLUsername     string `yaml:"sasl_username" env:"KAFKA_SASL_USERNAME"`
	SASLPassword     string `yaml:"sasl_password" env:"KAFKA_SASL_PASSWORD"`

	Acks              string `yaml:"acks" env:"KAFKA_PRODUCER_ACKS" default:"all"`
	DeliveryTimeoutMs int    `yaml:"delivery_timeout_ms" env:"KAFKA_DELIVERY_TIMEOUT_MS" default:"120000"`

	// Extra librdkafka properties passed through verbatim
	ProducerConfig map[string]string `yaml:"producer_config"`

	Consumer ConsumerConfig `yaml:"consumer"`
}

// ConsumerConfig contains Kafka consumer settings
type ConsumerConfig struct {
	AutoOffsetReset string `yaml:"auto_offset_reset" env:"KAFKA_CONSUMER_AUTO_OFFSET_RESET" default:"earliest"`
	SessionTimeout  int    `yaml:"session_timeout_ms" env:"KAFKA_CONSUMER_SESSION_TIMEOUT_MS" default:"45000"`
}

// EventHubsConfig contains Event Hubs settings
type EventHubsConfig struct {
	ConnectionString string `yaml:"connection_string" env:"EVENTHUB_SEND_CONNECTION_STRING"`
}

// NATSConfig contains JetStream settings
type NATSConfig struct {
	URL    string        `yaml:"url" env:"NATS_URL" default:"nats://localhost:4222"`
	Stream string        `yaml:"stream" env:"NATS_STREAM"`
	MaxAge time.Duration `yaml:"max_age" env:"NATS_MAX_AGE"`
}

// WorkerConfig contains configuration for worker mode
type WorkerConfig struct {
	// Topic carrying storage notifications
	EventsTopic string `yaml:"events_topic" env:"EVENTS_TOPIC" default:"Storage.BlobEvents"`

	ConsumerGroup string `yaml:"consumer_group" env:"CONSUMER_GROUP" default:"csv-relay"`

	// Empty disables status events
	StatusTopic string `yaml:"status_topic" env:"STATUS_TOPIC" default:"Relay.Status"`

	InvocationTimeout time.Duration `yaml:"invocation_timeout" env:"INVOCATION_TIMEOUT" default:"5m"`
	MaxAttempts       int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" default:"5"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF" default:"5s"`
	PollTimeout       time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT" default:"1s"`

	Filters  FilterConfig   `yaml:"filters"`
	Sharding ShardingConfig `yaml:"sharding"`
}

// FilterConfig contains filtering options
type FilterConfig struct {
	// Container filter (empty means all)
	Containers []string `yaml:"containers" env:"FILTER_CONTAINERS"`

	// Blob name regex patterns (empty means all)
	Selectors []string `yaml:"selectors" env:"SELECTORS"`

	// Event date range filters (YYYY-MM-DD format)
	MinDate *string `yaml:"min_date" env:"MIN_DATE"`
	MaxDate *string `yaml:"max_date" env:"MAX_DATE"`
}

// ShardingConfig contains sharding options
type ShardingConfig struct {
	Enabled     bool `yaml:"enabled" env:"SHARDING_ENABLED" default:"false"`
	ShardsCount int  `yaml:"shards_count" env:"SHARDS_COUNT" default:"1"`
	ShardNumber int  `yaml:"shard_number" env:"SHARD_NUMBER" default:"0"` // 0-based
}

// MetricsConfig controls the Prometheus endpoint; empty Addr disables it
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR" default:":9102"`
}

// CLIConfig names the single object processed in CLI mode
type CLIConfig struct {
	Container string `yaml:"container" env:"CLI_CONTAINER"`
	Blob      string `yaml:"blob" env:"CLI_BLOB"`
	File      string `yaml:"file" env:"CLI_FILE"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeCLI:
		return c.validateCLI()
	case ModeWorker:
		return c.validateWorker()
	default:
		return fmt.Errorf("invalid mode %q, must be 'cli' or 'worker'", c.Mode)
	}
}

func (c *Config) validateCLI() error {
	if c.CLI.File == "" {
		if c.CLI.Blob == "" {
			return fmt.Errorf("CLI mode requires a blob or a file")
		}
		if c.CLI.Container == "" && c.Storage.Container == "" {
			return fmt.Errorf("CLI mode requires a container")
		}
		if !c.Storage.Configured() {
			return fmt.Errorf("CLI mode requires storage credentials to read a blob")
		}
	}
	return c.validateCommon()
}

func (c *Config) validateWorker() error {
	if c.Worker.EventsTopic == "" {
		return fmt.Errorf("worker mode requires events_topic")
	}
	if c.Worker.ConsumerGroup == "" {
		return fmt.Errorf("worker mode requires consumer_group")
	}
	if c.Kafka.Brokers == "" {
		return fmt.Errorf("worker mode requires kafka brokers for storage notifications")
	}
	if !c.Storage.Configured() {
		return fmt.Errorf("worker mode requires storage credentials")
	}
	if c.Worker.InvocationTimeout <= 0 {
		return fmt.Errorf("invocation_timeout must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.Worker.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative")
	}

	if c.Worker.Sharding.Enabled {
		if c.Worker.Sharding.ShardsCount <= 0 {
			return fmt.Errorf("shards_count must be positive when sharding is enabled")
		}
		if c.Worker.Sharding.ShardNumber < 0 || c.Worker.Sharding.ShardNumber >= c.Worker.Sharding.ShardsCount {
			return fmt.Errorf("shard_number must be between 0 and shards_count-1")
		}
	}

	for _, selector := range c.Worker.Filters.Selectors {
		if _, err := regexp.Compile(selector); err != nil {
			return fmt.Errorf("invalid selector %q: %w", selector, err)
		}
	}
	if c.Worker.Filters.MinDate != nil {
		if _, err := time.Parse("2006-01-02", *c.Worker.Filters.MinDate); err != nil {
			return fmt.Errorf("min_date must be in YYYY-MM-DD format: %w", err)
		}
	}
	if c.Worker.Filters.MaxDate != nil {
		if _, err := time.Parse("2006-01-02", *c.Worker.Filters.MaxDate); err != nil {
			return fmt.Errorf("max_date must be in YYYY-MM-DD format: %w", err)
		}
	}

	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	if c.Relay.Column == "" {
		return fmt.Errorf("relay column is required")
	}
	if utf8.RuneCountInString(c.Relay.Delimiter) > 1 {
		return fmt.Errorf("relay delimiter must be a single character, got %q", c.Relay.Delimiter)
	}
	if !validDelimiter(c.Relay.Comma()) {
		return fmt.Errorf("relay delimiter %q cannot separate CSV fields", c.Relay.Delimiter)
	}
	if c.Relay.MaxObjectBytes <= 0 {
		return fmt.Errorf("max_object_bytes must be positive")
	}
	return c.Bus.Validate()
}

// validDelimiter mirrors the delimiters encoding/csv accepts
func validDelimiter(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}

// Validate checks the selected sink has what it needs
func (b *BusConfig) Validate() error {
	if b.MaxBatchCount < 0 || b.MaxBatchBytes < 0 {
		return fmt.Errorf("batch limits cannot be negative")
	}
	if b.MessageOverhead != nil && *b.MessageOverhead < 0 {
		return fmt.Errorf("message_overhead cannot be negative")
	}
	if b.Type != BusStdout && b.Endpoint == "" {
		return fmt.Errorf("bus endpoint is required for %s", b.Type)
	}

	switch b.Type {
	case BusKafka, BusKafkaGo:
		if b.Kafka.Brokers == "" {
			return fmt.Errorf("%s bus requires brokers or an Event Hubs connection string", b.Type)
		}
	case BusEventHubs:
		if b.EventHubs.ConnectionString == "" {
			return fmt.Errorf("eventhubs bus requires a connection string")
		}
	case BusNATS:
		if b.NATS.URL == "" {
			return fmt.Errorf("nats bus requires a url")
		}
	case BusStdout:
	default:
		return fmt.Errorf("unknown bus type %q", b.Type)
	}
	return nil
}

// LoadDotEnv loads variables from a .env file without overriding the environment.
// A missing default file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path, or the environment when path is empty.
// override runs before defaults are applied so command-line flags win over both sources.
func Load(path string, override func(*Config)) (*Config, error) {
	var cfg *Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Keys absent from the file keep these values; an explicit empty value disables the feature
		cfg = &Config{
			Worker:  WorkerConfig{StatusTopic: DefaultStatusTopic},
			Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else {
		cfg = configFromEnv()
	}

	if override != nil {
		override(cfg)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(path string) (*Config, error) {
	return Load(path, nil)
}

// LoadConfigFromEnv loads configuration from environment variables with defaults
func LoadConfigFromEnv() (*Config, error) {
	return Load("", nil)
}

func configFromEnv() *Config {
	return &Config{
		Mode:      getEnv("RELAY_MODE", ModeWorker),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		Storage: StorageConfig{
			ConnectionString: os.Getenv("BLOB_CONNECTION_STRING"),
			AccountName:      os.Getenv("BLOB_ACCOUNT_NAME"),
			AccountKey:       os.Getenv("BLOB_ACCOUNT_KEY"),
			ServiceURL:       os.Getenv("BLOB_SERVICE_URL"),
			Container:        os.Getenv("BLOB_CONTAINER_NAME"),
		},
		Relay: RelayConfig{
			Column:         getEnv("RELAY_COLUMN", DefaultColumn),
			Delimiter:      getEnv("RELAY_DELIMITER", ","),
			MaxObjectBytes: parseInt64Env("RELAY_MAX_OBJECT_BYTES", DefaultMaxObjectBytes),
		},
		Bus: BusConfig{
			Type:            getEnv("BUS_TYPE", BusEventHubs),
			Endpoint:        getEnv("EVENTHUB_NAME", getEnv("BUS_ENDPOINT", DefaultEndpoint)),
			MaxBatchCount:   parseIntEnv("BUS_MAX_BATCH_COUNT", 0),
			MaxBatchBytes:   parseIntEnv("BUS_MAX_BATCH_BYTES", 0),
			MessageOverhead: parseIntPtrEnv("BUS_MESSAGE_OVERHEAD"),
			KeyByObject:     parseBoolEnv("BUS_KEY_BY_OBJECT", false),
			Kafka:           kafkaFromEnv("BUS_KAFKA_"),
			EventHubs: EventHubsConfig{
				ConnectionString: os.Getenv("EVENTHUB_SEND_CONNECTION_STRING"),
			},
			NATS: NATSConfig{
				URL:    getEnv("NATS_URL", "nats://localhost:4222"),
				Stream: os.Getenv("NATS_STREAM"),
				MaxAge: parseDurationEnv("NATS_MAX_AGE", 0),
			},
		},
		Kafka: kafkaFromEnv("KAFKA_"),
		Worker: WorkerConfig{
			EventsTopic:       getEnv("EVENTS_TOPIC", "Storage.BlobEvents"),
			ConsumerGroup:     getEnv("CONSUMER_GROUP", "csv-relay"),
			StatusTopic:       getEnv("STATUS_TOPIC", DefaultStatusTopic),
			InvocationTimeout: parseDurationEnv("INVOCATION_TIMEOUT", 5*time.Minute),
			MaxAttempts:       parseIntEnv("MAX_ATTEMPTS", 5),
			RetryBackoff:      parseDurationEnv("RETRY_BACKOFF", 5*time.Second),
			PollTimeout:       parseDurationEnv("POLL_TIMEOUT", time.Second),
			Filters: FilterConfig{
				Containers: parseStringSliceEnv("FILTER_CONTAINERS"),
				Selectors:  parseStringSliceEnv("SELECTORS"),
				MinDate:    getStringPtr(os.Getenv("MIN_DATE")),
				MaxDate:    getStringPtr(os.Getenv("MAX_DATE")),
			},
			Sharding: ShardingConfig{
				Enabled:     parseBoolEnv("SHARDING_ENABLED", false),
				ShardsCount: parseIntEnv("SHARDS_COUNT", 1),
				ShardNumber: parseIntEnv("SHARD_NUMBER", 0),
			},
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", DefaultMetricsAddr),
		},
		CLI: CLIConfig{
			Container: os.Getenv("CLI_CONTAINER"),
			Blob:      os.Getenv("CLI_BLOB"),
			File:      os.Getenv("CLI_FILE"),
		},
	}
}

func kafkaFromEnv(prefix string) KafkaConfig {
	return KafkaConfig{
		Brokers:           os.Getenv(prefix + "BROKERS"),
		SecurityProtocol:  os.Getenv(prefix + "SECURITY_PROTOCOL"),
		SASLMechanism:     os.Getenv(prefix + "SASL_MECHANISM"),
		SASLUsername:      os.Getenv(prefix + "SASL_USERNAME"),
		SASLPassword:      os.Getenv(prefix + "SASL_PASSWORD"),
		Acks:              getEnv(prefix+"PRODUCER_ACKS", "all"),
		DeliveryTimeoutMs: parseIntEnv(prefix+"DELIVERY_TIMEOUT_MS", 120000),
		Consumer: ConsumerConfig{
			AutoOffsetReset: getEnv(prefix+"CONSUMER_AUTO_OFFSET_RESET", "earliest"),
			SessionTimeout:  parseIntEnv(prefix+"CONSUMER_SESSION_TIMEOUT_MS", 45000),
		},
	}
}

// Helper functions for parsing environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getStringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func parseStringSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return defaultValue
}

func parseIntPtrEnv(key string) *int {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseInt64Env(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return defaultValue
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeWorker
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Relay.Column == "" {
		cfg.Relay.Column = DefaultColumn
	}
	if cfg.Relay.MaxObjectBytes == 0 {
		cfg.Relay.MaxObjectBytes = DefaultMaxObjectBytes
	}
	if cfg.Bus.Type == "" {
		cfg.Bus.Type = BusEventHubs
	}
	if cfg.Bus.Endpoint == "" {
		cfg.Bus.Endpoint = DefaultEndpoint
	}
	if cfg.Bus.NATS.URL == "" {
		cfg.Bus.NATS.URL = "nats://localhost:4222"
	}
	applyKafkaDefaults(&cfg.Bus.Kafka)
	applyKafkaDefaults(&cfg.Kafka)

	// Event Hubs exposes a Kafka endpoint; derive it when no brokers were given
	if cfg.Bus.Kafka.Brokers == "" && cfg.Bus.EventHubs.ConnectionString != "" &&
		(cfg.Bus.Type == BusKafka || cfg.Bus.Type == BusKafkaGo) {
		if conn, err := ParseEventHubsConnectionString(cfg.Bus.EventHubs.ConnectionString); err == nil {
			conn.ApplyKafka(&cfg.Bus.Kafka)
		}
	}

	if cfg.Worker.EventsTopic == "" {
		cfg.Worker.EventsTopic = "Storage.BlobEvents"
	}
	if cfg.Worker.ConsumerGroup == "" {
		cfg.Worker.ConsumerGroup = "csv-relay"
	}
	if cfg.Worker.InvocationTimeout == 0 {
		cfg.Worker.InvocationTimeout = 5 * time.Minute
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 5
	}
	if cfg.Worker.RetryBackoff == 0 {
		cfg.Worker.RetryBackoff = 5 * time.Second
	}
	if cfg.Worker.PollTimeout == 0 {
		cfg.Worker.PollTimeout = time.Second
	}
	if cfg.Worker.Sharding.ShardsCount == 0 {
		cfg.Worker.Sharding.ShardsCount = 1
	}
}

func applyKafkaDefaults(k *KafkaConfig) {
	if k.Acks == "" {
		k.Acks = "all"
	}
	if k.DeliveryTimeoutMs == 0 {
		k.DeliveryTimeoutMs = 120000
	}
	if k.Consumer.AutoOffsetReset == "" {
		k.Consumer.AutoOffsetReset = "earliest"
	}
	if k.Consumer.SessionTimeout == 0 {
		k.Consumer.SessionTimeout = 45000
	}
}
