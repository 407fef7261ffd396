package config

import (
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server       Server       `mapstructure:"server"`
	Storage      Storage      `mapstructure:"storage"`
	Kafka        Kafka        `mapstructure:"kafka"`
	Retry        Retry        `mapstructure:"retry"`
	Callback     Callback     `mapstructure:"callback"`
	Pipeline     Pipeline     `mapstructure:"pipeline"`
	Segmentation Segmentation `mapstructure:"segmentation"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort     string        `mapstructure:"http_port"`     // HTTP port to listen on
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // bounds a synchronous job run
}

// Storage holds configuration for the object storage backend.
type Storage struct {
	Backend    string `mapstructure:"backend"` // "s3" or "local"
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	BaseDir    string `mapstructure:"base_dir"` // root directory of the local backend
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	Enabled      bool     `mapstructure:"enabled"`
	GroupID      string   `mapstructure:"group_id"`      // Consumer group ID
	Topic        string   `mapstructure:"topic"`         // Topic jobs are consumed from
	ResultsTopic string   `mapstructure:"results_topic"` // Topic job summaries are published to
	Brokers      []string `mapstructure:"brokers"`       // List of Kafka broker addresses
}

// Retry defines retry policy configuration for queue I/O.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Callback configures result reporting to the job submitter.
type Callback struct {
	Secret       string        `mapstructure:"secret"`
	SecretHeader string        `mapstructure:"secret_header"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

// Pipeline configures job execution.
type Pipeline struct {
	BatchConcurrency int           `mapstructure:"batch_concurrency"` // default worker count per job
	PreviewMaxSide   int           `mapstructure:"preview_max_side"`
	PreviewQuality   int           `mapstructure:"preview_quality"`
	IOTimeout        time.Duration `mapstructure:"io_timeout"` // per download/upload call
}

// Segmentation configures the segmentation engine.
type Segmentation struct {
	Engine              string         `mapstructure:"engine"` // "remote" or "static"
	Endpoint            string         `mapstructure:"endpoint"`
	APIKey              string         `mapstructure:"api_key"`
	ConfidenceThreshold float64        `mapstructure:"confidence_threshold"`
	Timeout             time.Duration  `mapstructure:"timeout"`
	Regions             []StaticRegion `mapstructure:"regions"` // static engine only
}

// StaticRegion is a polygon in normalised [0,1] coordinates returned by the
// static engine for a concept.
type StaticRegion struct {
	Concept string      `mapstructure:"concept"`
	Points  [][]float64 `mapstructure:"points"`
}

func setDefaults() {
	viper.SetDefault("server.http_port", ":8080")
	viper.SetDefault("server.write_timeout", "15m")
	viper.SetDefault("storage.backend", "s3")
	viper.SetDefault("storage.bucket_name", "s3-images")
	viper.SetDefault("storage.base_dir", "./data")
	viper.SetDefault("retry.attempts", 3)
	viper.SetDefault("retry.delay", "500ms")
	viper.SetDefault("retry.backoff", 2.0)
	viper.SetDefault("callback.secret_header", "X-GPU-Callback-Secret")
	viper.SetDefault("callback.timeout", "10s")
	viper.SetDefault("callback.retry_delay", "1s")
	viper.SetDefault("pipeline.batch_concurrency", 4)
	viper.SetDefault("pipeline.preview_max_side", 400)
	viper.SetDefault("pipeline.preview_quality", 85)
	viper.SetDefault("pipeline.io_timeout", "60s")
	viper.SetDefault("segmentation.engine", "remote")
	viper.SetDefault("segmentation.confidence_threshold", 0.5)
	viper.SetDefault("segmentation.timeout", "120s")
}

// mustBindEnv binds secrets and deployment-specific settings to environment variables.
//
// It panics if any environment variable cannot be bound.
func mustBindEnv() {
	bindings := map[string]string{
		"callback.secret":                   "GPU_CALLBACK_SECRET",
		"callback.timeout":                  "CALLBACK_TIMEOUT",
		"storage.endpoint":                  "STORAGE_S3_ENDPOINT",
		"storage.access_key":                "STORAGE_ACCESS_KEY",
		"storage.secret_key":                "STORAGE_SECRET_KEY",
		"storage.bucket_name":               "STORAGE_BUCKET",
		"pipeline.batch_concurrency":        "BATCH_CONCURRENCY",
		"segmentation.endpoint":             "SEGMENTATION_ENDPOINT",
		"segmentation.api_key":              "SEGMENTATION_API_KEY",
		"segmentation.confidence_threshold": "CONFIDENCE_THRESHOLD",
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			zlog.Logger.Panic().Err(err).Msgf("failed to bind env %s", env)
		}
	}
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to read config")
	}

	mustBindEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msgf("failed to unmarshal config: %v", err)
	}

	return &cfg
}
