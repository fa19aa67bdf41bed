// Package config defines the process configuration for the weed tracking
// service. Configuration is loaded once at startup and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret files (Lowest)
//
// Any missing required value or invalid format is returned as a ConfigError
// so the entry point can fail fast.
package config

import (
	"encoding/json"
	"time"
)

// SecretString holds a sensitive value. It redacts itself when formatted,
// logged or marshalled; call Unmask to read the plaintext.
type SecretString string

const redacted = "[REDACTED]"

// String implements fmt.Stringer.
func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer so %#v is redacted too.
func (s SecretString) GoString() string { return s.String() }

// MarshalJSON never emits the plaintext.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Unmask returns the plaintext value.
func (s SecretString) Unmask() string { return string(s) }

// Config is the top-level configuration struct.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"weedtrack-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Inference     InferenceConfig
	Mitigation    MitigationConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s" validate:"gt=0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"60s"`
	EnableGzip      bool          `envconfig:"ENABLE_GZIP" default:"true"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
// An empty URL is only accepted in the local environment, where the
// in-memory store is used instead.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// MitigationQueueURL receives mitigation.applied events. Empty disables
	// publishing.
	MitigationQueueURL string `envconfig:"SQS_MITIGATION_EVENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// InferenceConfig locates the image inference service. An empty URL
// disables the infer endpoint.
type InferenceConfig struct {
	URL           string        `envconfig:"INFERENCE_URL" validate:"omitempty,url"`
	Timeout       time.Duration `envconfig:"INFERENCE_TIMEOUT" default:"30s"`
	MinConfidence float64       `envconfig:"INFERENCE_MIN_CONFIDENCE" default:"0.5" validate:"gte=0,lte=1"`
	MaxImageBytes int64         `envconfig:"INFERENCE_MAX_IMAGE_BYTES" default:"10485760" validate:"gt=0"`
}

// MitigationConfig bounds mitigation and ingestion work per request.
type MitigationConfig struct {
	BroadcastConcurrency int `envconfig:"BROADCAST_CONCURRENCY" default:"8" validate:"min=1,max=64"`
	MaxIngestBatch       int `envconfig:"MAX_INGEST_BATCH" default:"1000" validate:"min=1"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"WeedTrack"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// IsLocal reports whether the process runs in the local environment.
func (c *Config) IsLocal() bool { return c.Environment == localEnv }

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure reading a secret file.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
