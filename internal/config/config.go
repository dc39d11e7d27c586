package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tingly-dev/vertex-relay/internal/typ"
)

// StreamingMode selects how responses are delivered when the client did not
// force a strategy through its headers.
type StreamingMode string

const (
	// StreamingAuto picks a strategy per request from client headers.
	StreamingAuto StreamingMode = "auto"
	// StreamingNonStream always collects the full response before replying.
	StreamingNonStream StreamingMode = "nonstream"
	// StreamingStandard always passes SSE frames through untouched.
	StreamingStandard StreamingMode = "standard"
	// StreamingBuffered coalesces small text deltas before flushing.
	StreamingBuffered StreamingMode = "buffered"
)

// Defaults applied when the corresponding knob is absent.
const (
	DefaultPort             = 8080
	DefaultLocation         = "us-east5"
	DefaultPublisher        = "anthropic"
	DefaultMaxRetryAttempts = 3
	DefaultHTTPTimeoutSecs  = 300
	DefaultMinStreamBuffer  = 50
)

// Config is the fully resolved service configuration.
type Config struct {
	Provider ProviderKind `yaml:"provider"`

	// Vertex endpoint coordinates. URL wins when set; otherwise the
	// endpoint is assembled from the region/project/location/model fields.
	URL       string `yaml:"url"`
	Region    string `yaml:"region"`
	ProjectID string `yaml:"project_id"`
	Location  string `yaml:"location"`
	Publisher string `yaml:"publisher"`
	ModelID   string `yaml:"model_id"`

	// ModelDisplayName overrides the model id reported to clients.
	ModelDisplayName string `yaml:"model_display_name"`

	// Service-account key material, exactly one of the two.
	CredentialsPath   string `yaml:"credentials_path"`
	CredentialsBase64 string `yaml:"credentials_base64"`

	// APIKey is the static bearer for the openai-compatible provider.
	APIKey string `yaml:"api_key"`

	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	EnableRetries    bool `yaml:"enable_retries"`
	MaxRetryAttempts int  `yaml:"max_retry_attempts"`

	StreamingMode       StreamingMode `yaml:"streaming_mode"`
	MinStreamBufferSize int           `yaml:"min_stream_buffer_size"`

	HTTPTimeoutSecs int `yaml:"http_timeout_secs"`

	// Collapse header value sets, matched case-insensitively as substrings
	// against OpenAI-Organization / OpenAI-Project.
	CollapseOrgs     []string `yaml:"collapse_orgs"`
	CollapseProjects []string `yaml:"collapse_projects"`
}

// ProviderKind names the upstream backend family.
type ProviderKind string

const (
	ProviderVertex           ProviderKind = "vertex"
	ProviderOpenAICompatible ProviderKind = "openai"
)

// Load resolves the configuration: .env file (if present), then the optional
// YAML file at path (empty path skips it), then environment variables, which
// win over the file.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, typ.ConfigError("read config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, typ.ConfigError("parse config file %s: %v", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Provider:            ProviderVertex,
		Location:            DefaultLocation,
		Publisher:           DefaultPublisher,
		Port:                DefaultPort,
		LogLevel:            "info",
		EnableRetries:       true,
		MaxRetryAttempts:    DefaultMaxRetryAttempts,
		StreamingMode:       StreamingAuto,
		MinStreamBufferSize: DefaultMinStreamBuffer,
		HTTPTimeoutSecs:     DefaultHTTPTimeoutSecs,
		CollapseOrgs:        []string{"basebox"},
		CollapseProjects:    []string{"gui"},
	}
}

func applyEnv(cfg *Config) error {
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setStr("RELAY_URL", &cfg.URL)
	setStr("RELAY_REGION", &cfg.Region)
	setStr("RELAY_PROJECT_ID", &cfg.ProjectID)
	setStr("RELAY_LOCATION", &cfg.Location)
	setStr("RELAY_PUBLISHER", &cfg.Publisher)
	setStr("RELAY_MODEL_ID", &cfg.ModelID)
	setStr("RELAY_MODEL_DISPLAY_NAME", &cfg.ModelDisplayName)
	setStr("GOOGLE_APPLICATION_CREDENTIALS", &cfg.CredentialsPath)
	setStr("RELAY_CREDENTIALS_BASE64", &cfg.CredentialsBase64)
	setStr("RELAY_API_KEY", &cfg.APIKey)
	setStr("RELAY_LOG_LEVEL", &cfg.LogLevel)
	setStr("RELAY_LOG_FILE", &cfg.LogFile)

	if v, ok := os.LookupEnv("RELAY_PROVIDER"); ok {
		cfg.Provider = ProviderKind(strings.ToLower(v))
	}
	if v, ok := os.LookupEnv("RELAY_STREAMING_MODE"); ok {
		cfg.StreamingMode = StreamingMode(strings.ToLower(v))
	}
	if v, ok := os.LookupEnv("RELAY_COLLAPSE_ORGS"); ok {
		cfg.CollapseOrgs = splitList(v)
	}
	if v, ok := os.LookupEnv("RELAY_COLLAPSE_PROJECTS"); ok {
		cfg.CollapseProjects = splitList(v)
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"RELAY_PORT", &cfg.Port},
		{"RELAY_MAX_RETRY_ATTEMPTS", &cfg.MaxRetryAttempts},
		{"RELAY_MIN_STREAM_BUFFER_SIZE", &cfg.MinStreamBufferSize},
		{"RELAY_HTTP_TIMEOUT_SECS", &cfg.HTTPTimeoutSecs},
	} {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return typ.ConfigError("%s: invalid integer %q", f.key, v)
		}
		*f.dst = n
	}

	if v, ok := os.LookupEnv("RELAY_ENABLE_RETRIES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return typ.ConfigError("RELAY_ENABLE_RETRIES: invalid boolean %q", v)
		}
		cfg.EnableRetries = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderVertex:
		if c.URL == "" {
			if c.ProjectID == "" {
				return typ.ConfigError("vertex provider requires project_id or url")
			}
			if c.ModelID == "" {
				return typ.ConfigError("vertex provider requires model_id or url")
			}
		}
		if c.CredentialsPath == "" && c.CredentialsBase64 == "" {
			return typ.ConfigError("vertex provider requires service-account credentials")
		}
	case ProviderOpenAICompatible:
		if c.URL == "" {
			return typ.ConfigError("openai provider requires url")
		}
		if c.APIKey == "" {
			return typ.ConfigError("openai provider requires api_key")
		}
	default:
		return typ.ConfigError("unknown provider %q", c.Provider)
	}

	switch c.StreamingMode {
	case StreamingAuto, StreamingNonStream, StreamingStandard, StreamingBuffered:
	case "always":
		// Legacy spelling for unconditional passthrough.
		c.StreamingMode = StreamingStandard
	default:
		return typ.ConfigError("unknown streaming mode %q", c.StreamingMode)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return typ.ConfigError("port %d out of range", c.Port)
	}
	if c.MaxRetryAttempts < 1 {
		c.MaxRetryAttempts = 1
	}
	if c.MinStreamBufferSize < 1 {
		c.MinStreamBufferSize = DefaultMinStreamBuffer
	}
	if c.HTTPTimeoutSecs < 1 {
		c.HTTPTimeoutSecs = DefaultHTTPTimeoutSecs
	}
	return nil
}

// CredentialsJSON returns the raw service-account key bytes, reading the
// file or decoding the base64 blob.
func (c *Config) CredentialsJSON() ([]byte, error) {
	if c.CredentialsBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.CredentialsBase64))
		if err != nil {
			return nil, typ.ConfigError("decode base64 credentials: %v", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(c.CredentialsPath)
	if err != nil {
		return nil, typ.ConfigError("read credentials file %s: %v", c.CredentialsPath, err)
	}
	return raw, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
