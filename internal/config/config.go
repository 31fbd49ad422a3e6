package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"bucketzip/internal/storage"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// GCPKeyEnv names the environment variable holding a base64 encoded
// service account key for the gcs backend.
const GCPKeyEnv = "GCP_SA_KEY"

// MaxPageSize is the largest listing page the backends accept.
const MaxPageSize = 1000

// Config represents the application configuration
type Config struct {
	Source    Endpoint `yaml:"source"`
	Target    Endpoint `yaml:"target"`
	Archive   Archive  `yaml:"archive"`
	LogLevel  string   `yaml:"log_level"`
	LogFormat string   `yaml:"log_format"`
}

// Endpoint represents one object store
type Endpoint struct {
	Backend        string `yaml:"backend"`
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Secure         bool   `yaml:"secure"`
	Region         string `yaml:"region"`
	Root           string `yaml:"root"`
	CredentialsB64 string `yaml:"credentials_b64"`

	credentials []byte
}

// Archive represents archiving-specific configuration
type Archive struct {
	SourceBucket   string `yaml:"source_bucket"`
	DestBucket     string `yaml:"dest_bucket"`
	Prefix         string `yaml:"prefix"`
	Label          string `yaml:"label"`
	PageSize       int    `yaml:"page_size"`
	MaxWorkers     int    `yaml:"max_workers"`
	MaxChunkSizeMB int    `yaml:"max_chunk_size_mb"`
	Retries        int    `yaml:"retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
	Journal        string `yaml:"journal"`
	MetricsAddr    string `yaml:"metrics_addr"`
	ShowProgress   bool   `yaml:"show_progress"`
	DryRun         bool   `yaml:"dry_run"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Source:    Endpoint{Backend: "s3"},
		Target:    Endpoint{Backend: "s3"},
		Archive: Archive{
			PageSize:       MaxPageSize,
			MaxWorkers:     10,
			MaxChunkSizeMB: 1024,
			RetryBackoffMs: 500,
		},
	}
}

// Load loads configuration from file, command line flags and the positional
// source and destination bucket arguments, in increasing precedence.
func Load(configFile string, flags *pflag.FlagSet, args []string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if len(args) > 0 {
		cfg.Archive.SourceBucket = args[0]
	}
	if len(args) > 1 {
		cfg.Archive.DestBucket = args[1]
	}
	if cfg.Archive.Label == "" {
		cfg.Archive.Label = cfg.Archive.SourceBucket
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	strs := map[string]*string{
		"src-backend":    &cfg.Source.Backend,
		"src-endpoint":   &cfg.Source.Endpoint,
		"src-access-key": &cfg.Source.AccessKey,
		"src-secret-key": &cfg.Source.SecretKey,
		"src-region":     &cfg.Source.Region,
		"src-root":       &cfg.Source.Root,
		"dst-backend":    &cfg.Target.Backend,
		"dst-endpoint":   &cfg.Target.Endpoint,
		"dst-access-key": &cfg.Target.AccessKey,
		"dst-secret-key": &cfg.Target.SecretKey,
		"dst-region":     &cfg.Target.Region,
		"dst-root":       &cfg.Target.Root,
		"prefix":         &cfg.Archive.Prefix,
		"label":          &cfg.Archive.Label,
		"journal":        &cfg.Archive.Journal,
		"metrics-addr":   &cfg.Archive.MetricsAddr,
		"log-level":      &cfg.LogLevel,
		"log-format":     &cfg.LogFormat,
	}
	for name, dst := range strs {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	ints := map[string]*int{
		"page-size":         &cfg.Archive.PageSize,
		"max-workers":       &cfg.Archive.MaxWorkers,
		"max-chunk-size-mb": &cfg.Archive.MaxChunkSizeMB,
		"retries":           &cfg.Archive.Retries,
		"retry-backoff-ms":  &cfg.Archive.RetryBackoffMs,
	}
	for name, dst := range ints {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	bools := map[string]*bool{
		"src-secure":    &cfg.Source.Secure,
		"dst-secure":    &cfg.Target.Secure,
		"show-progress": &cfg.Archive.ShowProgress,
		"dry-run":       &cfg.Archive.DryRun,
	}
	for name, dst := range bools {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	return nil
}

func (c *Config) validate() error {
	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if err := c.Target.validate("target"); err != nil {
		return err
	}

	if c.Archive.SourceBucket == "" {
		return fmt.Errorf("source bucket is required")
	}
	if c.Archive.DestBucket == "" {
		return fmt.Errorf("destination bucket is required")
	}
	if strings.Contains(c.Archive.Label, "/") {
		return fmt.Errorf("label must not contain '/': %q", c.Archive.Label)
	}

	if c.Archive.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive")
	}
	if c.Archive.MaxChunkSizeMB <= 0 {
		return fmt.Errorf("max chunk size must be positive")
	}
	if c.Archive.PageSize <= 0 || c.Archive.PageSize > MaxPageSize {
		return fmt.Errorf("page size must be between 1 and %d", MaxPageSize)
	}
	if c.Archive.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}

	return nil
}

func (e *Endpoint) validate(name string) error {
	switch e.Backend {
	case "", "s3":
		if e.Endpoint == "" {
			return fmt.Errorf("%s endpoint is required", name)
		}
		if e.AccessKey == "" {
			return fmt.Errorf("%s access key is required", name)
		}
		if e.SecretKey == "" {
			return fmt.Errorf("%s secret key is required", name)
		}
	case "gcs":
		encoded := e.CredentialsB64
		if encoded == "" {
			encoded = os.Getenv(GCPKeyEnv)
		}
		if encoded == "" {
			return fmt.Errorf("%s credentials are required: set credentials_b64 or %s", name, GCPKeyEnv)
		}
		creds, err := DecodeCredentials(encoded)
		if err != nil {
			return fmt.Errorf("%s credentials: %w", name, err)
		}
		e.credentials = creds
	case "file":
		if e.Root == "" {
			return fmt.Errorf("%s root directory is required", name)
		}
	case "mem":
	default:
		return fmt.Errorf("%s backend %q is not supported", name, e.Backend)
	}
	return nil
}

// DecodeCredentials decodes a base64 service account key and checks that it
// is JSON.
func DecodeCredentials(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("service account key is not valid JSON")
	}
	return data, nil
}

// StorageConfig converts the endpoint into a storage client configuration
func (e Endpoint) StorageConfig() storage.Config {
	return storage.Config{
		Backend:         e.Backend,
		Endpoint:        e.Endpoint,
		AccessKey:       e.AccessKey,
		SecretKey:       e.SecretKey,
		Secure:          e.Secure,
		Region:          e.Region,
		Root:            e.Root,
		CredentialsJSON: e.credentials,
	}
}

// MaxChunkBytes returns the chunk size limit in bytes
func (a Archive) MaxChunkBytes() int64 {
	return int64(a.MaxChunkSizeMB) * 1024 * 1024
}

// RetryBackoff returns the initial retry backoff
func (a Archive) RetryBackoff() time.Duration {
	return time.Duration(a.RetryBackoffMs) * time.Millisecond
}

// RegisterFlags defines the command line flags Load understands
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()

	flags.String("src-backend", d.Source.Backend, "Source backend (s3/gcs/file/mem)")
	flags.String("src-endpoint", "", "Source S3 endpoint")
	flags.String("src-access-key", "", "Source access key")
	flags.String("src-secret-key", "", "Source secret key")
	flags.String("src-region", "", "Source region")
	flags.String("src-root", "", "Source root directory (file backend)")
	flags.Bool("src-secure", false, "Use HTTPS for source")

	flags.String("dst-backend", d.Target.Backend, "Destination backend (s3/gcs/file/mem)")
	flags.String("dst-endpoint", "", "Destination S3 endpoint")
	flags.String("dst-access-key", "", "Destination access key")
	flags.String("dst-secret-key", "", "Destination secret key")
	flags.String("dst-region", "", "Destination region")
	flags.String("dst-root", "", "Destination root directory (file backend)")
	flags.Bool("dst-secure", false, "Use HTTPS for destination")

	flags.String("prefix", "", "Only archive source objects under this prefix")
	flags.String("label", "", "Destination folder for chunks and manifest (default is the source bucket)")
	flags.Int("page-size", d.Archive.PageSize, "Objects per listing page")
	flags.Int("max-workers", d.Archive.MaxWorkers, "Number of concurrent object fetches")
	flags.Int("max-chunk-size-mb", d.Archive.MaxChunkSizeMB, "Maximum uncompressed content per chunk in MiB")
	flags.Int("retries", d.Archive.Retries, "Retry attempts for failed fetches and uploads")
	flags.Int("retry-backoff-ms", d.Archive.RetryBackoffMs, "Initial retry backoff in milliseconds")
	flags.String("journal", "", "SQLite run journal file (disabled when empty)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.Bool("show-progress", false, "Show progress display")
	flags.Bool("dry-run", false, "List pages and plan chunks without fetching or uploading")
	flags.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
	flags.String("log-format", d.LogFormat, "Log format (json/console)")
}
