// Package config loads offsync.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
)

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = "offsync.yaml"

// Transport names.
const (
	TransportExec = "exec"
	TransportHTTP = "http"
)

// Config is the on-disk configuration.
type Config struct {
	QueueFile          string  `yaml:"queue_file"`
	ConflictResolution string  `yaml:"conflict_resolution"`
	DeletePolicy       string  `yaml:"delete_policy"`
	BatchSize          int     `yaml:"batch_size"`
	RespectEntityOrder bool    `yaml:"respect_entity_order"`
	Retry              Retry   `yaml:"retry"`
	Remote             Remote  `yaml:"remote"`
	SchemaDir          string  `yaml:"schema_dir"`
	Tracing            Tracing `yaml:"tracing"`
}

// Retry mirrors remote.RetryPolicy.
type Retry struct {
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor"`
}

// Remote selects and configures the transport.
type Remote struct {
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       []string          `yaml:"env"`
	Endpoint  string            `yaml:"endpoint"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`

	LegacyMessageClassification bool `yaml:"legacy_message_classification"`
}

// Tracing selects the span exporter.
type Tracing struct {
	Exporter string `yaml:"exporter"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := remote.DefaultRetryPolicy()
	return Config{
		QueueFile:          "offsync.db",
		ConflictResolution: string(ir.PolicyTimestamp),
		DeletePolicy:       string(ir.PolicyForceDelete),
		BatchSize:          engine.DefaultBatchSize,
		RespectEntityOrder: true,
		Retry: Retry{
			MaxRetries:   p.MaxRetries,
			BaseDelay:    p.BaseDelay,
			MaxDelay:     p.MaxDelay,
			JitterFactor: p.JitterFactor,
		},
		Remote: Remote{
			Transport: TransportExec,
			Command:   "offsync",
			Args:      []string{"mock-server", "--db", "remote.db"},
			Timeout:   30 * time.Second,
		},
		Tracing: Tracing{Exporter: "none"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges. Errors carry the VALIDATION code.
func (c Config) Validate() error {
	var errs ir.ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ir.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.BatchSize < 1 {
		add("batch_size", "must be >= 1, got %d", c.BatchSize)
	}
	if _, err := ir.ParseConflictPolicy(c.ConflictResolution); err != nil {
		add("conflict_resolution", "%v", err)
	}
	if _, err := ir.ParseConflictPolicy(c.DeletePolicy); err != nil {
		add("delete_policy", "%v", err)
	}
	if c.Retry.MaxRetries < 0 {
		add("retry.max_retries", "must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelay < 0 {
		add("retry.base_delay", "must be >= 0, got %s", c.Retry.BaseDelay)
	}
	if c.Retry.MaxDelay < 0 {
		add("retry.max_delay", "must be >= 0, got %s", c.Retry.MaxDelay)
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		add("retry.jitter_factor", "must be within [0, 1], got %v", c.Retry.JitterFactor)
	}
	if c.Remote.Timeout < 0 {
		add("remote.timeout", "must be >= 0, got %s", c.Remote.Timeout)
	}

	switch strings.ToLower(c.Remote.Transport) {
	case TransportExec:
		if c.Remote.Command == "" {
			add("remote.command", "required for exec transport")
		}
	case TransportHTTP:
		if c.Remote.Endpoint == "" {
			add("remote.endpoint", "required for http transport")
		}
	default:
		add("remote.transport", "unknown transport %q (want exec or http)", c.Remote.Transport)
	}

	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "none", "stdout":
	default:
		add("tracing.exporter", "unknown exporter %q (want none or stdout)", c.Tracing.Exporter)
	}

	return errs.Err()
}

// Policy returns the parsed default conflict policy.
func (c Config) Policy() ir.ConflictPolicy {
	p, err := ir.ParseConflictPolicy(c.ConflictResolution)
	if err != nil {
		return ir.DefaultConflictPolicy
	}
	return p.Or(ir.DefaultConflictPolicy)
}

// DeleteDefault returns the parsed policy recorded on DELETE actions that
// leave theirs unset.
func (c Config) DeleteDefault() ir.ConflictPolicy {
	p, err := ir.ParseConflictPolicy(c.DeletePolicy)
	if err != nil {
		return ir.PolicyForceDelete
	}
	return p.Or(ir.PolicyForceDelete)
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() remote.RetryPolicy {
	return remote.RetryPolicy{
		MaxRetries:   c.Retry.MaxRetries,
		BaseDelay:    c.Retry.BaseDelay,
		MaxDelay:     c.Retry.MaxDelay,
		JitterFactor: c.Retry.JitterFactor,
	}
}

// Transport builds the configured transport.
func (c Config) Transport() (remote.Transport, error) {
	switch strings.ToLower(c.Remote.Transport) {
	case TransportExec:
		return &remote.ExecTransport{
			Command: c.Remote.Command,
			Args:    c.Remote.Args,
			Env:     c.Remote.Env,
			Timeout: c.Remote.Timeout,
		}, nil
	case TransportHTTP:
		return &remote.HTTPTransport{
			Endpoint: c.Remote.Endpoint,
			Client:   &http.Client{Timeout: c.Remote.Timeout},
			Headers:  c.Remote.Headers,
		}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", c.Remote.Transport)
}

// ClientOptions returns the remote.Client options the config implies.
func (c Config) ClientOptions() []remote.ClientOption {
	opts := []remote.ClientOption{remote.WithRetryPolicy(c.RetryPolicy())}
	if c.Remote.LegacyMessageClassification {
		opts = append(opts, remote.WithLegacyMessageClassification())
	}
	return opts
}

// EngineOptions returns the engine defaults the config implies.
func (c Config) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithBatchSize(c.BatchSize),
		engine.WithConflictResolution(c.Policy()),
		engine.WithEntityOrder(c.RespectEntityOrder),
	}
}
