package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// DefaultAlertThreshold is applied when an enabled budget block leaves
// alert_threshold unset.
const DefaultAlertThreshold = 0.8

// Config is the controller configuration. Zero values in the tuning
// sections defer to each package's own defaults, so a minimal file
// only names what differs. Config is comparable; the watcher relies on
// that to suppress no-op reloads.
type Config struct {
	// DataDir holds the bbolt store. Created on first use.
	DataDir string `yaml:"data_dir" validate:"required"`

	Log          Log                `yaml:"log"`
	Backend      Backend            `yaml:"backend"`
	Deploy       Deploy             `yaml:"deploy"`
	Orchestrator Orchestrator       `yaml:"orchestrator"`
	Detector     Detector           `yaml:"detector"`
	Recovery     Recovery           `yaml:"recovery"`
	Budget       types.BudgetConfig `yaml:"budget"`
	API          API                `yaml:"api"`
	Telemetry    Telemetry          `yaml:"telemetry"`
}

type Log struct {
	Level log.Level `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool      `yaml:"json"`
}

// Backend configures the mobiusd client connection.
type Backend struct {
	URL   string `yaml:"url" validate:"required,http_url"`
	Token string `yaml:"token"`

	Timeout           Duration `yaml:"timeout" validate:"omitempty,gte=1s"`
	RequestsPerSecond float64  `yaml:"requests_per_second" validate:"omitempty,gt=0"`
	Burst             int      `yaml:"burst" validate:"omitempty,min=1"`
}

// Deploy selects the driver and its isolation policy.
type Deploy struct {
	BackendType string `yaml:"backend_type" validate:"required"`

	// AllowedDomainSuffix extends the network-isolation allow-list
	// beyond localhost and private ranges.
	AllowedDomainSuffix string `yaml:"allowed_domain_suffix"`
}

type Orchestrator struct {
	PollInterval   Duration `yaml:"poll_interval" validate:"omitempty,gte=1s"`
	DisablePolling bool     `yaml:"disable_polling"`
}

type Detector struct {
	WindowSize          int      `yaml:"window_size" validate:"omitempty,min=1"`
	ConsecutiveRequired int      `yaml:"consecutive_required" validate:"omitempty,min=1"`
	ResponseTimeLimit   Duration `yaml:"response_time_limit" validate:"omitempty,gte=10ms"`
}

type Recovery struct {
	Cooldown      Duration `yaml:"cooldown" validate:"omitempty,gte=1s"`
	AttemptWindow Duration `yaml:"attempt_window" validate:"omitempty,gte=1m"`
}

type API struct {
	BindAddress string `yaml:"bind_address" validate:"required,hostname_port"`

	// AuthToken guards every /api/v1 route when set. Empty disables
	// authentication; use that only on loopback binds.
	AuthToken string `yaml:"auth_token"`
}

type Telemetry struct {
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address. Empty falls back
	// to the stdout exporter.
	Endpoint    string  `yaml:"endpoint" validate:"omitempty,hostname_port"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"omitempty,gt=0,lte=1"`
}

// Default returns the configuration used when no file is given. The
// tuning sections stay zero so the owning packages apply their own
// defaults.
func Default() *Config {
	return &Config{
		DataDir: "./mobius-data",
		Log:     Log{Level: log.InfoLevel, JSON: true},
		Backend: Backend{URL: "http://127.0.0.1:7070"},
		Deploy:  Deploy{BackendType: "mobiusd"},
		API:     API{BindAddress: "127.0.0.1:8080"},
	}
}

// Load builds the effective configuration: defaults, then the YAML
// file at path (skipped when path is empty), then MOBIUS_* environment
// overrides, validated as a whole. Unknown YAML fields are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errdefs.NewConfiguration(fmt.Sprintf("failed to read config file %s", path), err).
				WithHint("check the --config path and file permissions")
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, errdefs.NewConfiguration(fmt.Sprintf("failed to parse config file %s", path), err).
				WithHint("unknown fields are rejected; check for typos against the documented sections")
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides is the supported override surface. Secrets and
// addresses, not tuning: everything else belongs in the file.
var envOverrides = []struct {
	key   string
	apply func(*Config, string) error
}{
	{"MOBIUS_DATA_DIR", func(c *Config, v string) error { c.DataDir = v; return nil }},
	{"MOBIUS_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = log.Level(v); return nil }},
	{"MOBIUS_BACKEND_URL", func(c *Config, v string) error { c.Backend.URL = v; return nil }},
	{"MOBIUS_BACKEND_TOKEN", func(c *Config, v string) error { c.Backend.Token = v; return nil }},
	{"MOBIUS_API_ADDR", func(c *Config, v string) error { c.API.BindAddress = v; return nil }},
	{"MOBIUS_API_TOKEN", func(c *Config, v string) error { c.API.AuthToken = v; return nil }},
	{"MOBIUS_TELEMETRY_ENDPOINT", func(c *Config, v string) error { c.Telemetry.Endpoint = v; return nil }},
	{"MOBIUS_POLL_INTERVAL", func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		c.Orchestrator.PollInterval = Duration{d}
		return nil
	}},
}

func (c *Config) applyEnv() error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return errdefs.NewConfiguration(fmt.Sprintf("invalid value in %s", o.key), err).
				WithHint("unset the variable or fix its value")
		}
	}
	return nil
}

// normalize fills derived defaults that depend on other fields, before
// validation sees the struct.
func (c *Config) normalize() {
	if c.Budget.Enabled && c.Budget.AlertThreshold == 0 {
		c.Budget.AlertThreshold = DefaultAlertThreshold
	}
	if c.Telemetry.Enabled && c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
}

// Validate checks the whole tree and reports every finding at once,
// field paths in YAML notation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errdefs.NewConfiguration("config validation failed", err)
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = fmt.Sprintf("%s: %s", fieldPath(fe), issueMessage(fe))
	}
	return errdefs.NewConfiguration(strings.Join(msgs, "; "), nil).
		WithHint("fix the controller configuration and reload")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Duration); ok {
			return d.Duration
		}
		return nil
	}, Duration{})
	v.RegisterStructValidation(validateDetector, Detector{})
	v.RegisterStructValidation(validateBudget, types.BudgetConfig{})
	return v
}

func validateDetector(sl validator.StructLevel) {
	d := sl.Current().Interface().(Detector)
	if d.WindowSize > 0 && d.ConsecutiveRequired > d.WindowSize {
		sl.ReportError(d.ConsecutiveRequired, "consecutive_required", "ConsecutiveRequired", "consecutive_window", "")
	}
}

func validateBudget(sl validator.StructLevel) {
	b := sl.Current().Interface().(types.BudgetConfig)
	if !b.Enabled {
		return
	}
	if b.MonthlyLimit <= 0 {
		sl.ReportError(b.MonthlyLimit, "monthly_limit", "MonthlyLimit", "budget_limit", "")
	}
	if b.AlertThreshold <= 0 || b.AlertThreshold > 1 {
		sl.ReportError(b.AlertThreshold, "alert_threshold", "AlertThreshold", "budget_threshold", "")
	}
}

func fieldPath(fe validator.FieldError) string {
	return strings.TrimPrefix(fe.Namespace(), "Config.")
}

func issueMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "a value is required"
	case "oneof":
		return fmt.Sprintf("must be one of %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "http_url":
		return "must be an http or https URL"
	case "hostname_port":
		return "must be a host:port address"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "consecutive_window":
		return "consecutive_required cannot exceed window_size"
	case "budget_limit":
		return "monthly_limit must be positive when the budget is enabled"
	case "budget_threshold":
		return "alert_threshold must be within (0, 1]"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
