package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/deanslist-sync/pkg/archive"
	"github.com/ajitpratap0/deanslist-sync/pkg/clients"
	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
	"github.com/ajitpratap0/deanslist-sync/pkg/logger"
	"github.com/ajitpratap0/deanslist-sync/pkg/metrics"
	"github.com/ajitpratap0/deanslist-sync/pkg/notify"
	"github.com/ajitpratap0/deanslist-sync/pkg/observability"
	"github.com/ajitpratap0/deanslist-sync/pkg/source"
	"github.com/ajitpratap0/deanslist-sync/pkg/warehouse"
)

// Config is the complete configuration of a sync process.
type Config struct {
	// Source configures the DeansList API client
	Source source.Config `yaml:"source"`

	// Warehouse selects the destination database
	Warehouse warehouse.Config `yaml:"warehouse"`

	// Tenants is a static roster. When empty the roster table in the
	// warehouse is read instead.
	Tenants []entity.Tenant `yaml:"tenants"`

	Run RunConfig `yaml:"run"`

	Logging logger.Config        `yaml:"logging"`
	Notify  notify.Config        `yaml:"notify"`
	Metrics metrics.Config       `yaml:"metrics"`
	Tracing observability.Config `yaml:"tracing"`
	Archive archive.Config       `yaml:"archive"`
}

// RunConfig controls one invocation.
type RunConfig struct {
	// Workers is the number of tenants processed concurrently
	Workers int `yaml:"workers"`
	// Tenants restricts the run to these tenant names
	Tenants []string `yaml:"tenants"`
	// Start and End (YYYY-MM-DD) turn the run into a backfill of the
	// windowed entities. Both or neither must be set.
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Window returns the backfill window, or nil for a full run.
func (r RunConfig) Window() (*entity.Window, error) {
	if r.Start == "" && r.End == "" {
		return nil, nil
	}
	if r.Start == "" || r.End == "" {
		return nil, errors.Configuration("run start and end must be given together")
	}
	w, err := entity.ParseWindow(r.Start, r.End)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Source: source.Config{
			HTTP: clients.DefaultHTTPConfig(),
		},
		Warehouse: warehouse.Config{
			Driver:          warehouse.DriverPostgres,
			Schema:          "custom",
			TablePrefix:     "DeansList_",
			RosterTable:     "DeansList_Schools",
			MaxConns:        4,
			DeleteChunkSize: 500,
		},
		Run: RunConfig{
			Workers: 1,
		},
		Logging: logger.Config{
			Level:      "info",
			Encoding:   "json",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics: metrics.Config{
			Job: "deanslist_sync",
		},
		Tracing: observability.DefaultConfig(),
	}
}

// NotifyConfig returns the notification settings. A mail without an
// explicit log_file attaches the run log written to logging.file.
func (c *Config) NotifyConfig() notify.Config {
	out := c.Notify
	if out.SMTP != nil && out.SMTP.LogFile == "" && c.Logging.File != "" {
		smtp := *out.SMTP
		smtp.LogFile = c.Logging.File
		out.SMTP = &smtp
	}
	return out
}

// Validate checks the configuration. Every problem found is listed in the
// returned configuration error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Source.BaseURL) == "" {
		add("source.base_url is required")
	}

	switch c.Warehouse.Driver {
	case warehouse.DriverPostgres, warehouse.DriverMySQL:
		if c.Warehouse.DSN == "" && c.Warehouse.Host == "" {
			add("warehouse.dsn or warehouse.host is required")
		}
	case warehouse.DriverSnowflake:
		if c.Warehouse.DSN == "" && c.Warehouse.Account == "" {
			add("warehouse.dsn or warehouse.account is required")
		}
	case warehouse.DriverMemory:
	default:
		add("unsupported warehouse.driver %q", c.Warehouse.Driver)
	}
	if c.Warehouse.DeleteChunkSize < 0 {
		add("warehouse.delete_chunk_size must not be negative")
	}

	seen := make(map[string]bool, len(c.Tenants))
	for i, t := range c.Tenants {
		if t.Name == "" {
			add("tenants[%d].name is required", i)
		}
		if t.APIKey == "" {
			add("tenants[%d].api_key is required", i)
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			add("tenant %q is listed twice", t.Name)
		}
		seen[key] = true
	}

	if c.Run.Workers < 1 {
		add("run.workers must be at least 1")
	}
	if _, err := c.Run.Window(); err != nil {
		add("%s", errMessage(err))
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level %q is invalid", c.Logging.Level)
	}

	if s := c.Notify.SMTP; s != nil && s.Host != "" && len(s.To) == 0 {
		add("notify.smtp.to is required when notify.smtp.host is set")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(problems) > 0 {
		return errors.Configuration("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func errMessage(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
