package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. DLSYNC_WAREHOUSE_DSN.
const EnvPrefix = "DLSYNC"

// Load reads the YAML file at path over the defaults. ${VAR} references in
// the file are replaced with environment values first. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if err := loadFile(path, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load configuration").
			WithDetail("path", path)
	}
	return cfg, nil
}

func loadFile(filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// LoadEnvFile exports the variables of a .env file. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load env file").WithDetail("path", path)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}

// NewViper returns a viper instance reading DLSYNC_* environment variables.
// Callers bind command-line flags to it before calling ApplyOverrides.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key set in v (by flag or environment) into c.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	setString("source.base_url", &c.Source.BaseURL)
	setString("warehouse.driver", &c.Warehouse.Driver)
	setString("warehouse.dsn", &c.Warehouse.DSN)
	setString("warehouse.password", &c.Warehouse.Password)
	setString("warehouse.schema", &c.Warehouse.Schema)
	setString("logging.level", &c.Logging.Level)
	setString("logging.file", &c.Logging.File)
	setString("run.start", &c.Run.Start)
	setString("run.end", &c.Run.End)
	setString("metrics.push_url", &c.Metrics.PushURL)
	setString("archive.bucket", &c.Archive.Bucket)

	if v.IsSet("run.workers") {
		c.Run.Workers = v.GetInt("run.workers")
	}
	if v.IsSet("warehouse.transactional") {
		c.Warehouse.Transactional = v.GetBool("warehouse.transactional")
	}
	if v.IsSet("tracing.enabled") {
		c.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
	if v.IsSet("run.tenants") {
		c.Run.Tenants = splitList(v.Get("run.tenants"))
	}
}

// splitList accepts a flag slice or a comma separated environment value.
func splitList(raw any) []string {
	var parts []string
	switch t := raw.(type) {
	case []string:
		for _, s := range t {
			parts = append(parts, strings.Split(s, ",")...)
		}
	case string:
		parts = strings.Split(t, ",")
	default:
		parts = strings.Split(fmt.Sprint(t), ",")
	}

	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
