// Package config loads runner configuration from YAML files, environment
// variables, and command-line overrides.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for the experiment runner.
type Config struct {
	Mode    ModeConfig    `yaml:"mode"`
	Cluster ClusterConfig `yaml:"cluster"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// ModeConfig selects and parameterizes the execution backend.
type ModeConfig struct {
	// Name is one of serial, multithreaded, distributed, heterogeneous,
	// cluster.
	Name string `yaml:"name" env:"ER_MODE"`

	// Threads is the goroutine count for the multithreaded backend.
	// Zero or negative selects one per available CPU.
	Threads int `yaml:"threads" env:"ER_MODE_THREADS"`

	// PoolWorkers is the member count for the pool backends.
	PoolWorkers int `yaml:"pool_workers" env:"ER_MODE_POOL_WORKERS"`

	// ThreadsPerNode is the per-member thread count for the heterogeneous
	// backend.
	ThreadsPerNode int `yaml:"threads_per_node" env:"ER_MODE_THREADS_PER_NODE"`

	// BatchSize is the per-request trial cap for the cluster backend.
	BatchSize int `yaml:"batch_size" env:"ER_MODE_BATCH_SIZE"`
}

// ClusterConfig describes this process's place in a cluster run.
type ClusterConfig struct {
	Rank           int           `yaml:"rank" env:"ER_CLUSTER_RANK"`
	NumProcs       int           `yaml:"num_procs" env:"ER_CLUSTER_NUM_PROCS"`
	ListenAddress  string        `yaml:"listen_address" env:"ER_CLUSTER_LISTEN_ADDRESS"`
	CoordinatorURL string        `yaml:"coordinator_url" env:"ER_CLUSTER_COORDINATOR_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"ER_CLUSTER_REQUEST_TIMEOUT"`
}

// StoreConfig selects the results-store backend.
type StoreConfig struct {
	// Driver is "memory" or "mysql".
	Driver string `yaml:"driver" env:"ER_STORE_DRIVER"`

	// DSN is the database connection string for the mysql driver.
	DSN string `yaml:"dsn" env:"ER_STORE_DSN"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"ER_LOG_LEVEL"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeConfig{
			Name:           "serial",
			Threads:        0,
			PoolWorkers:    2,
			ThreadsPerNode: 1,
			BatchSize:      1,
		},
		Cluster: ClusterConfig{
			Rank:           0,
			NumProcs:       2,
			ListenAddress:  ":8080",
			CoordinatorURL: "http://localhost:8080",
			RequestTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		cmdArgs: make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets command-line arguments for configuration override.
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply command-line overrides: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file. A missing file is not
// an error; the defaults stand.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// applyCmdOverrides applies command-line argument overrides to the configuration.
func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := l.setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("failed to set config value %s: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by dot-notation path, e.g.
// "mode.batch_size".
func (l *Loader) setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		fieldName := strings.ReplaceAll(part, "_", "")

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName) || strings.EqualFold(name, part)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown config path: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("expected %s to be a struct, got %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}
