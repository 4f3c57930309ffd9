// Package config loads the process configuration from a YAML file with
// environment variable expansion.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment names. Anything other than local/development is treated as
// production-like.
const (
	EnvLocal       = "local"
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config holds all server configuration. It is loaded once at startup and
// passed by reference into the components that need it.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	AppVersion     string `mapstructure:"app_version"`
	AppEnvironment string `mapstructure:"app_environment"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Backends  []BackendConfig  `mapstructure:"backends"`
	Databases []DatabaseConfig `mapstructure:"databases"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr    string        `mapstructure:"listen_addr"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxUploadSize int64         `mapstructure:"max_upload_size"`
}

// AuthConfig holds bearer-token authentication settings. APIKeys are static
// tokens; JWTSecret additionally enables HMAC-signed tokens.
type AuthConfig struct {
	APIKeys   []string `mapstructure:"api_keys"`
	JWTSecret string   `mapstructure:"jwt_secret"`
}

// BackendConfig declares one storage backend instance. Type selects the
// concrete variant; the remaining fields are variant-specific and validated
// by the variant's constructor.
type BackendConfig struct {
	Type string `mapstructure:"type"` // "local", "s3", "gcs", "sftp"
	Name string `mapstructure:"name"`

	// local, sftp: filesystem root. s3, gcs: key prefix inside the bucket.
	RootPath string `mapstructure:"root_path"`

	// s3, gcs
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	ProjectID string `mapstructure:"project_id"`

	// sftp
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DatabaseConfig declares one relational database instance.
type DatabaseConfig struct {
	URL         string        `mapstructure:"url"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolRecycle time.Duration `mapstructure:"pool_recycle"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} references with the environment value. When the
// variable is unset and names an existing file, the file contents are used
// instead (volume-mounted secrets). Unresolvable references are left as-is.
func expandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(envVarPattern.FindSubmatch(m)[1])
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return []byte(v)
		}
		if content, err := os.ReadFile(name); err == nil {
			return bytes.TrimSpace(content)
		}
		return m
	})
}

// Load reads the YAML configuration at path, expands ${VAR} references and
// applies FILEDEPOT_* environment overrides for top-level fields.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FILEDEPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_name", "filedepot")
	v.SetDefault("app_version", "0.0.0")
	v.SetDefault("app_environment", EnvProduction)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_size", int64(100<<20))

	if err := v.ReadConfig(bytes.NewReader(expandEnv(raw))); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	// Outside local development, debug logging is forced down to info.
	if !c.DevEnvironment() && c.LogLevel == "debug" {
		c.LogLevel = "info"
	}

	for i, b := range c.Backends {
		if b.Type == "" {
			return fmt.Errorf("backends[%d]: type is required", i)
		}
	}
	for i, d := range c.Databases {
		if d.URL == "" {
			return fmt.Errorf("databases[%d]: url is required", i)
		}
	}
	return nil
}

// DevEnvironment reports whether the process runs in a development-like
// environment.
func (c *Config) DevEnvironment() bool {
	return c.AppEnvironment == EnvLocal || c.AppEnvironment == EnvDevelopment
}
