/*
Package config loads the server configuration.

PURPOSE:
  One typed Config for the binary, read from an optional YAML file,
  a .env file and WORKTIME_* environment variables.

PRECEDENCE:
  environment > config file > defaults

ENVIRONMENT:
  Keys map to variables by upper-casing and replacing dots with
  underscores: export.s3.bucket -> WORKTIME_EXPORT_S3_BUCKET.

SEE ALSO:
  - cmd/server/main.go: Wiring
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/warp/worktime-engine/worktime"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Export   ExportConfig   `mapstructure:"export"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Policy   PolicyConfig   `mapstructure:"policy"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig selects the store. Driver is "sqlite" or "memory".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ExportConfig names both payroll destinations. Every export must reach
// both; AllowMemorySinks stands in-memory sinks in for missing ones during
// development.
type ExportConfig struct {
	S3               S3Config   `mapstructure:"s3"`
	SFTP             SFTPConfig `mapstructure:"sftp"`
	AllowMemorySinks bool       `mapstructure:"allow_memory_sinks"`
}

// MissingSinks lists the destinations without configuration.
func (e ExportConfig) MissingSinks() []string {
	var missing []string
	if e.S3.Bucket == "" {
		missing = append(missing, "s3")
	}
	if e.SFTP.Host == "" {
		missing = append(missing, "sftp")
	}
	return missing
}

// S3Config is enabled when Bucket is set.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Folder    string `mapstructure:"folder"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// SFTPConfig is enabled when Host is set.
type SFTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Folder   string        `mapstructure:"folder"`
	HostKey  string        `mapstructure:"host_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// JobsConfig holds cron specs. An empty spec leaves the job manual-only.
type JobsConfig struct {
	RemoveDuplicates string        `mapstructure:"remove_duplicates"`
	ResolveShifts    string        `mapstructure:"resolve_shifts"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type PolicyConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// Load reads the configuration. An empty path looks for config.yaml in
// ./config and the working directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "worktime.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "worktime:events")
	v.SetDefault("redis.group", "worktime-engine")
	v.SetDefault("redis.consumer", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("export.allow_memory_sinks", false)
	v.SetDefault("export.s3.bucket", "")
	v.SetDefault("export.s3.folder", "payroll")
	v.SetDefault("export.s3.region", "eu-north-1")
	v.SetDefault("export.s3.endpoint", "")
	v.SetDefault("export.s3.access_key", "")
	v.SetDefault("export.s3.secret_key", "")
	v.SetDefault("export.sftp.host", "")
	v.SetDefault("export.sftp.port", 22)
	v.SetDefault("export.sftp.user", "")
	v.SetDefault("export.sftp.password", "")
	v.SetDefault("export.sftp.folder", "payroll")
	v.SetDefault("export.sftp.host_key", "")
	v.SetDefault("export.sftp.timeout", "15s")

	v.SetDefault("jobs.remove_duplicates", "@every 10m")
	v.SetDefault("jobs.resolve_shifts", "@every 15m")
	v.SetDefault("jobs.timeout", "10m")

	v.SetDefault("policy.timezone", "Europe/Helsinki")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("WORKTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the server cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be within 1-65535, got %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("config: database.path is required for sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if c.Redis.Enabled && (c.Redis.Stream == "" || c.Redis.Group == "") {
		return errors.New("config: redis.stream and redis.group are required when redis is enabled")
	}
	if c.Export.SFTP.Host != "" && c.Export.SFTP.User == "" {
		return errors.New("config: export.sftp.user is required when export.sftp.host is set")
	}
	if _, err := time.LoadLocation(c.Policy.Timezone); err != nil {
		return fmt.Errorf("config: policy.timezone: %w", err)
	}
	return nil
}

// WorkPolicy returns the contract rules in the configured zone.
func (c *Config) WorkPolicy() (worktime.Policy, error) {
	loc, err := time.LoadLocation(c.Policy.Timezone)
	if err != nil {
		return worktime.Policy{}, fmt.Errorf("policy.timezone: %w", err)
	}
	p := worktime.NewPolicy(loc)
	if c.Server.RequestTimeout > 0 {
		p.RequestTimeout = c.Server.RequestTimeout
	}
	return p, nil
}
