package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Listen            string   `mapstructure:"listen"`
		LogLevel          string   `mapstructure:"loglevel"`
		AllowedOrigins    []string `mapstructure:"allowed_origins"`
		MaxHTTPBufferSize int64    `mapstructure:"max_http_buffer_size"`
		JWTSecret         string   `mapstructure:"jwt_secret"`
		Storage           Storage  `mapstructure:"storage"`
		Document          Document `mapstructure:"document"`
	}

	Storage struct {
		Type           string `mapstructure:"type"`
		DataSourceName string `mapstructure:"data_source_name"`
		LocalPath      string `mapstructure:"local_path"`
		S3Bucket       string `mapstructure:"s3_bucket"`
	}

	Document struct {
		Engine        string        `mapstructure:"engine"`
		IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	}
)

// envAliases keeps the bare variable names the storage layer has always read.
var envAliases = map[string]string{
	"storage.type":             "STORAGE_TYPE",
	"storage.data_source_name": "DATA_SOURCE_NAME",
	"storage.local_path":       "LOCAL_STORAGE_PATH",
	"storage.s3_bucket":        "S3_BUCKET_NAME",
	"jwt_secret":               "JWT_SECRET",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":5000")
	v.SetDefault("loglevel", "info")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("max_http_buffer_size", 5000000)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_source_name", "devsync.db")
	v.SetDefault("storage.local_path", "./data")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("document.engine", "yjs")
	v.SetDefault("document.idle_timeout", "30m")
	v.SetDefault("document.sweep_interval", "1m")
}

// Load reads .env (if any), DEVSYNC_* variables, the legacy bare names and
// the given flags, in increasing precedence.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("devsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "DEVSYNC_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch c.Storage.Type {
	case "memory", "filesystem", "sqlite", "s3":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET_NAME must be set for s3 storage type")
	}
	if c.Document.SweepInterval <= 0 {
		return fmt.Errorf("document sweep interval must be positive")
	}
	return nil
}
