package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration

	// LiveOnlyMode is the global toggle. Accounts can enable it
	// independently; the two are OR'ed per reading.
	LiveOnlyMode bool
	DatabaseURL  string
	AccountsFile string

	RedisAddr     string
	RedisPassword string

	ForwardTimeout   time.Duration
	ForwardWorkers   int
	ForwardQueueSize int

	Location *time.Location
	LogLevel slog.Level
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 3000)
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("TOKEN_EXPIRY_SECONDS", int((7 * 24 * time.Hour).Seconds()))
	v.SetDefault("LIVE_ONLY_MODE", false)
	v.SetDefault("DATABASE_URL", "torquedash.db")
	v.SetDefault("FORWARD_TIMEOUT_SECONDS", 10)
	v.SetDefault("FORWARD_WORKERS", 4)
	v.SetDefault("FORWARD_QUEUE_SIZE", 256)
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads the environment, plus the YAML file named by CONFIG_FILE when
// set. Environment values win over the file.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return LoadFrom(v)
}

func LoadFrom(v *viper.Viper) (Config, error) {
	setDefaults(v)

	cfg := Config{
		GinMode:       v.GetString("GIN_MODE"),
		TLSCertFile:   v.GetString("TLS_CERT_FILE"),
		TLSKeyFile:    v.GetString("TLS_KEY_FILE"),
		LiveOnlyMode:  v.GetBool("LIVE_ONLY_MODE"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		AccountsFile:  v.GetString("ACCOUNTS_FILE"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
	}

	cfg.Port = v.GetInt("PORT")
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT")
	}

	cfg.MasterSecret = v.GetString("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	seconds := v.GetInt("TOKEN_EXPIRY_SECONDS")
	if seconds <= 0 {
		return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
	}
	cfg.TokenExpiry = time.Duration(seconds) * time.Second

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	forwardSeconds := v.GetInt("FORWARD_TIMEOUT_SECONDS")
	if forwardSeconds <= 0 {
		return Config{}, fmt.Errorf("invalid FORWARD_TIMEOUT_SECONDS")
	}
	cfg.ForwardTimeout = time.Duration(forwardSeconds) * time.Second

	cfg.ForwardWorkers = v.GetInt("FORWARD_WORKERS")
	if cfg.ForwardWorkers <= 0 {
		return Config{}, fmt.Errorf("invalid FORWARD_WORKERS")
	}
	cfg.ForwardQueueSize = v.GetInt("FORWARD_QUEUE_SIZE")
	if cfg.ForwardQueueSize <= 0 {
		return Config{}, fmt.Errorf("invalid FORWARD_QUEUE_SIZE")
	}

	cfg.Location = time.Local
	if tz := v.GetString("TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TIMEZONE: %w", err)
		}
		cfg.Location = loc
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToUpper(v.GetString("LOG_LEVEL")))); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL")
	}

	return cfg, nil
}
