package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config     = viper.New()
	configName = "config"
	configType = "yaml"
)

type Config struct {
	Platform struct {
		ID       string `mapstructure:"ID"`
		Name     string `mapstructure:"NAME"`
		Timezone string `mapstructure:"TIMEZONE"`
		Currency string `mapstructure:"CURRENCY"`
	} `mapstructure:"PLATFORM"`
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Enable bool   `mapstructure:"ENABLE"`
		Addr   string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Path           string `mapstructure:"PATH"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Snowflake struct {
		NodeID int64 `mapstructure:"NODE_ID"`
	} `mapstructure:"SNOWFLAKE"`
	Ledger struct {
		LockBackend    string        `mapstructure:"LOCK_BACKEND"` // local | redis
		LockTTL        time.Duration `mapstructure:"LOCK_TTL"`
		LockWait       time.Duration `mapstructure:"LOCK_WAIT"`
		MinWithdrawal  string        `mapstructure:"MIN_WITHDRAWAL"`
		VerifySchedule string        `mapstructure:"VERIFY_SCHEDULE"`
	} `mapstructure:"LEDGER"`
	Payout struct {
		CreatorPoolPct string `mapstructure:"CREATOR_POOL_PCT"`
		Concurrency    int    `mapstructure:"CONCURRENCY"`
		MaxAttempts    int    `mapstructure:"MAX_ATTEMPTS"`
		Eligibility    string `mapstructure:"ELIGIBILITY"`
		Schedule       string `mapstructure:"SCHEDULE"`
	} `mapstructure:"PAYOUT"`
	Reward struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"REWARD"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "creatorledger")
	v.SetDefault("PLATFORM.TIMEZONE", "UTC")
	v.SetDefault("PLATFORM.CURRENCY", "USD")
	v.SetDefault("HTTP_SERVER.ADDR", "8081")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 5*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("SNOWFLAKE.NODE_ID", 1)
	v.SetDefault("LEDGER.LOCK_BACKEND", "local")
	v.SetDefault("LEDGER.LOCK_TTL", 30*time.Second)
	v.SetDefault("LEDGER.LOCK_WAIT", 10*time.Second)
	v.SetDefault("LEDGER.MIN_WITHDRAWAL", "10.00")
	v.SetDefault("LEDGER.VERIFY_SCHEDULE", "30 3 * * *")
	v.SetDefault("PAYOUT.CREATOR_POOL_PCT", "50")
	v.SetDefault("PAYOUT.CONCURRENCY", 8)
	v.SetDefault("PAYOUT.MAX_ATTEMPTS", 3)
	v.SetDefault("PAYOUT.SCHEDULE", "0 2 1 * *")
	v.SetDefault("REWARD.CONCURRENCY", 8)
}

func LoadConfig() *Config {
	cfg, err := Load(config, ".")
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}
	return cfg
}

// Load reads config.yaml from path when present and overlays the environment.
func Load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(path)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Location resolves the platform timezone used for month bucketing.
func (c *Config) Location() *time.Location {
	if c == nil || c.Platform.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Platform.Timezone)
	if err != nil {
		zap.L().Warn("invalid platform timezone, falling back to UTC", zap.String("timezone", c.Platform.Timezone), zap.Error(err))
		return time.UTC
	}
	return loc
}
