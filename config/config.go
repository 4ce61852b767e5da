package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreDriverRedis  = "redis"
	StoreDriverSQLite = "sqlite"

	ObjectStoreDriverGCS   = "gcs"
	ObjectStoreDriverLocal = "local"
)

type Config struct {
	Service     string      `json:"service"      yaml:"service"`
	CacheDir    string      `json:"cache_dir"    yaml:"cache_dir"`
	Charts      Charts      `json:"charts"       yaml:"charts"`
	Auth        Auth        `json:"auth"         yaml:"auth"`
	Store       Store       `json:"store"        yaml:"store"`
	ObjectStore ObjectStore `json:"object_store" yaml:"object_store"`
	Pipeline    Pipeline    `json:"pipeline"     yaml:"pipeline"`
	Retry       Retry       `json:"retry"        yaml:"retry"`
	Schedule    string      `json:"schedule"     yaml:"schedule"`
	Report      Report      `json:"report"       yaml:"report"`
	Telegram    *Telegram   `json:"telegram"     yaml:"telegram"`
	Channels    []Channel   `json:"channels"     yaml:"channels"`
	Log         Log         `json:"log"          yaml:"log"`
}

type Charts struct {
	BaseURL        string `json:"base_url"         yaml:"base_url"`
	StreamsBaseURL string `json:"streams_base_url" yaml:"streams_base_url"`
	Limit          int    `json:"limit"            yaml:"limit"`
}

type Auth struct {
	TokenFile string `json:"token_file" yaml:"token_file"`
}

type Store struct {
	Driver string      `json:"driver" yaml:"driver"`
	Redis  RedisStore  `json:"redis"  yaml:"redis"`
	SQLite SQLiteStore `json:"sqlite" yaml:"sqlite"`
}

type RedisStore struct {
	Addr     string `json:"addr"     yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db"       yaml:"db"`
}

type SQLiteStore struct {
	Path string `json:"path" yaml:"path"`
}

type ObjectStore struct {
	Driver          string `json:"driver"           yaml:"driver"`
	Bucket          string `json:"bucket"           yaml:"bucket"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	LocalDir        string `json:"local_dir"        yaml:"local_dir"`
}

type Pipeline struct {
	Concurrency         int           `json:"concurrency"            yaml:"concurrency"`
	RequestsPerSecond   float64       `json:"requests_per_second"    yaml:"requests_per_second"`
	RunTimeout          time.Duration `json:"run_timeout"            yaml:"run_timeout"`
	ReingestOnNewSource bool          `json:"reingest_on_new_source" yaml:"reingest_on_new_source"`
}

type Retry struct {
	MaxAttempts     int           `json:"max_attempts"     yaml:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"     yaml:"max_interval"`
}

type Report struct {
	Path string `json:"path" yaml:"path"`
}

type Telegram struct {
	AppID      int    `json:"app_id"      yaml:"app_id"`
	AppHash    string `json:"app_hash"    yaml:"app_hash"`
	BotToken   string `json:"bot_token"   yaml:"bot_token"`
	Peer       string `json:"peer"        yaml:"peer"`
	SessionDir string `json:"session_dir" yaml:"session_dir"`
}

type Channel struct {
	ID      string `json:"id"      yaml:"id"`
	Title   string `json:"title"   yaml:"title"`
	Service string `json:"service" yaml:"service"`
	Region  string `json:"region"  yaml:"region"`
	Genre   string `json:"genre"   yaml:"genre"`
}

type Log struct {
	Format string `json:"format" yaml:"format"`
	Level  string `json:"level"  yaml:"level"`
}

// applyEnv fills secrets from the environment. Values set in the config
// take precedence.
func (cfg *Config) applyEnv() error {
	if v := os.Getenv("REDIS_PASSWORD"); v != "" && cfg.Store.Redis.Password == "" {
		cfg.Store.Redis.Password = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && cfg.ObjectStore.CredentialsFile == "" {
		cfg.ObjectStore.CredentialsFile = v
	}

	tg := cfg.Telegram
	if nil == tg {
		return nil
	}
	if v := os.Getenv("APP_ID"); v != "" && tg.AppID == 0 {
		appID, err := strconv.Atoi(v)
		if nil != err {
			return errors.New("failed to parse APP_ID environment variable to integer")
		}
		tg.AppID = appID
	}
	if v := os.Getenv("APP_HASH"); v != "" && tg.AppHash == "" {
		tg.AppHash = v
	}
	if v := os.Getenv("BOT_TOKEN"); v != "" && tg.BotToken == "" {
		tg.BotToken = v
	}
	return nil
}

func (cfg *Config) setDefaults() {
	if cfg.Service == "" {
		cfg.Service = "SoundCloud"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "cache"
	}
	if cfg.Charts.BaseURL == "" {
		cfg.Charts.BaseURL = "https://api-v2.soundcloud.com"
	}
	if cfg.Charts.StreamsBaseURL == "" {
		cfg.Charts.StreamsBaseURL = "https://api.soundcloud.com/i1"
	}
	if cfg.Charts.Limit == 0 {
		cfg.Charts.Limit = 20
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreDriverSQLite
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "chartd.db"
	}
	if cfg.ObjectStore.Driver == "" {
		cfg.ObjectStore.Driver = ObjectStoreDriverLocal
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 1
	}
	if cfg.Pipeline.RunTimeout == 0 {
		cfg.Pipeline.RunTimeout = 30 * time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = 10 * time.Second
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "pretty"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Telegram != nil && cfg.Telegram.SessionDir == "" {
		cfg.Telegram.SessionDir = "session"
	}
}

func (cfg *Config) validate() error {
	if cfg.Auth.TokenFile == "" {
		return errors.New("auth token file is empty")
	}

	switch cfg.Store.Driver {
	case StoreDriverRedis:
		if cfg.Store.Redis.Addr == "" {
			return errors.New("redis store address is empty")
		}
	case StoreDriverSQLite:
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}

	switch cfg.ObjectStore.Driver {
	case ObjectStoreDriverGCS:
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is empty")
		}
	case ObjectStoreDriverLocal:
		if cfg.ObjectStore.LocalDir == "" {
			return errors.New("object store local dir is empty")
		}
	default:
		return fmt.Errorf("unsupported object store driver %q", cfg.ObjectStore.Driver)
	}

	if cfg.Pipeline.Concurrency < 0 {
		return errors.New("pipeline concurrency is negative")
	}
	if cfg.Pipeline.RequestsPerSecond < 0 {
		return errors.New("pipeline requests per second is negative")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}

	if tg := cfg.Telegram; nil != tg {
		if tg.AppID == 0 || tg.AppHash == "" {
			return errors.New("telegram app id or app hash is empty")
		}
		if tg.BotToken == "" {
			return errors.New("telegram bot token is empty")
		}
		if tg.Peer == "" {
			return errors.New("telegram peer is empty")
		}
	}

	for i, ch := range cfg.Channels {
		if ch.Title == "" {
			return fmt.Errorf("channel at index %d has empty title", i)
		}
	}

	return nil
}

func FromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %q: %v", filePath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config file %q: %v", filePath, err)
	}

	if err := cfg.applyEnv(); nil != err {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}

func FromString(data string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(data), &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	if err := cfg.applyEnv(); nil != err {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}
