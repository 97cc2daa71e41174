package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix scopes every environment override, e.g. VIEWCHECK_MONGO_URI.
const EnvPrefix = "VIEWCHECK"

type Config struct {
	MongoURI      string
	SourceDB      string
	SinkDB        string
	EnsureIndexes bool

	Tag       string
	AccountID int64
	Symbols   []string

	SettleTimeout  time.Duration
	SettleInterval time.Duration
	SettleFixed    bool
	Progress       bool

	VerifyLimit     int64
	StatsCountField string
	StatsWindow     time.Duration

	KafkaBroker string
	KafkaTopic  string

	HistoryPath string

	ServeAddr     string
	ServeInterval time.Duration
	OIDCIssuer    string
	OIDCClientID  string
	OIDCCAFile    string

	LogLevel string
}

func (c Config) String() string {
	return fmt.Sprintf(
		"Mongo: %s | Source: %s | Sink: %s | Tag: %s | Account: %d | Settle: %s/%s fixed=%t | Kafka: %s/%s",
		c.MongoURI,
		c.SourceDB,
		c.SinkDB,
		c.Tag,
		c.AccountID,
		c.SettleTimeout,
		c.SettleInterval,
		c.SettleFixed,
		c.KafkaBroker,
		c.KafkaTopic,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mongo.uri", GetEnv("MONGO_URI", "mongodb://localhost:27017"))
	v.SetDefault("mongo.source_db", "sample_analytics")
	v.SetDefault("mongo.sink_db", "sample_analytics")
	v.SetDefault("mongo.ensure_indexes", false)

	v.SetDefault("fixture.tag", "asp_demo")
	v.SetDefault("fixture.account_id", 990001)
	v.SetDefault("fixture.symbols", []string{"ACME", "ZZZ"})

	v.SetDefault("settle.timeout", 15*time.Second)
	v.SetDefault("settle.interval", time.Second)
	v.SetDefault("settle.fixed", false)
	v.SetDefault("settle.progress", false)

	v.SetDefault("verify.limit", 5)
	v.SetDefault("verify.stats_count_field", "count")
	v.SetDefault("verify.stats_window", time.Minute)

	v.SetDefault("kafka.broker", "")
	v.SetDefault("kafka.topic", "viewcheck-reports")

	v.SetDefault("history.path", "")

	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("serve.interval", 5*time.Minute)
	v.SetDefault("oidc.issuer", "")
	v.SetDefault("oidc.client_id", "viewcheck")
	v.SetDefault("oidc.ca_file", "")

	v.SetDefault("log.level", "info")
}

// Load reads defaults, then the optional YAML file at path, then VIEWCHECK_*
// environment variables (dots become underscores: VIEWCHECK_SETTLE_TIMEOUT).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	cfg := &Config{
		MongoURI:        v.GetString("mongo.uri"),
		SourceDB:        v.GetString("mongo.source_db"),
		SinkDB:          v.GetString("mongo.sink_db"),
		EnsureIndexes:   v.GetBool("mongo.ensure_indexes"),
		Tag:             v.GetString("fixture.tag"),
		AccountID:       v.GetInt64("fixture.account_id"),
		Symbols:         v.GetStringSlice("fixture.symbols"),
		SettleTimeout:   v.GetDuration("settle.timeout"),
		SettleInterval:  v.GetDuration("settle.interval"),
		SettleFixed:     v.GetBool("settle.fixed"),
		Progress:        v.GetBool("settle.progress"),
		VerifyLimit:     v.GetInt64("verify.limit"),
		StatsCountField: v.GetString("verify.stats_count_field"),
		StatsWindow:     v.GetDuration("verify.stats_window"),
		KafkaBroker:     v.GetString("kafka.broker"),
		KafkaTopic:      v.GetString("kafka.topic"),
		HistoryPath:     v.GetString("history.path"),
		ServeAddr:       v.GetString("serve.addr"),
		ServeInterval:   v.GetDuration("serve.interval"),
		OIDCIssuer:      v.GetString("oidc.issuer"),
		OIDCClientID:    v.GetString("oidc.client_id"),
		OIDCCAFile:      v.GetString("oidc.ca_file"),
		LogLevel:        v.GetString("log.level"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate rejects values that would make a cycle meaningless or unsafe.
func (c *Config) Validate() error {
	if c.Tag == "" {
		return fmt.Errorf("fixture.tag must not be empty")
	}
	if c.AccountID <= 0 {
		return fmt.Errorf("fixture.account_id must be positive, got %d", c.AccountID)
	}
	if c.SourceDB == "" || c.SinkDB == "" {
		return fmt.Errorf("mongo.source_db and mongo.sink_db are required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("fixture.symbols must list at least one symbol")
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("settle.timeout must be positive")
	}
	if !c.SettleFixed && c.SettleInterval <= 0 {
		return fmt.Errorf("settle.interval must be positive when polling")
	}
	if c.VerifyLimit <= 0 {
		return fmt.Errorf("verify.limit must be positive")
	}
	if c.StatsWindow <= 0 {
		return fmt.Errorf("verify.stats_window must be positive")
	}
	return nil
}

// GetEnv returns the value of the environment variable or a default value
func GetEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}
