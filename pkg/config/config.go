package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram Telegram `mapstructure:"telegram"`
	Database Database `mapstructure:"database"`
	OpenAI   OpenAI   `mapstructure:"openai"`
	Policy   Policy   `mapstructure:"policy"`
	Learning Learning `mapstructure:"learning"`
	Metrics  Metrics  `mapstructure:"metrics"`
}

type Telegram struct {
	Token string `mapstructure:"token"`
}

type Database struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAI struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type Policy struct {
	TimeZone            string        `mapstructure:"time_zone"`
	QuietStartHour      int           `mapstructure:"quiet_start_hour"`
	QuietEndHour        int           `mapstructure:"quiet_end_hour"`
	DailyCap            int           `mapstructure:"daily_cap"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	HighThreshold       float64       `mapstructure:"high_threshold"`
	ClarifyThreshold    float64       `mapstructure:"clarify_threshold"`
	CorrectionThreshold float64       `mapstructure:"correction_threshold"`
	FastSampleSize      int           `mapstructure:"fast_sample_size"`
	FastWindow          time.Duration `mapstructure:"fast_window"`
	FastThreshold       int           `mapstructure:"fast_threshold"`
}

type Learning struct {
	Alpha         float64       `mapstructure:"alpha"`
	AliasCacheTTL time.Duration `mapstructure:"alias_cache_ttl"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func parseDatabaseURL(dbURL string) (Database, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return Database{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	dbName := strings.TrimPrefix(u.Path, "/")

	return Database{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 150)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("policy.time_zone", "Europe/Stockholm")
	v.SetDefault("policy.quiet_start_hour", 22)
	v.SetDefault("policy.quiet_end_hour", 7)
	v.SetDefault("policy.daily_cap", 3)
	v.SetDefault("policy.cooldown", 15*time.Minute)
	v.SetDefault("policy.high_threshold", 0.85)
	v.SetDefault("policy.clarify_threshold", 0.50)
	v.SetDefault("policy.correction_threshold", 0.70)
	v.SetDefault("policy.fast_sample_size", 10)
	v.SetDefault("policy.fast_window", 60*time.Second)
	v.SetDefault("policy.fast_threshold", 3)
	v.SetDefault("learning.alpha", 0.25)
	v.SetDefault("learning.alias_cache_ttl", 5*time.Minute)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}
