package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "REALTIME"

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	Redis          RedisConfig
	Realtime       RealtimeConfig
	Log            LogConfig
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type RealtimeConfig struct {
	// TypingTimeout is how long a typing indicator stays up without a refresh.
	TypingTimeout time.Duration
	EventRate     float64
	EventBurst    int
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", "localhost:8000")
	v.SetDefault("dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("realtime.typing_timeout", "2s")
	v.SetDefault("realtime.event_rate", 20.0)
	v.SetDefault("realtime.event_burst", 40)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// NewViper returns a viper instance with defaults, an optional config.yaml
// and REALTIME_* environment overrides.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return v, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func Load(v *viper.Viper) (*Config, error) {
	serverAddr := v.GetString("addr")
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	databaseDSN := v.GetString("dsn")
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	base64Secret := v.GetString("signing_key")
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	typingTimeout := v.GetDuration("realtime.typing_timeout")
	if typingTimeout <= 0 {
		return nil, fmt.Errorf("typing timeout must be positive")
	}

	eventRate := v.GetFloat64("realtime.event_rate")
	eventBurst := v.GetInt("realtime.event_burst")
	if eventRate <= 0 || eventBurst <= 0 {
		return nil, fmt.Errorf("event rate and burst must be positive")
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: splitOrigins(v.GetStringSlice("allowed_origins")),
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Realtime: RealtimeConfig{
			TypingTimeout: typingTimeout,
			EventRate:     eventRate,
			EventBurst:    eventBurst,
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
	}, nil
}

// splitOrigins accepts both repeated values and comma separated lists,
// env vars only ever produce the latter.
func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, o := range strings.Split(s, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}
