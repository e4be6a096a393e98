package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	Env                 string
	LogLevel            string
	DatabaseURL         string
	MigrateOnStart      bool
	TxMaxRetries        int
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	SessionTTL          time.Duration
	KafkaBrokers        []string
	KafkaTopic          string
	OtelEndpoint        string
	AllowNegativeStock  bool
	CollaboratorTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("APP_ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		MigrateOnStart:      getEnvBool("MIGRATE_ON_START", false),
		TxMaxRetries:        getEnvInt("TX_MAX_RETRIES", 3, 0),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvInt("REDIS_DB", 0, 0),
		SessionTTL:          time.Duration(getEnvInt("SESSION_TTL_MINUTES", 720, 1)) * time.Minute,
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "pos.events"),
		OtelEndpoint:        strings.TrimSpace(os.Getenv("OTEL_ENDPOINT")),
		AllowNegativeStock:  getEnvBool("ALLOW_NEGATIVE_STOCK", false),
		CollaboratorTimeout: time.Duration(getEnvInt("COLLABORATOR_TIMEOUT_MS", 2000, 1)) * time.Millisecond,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getEnvInt falls back when the value is missing, malformed or below minimum.
func getEnvInt(key string, fallback int, minimum int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < minimum {
		return fallback
	}
	return val
}

func getEnvBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	out := make([]string, 0, 2)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
