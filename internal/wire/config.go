package wire

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config is read from the environment; cmd/server lets flags override it.
type Config struct {
	Port          string
	Storage       string
	DatabaseURL   string
	AMQPURL       string
	AMQPExchange  string
	AutoAssign    bool
	SweepDebounce time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Port:          envString("PORT", "8080"),
		Storage:       envString("STORAGE", StoragePostgres),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		AMQPURL:       os.Getenv("AMQP_URL"),
		AMQPExchange:  envString("AMQP_EXCHANGE", "crm.events"),
		AutoAssign:    envBool("AUTO_ASSIGN", true),
		SweepDebounce: envDuration("SWEEP_DEBOUNCE_SECONDS", 2*time.Second),
	}
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

// envDuration reads an integer-seconds env var and returns a Duration.
// Falls back to defaultVal if the var is unset or invalid.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
