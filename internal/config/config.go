package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"studychat/internal/hub"
	"studychat/internal/protocol"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"
)

// Config holds the settings shared by the relay server and the terminal
// client.
type Config struct {
	ChatHost     string
	ChatPort     int
	HTTPAddr     string
	DBDriver     string
	DBDSN        string
	AMQPURL      string
	AMQPExchange string
	OTLPEndpoint string
	SendQueue    int
	MaxLine      int
	Environment  string
	DebugRoutes  bool
}

// LoadFromEnv reads the configuration from the environment, after merging a
// .env file from the working directory when one exists.
func LoadFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: ignoring .env: %v", err)
	}

	cfg := Config{
		ChatHost:     getEnv("CHAT_HOST", "localhost"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8083"),
		DBDriver:     getEnv("DB_DRIVER", DriverPostgres),
		DBDSN:        os.Getenv("DB_DSN"),
		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "chat.events"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Environment:  getEnv("ENVIRONMENT", "dev"),
	}

	var err error
	if cfg.ChatPort, err = intEnv("CHAT_PORT", 9000); err != nil {
		return Config{}, err
	}
	if cfg.SendQueue, err = intEnv("CHAT_SEND_QUEUE", hub.DefaultQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.MaxLine, err = intEnv("CHAT_MAX_LINE", protocol.DefaultMaxLine); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("DEBUG_ROUTES"); v != "" {
		if cfg.DebugRoutes, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("DEBUG_ROUTES: %w", err)
		}
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.ChatHost == "" {
		return errors.New("chat host is required")
	}
	if c.ChatPort <= 0 || c.ChatPort > 65535 {
		return fmt.Errorf("chat port %d out of range", c.ChatPort)
	}
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
		if c.DBDSN == "" {
			return fmt.Errorf("db dsn is required for driver %s", c.DBDriver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	if c.SendQueue <= 0 {
		return errors.New("send queue must be positive")
	}
	if c.MaxLine < 1024 {
		return errors.New("max line must be at least 1024 bytes")
	}
	return nil
}

// ChatAddr is the relay's host:port.
func (c Config) ChatAddr() string {
	return net.JoinHostPort(c.ChatHost, strconv.Itoa(c.ChatPort))
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
