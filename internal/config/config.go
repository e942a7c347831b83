package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"

	StockStore = "store"
	StockRedis = "redis"
)

type Config struct {
	HTTPAddr           string
	GRPCAddr           string
	StoreDriver        string
	StockDriver        string
	MySQLDSN           string
	RedisAddr          string
	RedisPoolSize      int
	LogLevel           string
	LogFile            string
	Development        bool
	SeedDemoData       bool
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getEnv("GRPC_ADDR", ":50051"),
		StoreDriver:     getEnv("STORE_DRIVER", StoreMemory),
		StockDriver:     getEnv("STOCK_DRIVER", StockStore),
		MySQLDSN:        getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/billing?parseTime=true"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         os.Getenv("LOG_FILE"),
		ShutdownTimeout: 5 * time.Second,
	}
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"})

	var err error
	if cfg.RedisPoolSize, err = getEnvInt("REDIS_POOL_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.Development, err = getEnvBool("DEVELOPMENT", false); err != nil {
		return nil, err
	}
	if cfg.SeedDemoData, err = getEnvBool("SEED_DEMO_DATA", true); err != nil {
		return nil, err
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if cfg.ShutdownTimeout, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreMySQL:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.StockDriver {
	case StockStore, StockRedis:
	default:
		return fmt.Errorf("unknown STOCK_DRIVER %q", c.StockDriver)
	}
	// Redis counters outlive a restart, memory bills do not.
	if c.StoreDriver == StoreMemory && c.StockDriver == StockRedis {
		return fmt.Errorf("STOCK_DRIVER=redis requires STORE_DRIVER=mysql")
	}
	if c.StoreDriver == StoreMySQL && c.MySQLDSN == "" {
		return fmt.Errorf("MYSQL_DSN is required for the mysql store")
	}
	if c.StockDriver == StockRedis && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required for the redis stock driver")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}
