package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   RedisStreamConfig
}

type RedisStreamConfig struct {
	Key    string
	MaxLen int64
}

type NodeConfig struct {
	URL     string
	Timeout time.Duration
	// Extrinsics is the decode policy, "decode" or "raw".
	Extrinsics string
}

type SyncConfig struct {
	StartBlock    uint64
	Confirmations uint64
	// MaxReorgDepth bounds how far back a fork is walked before giving up.
	MaxReorgDepth int
}

// Config configures the block recorder.
type Config struct {
	LogLevel    string
	PostgresDSN string
	Redis       RedisConfig
	Node        NodeConfig
	Sync        SyncConfig
}

func FromEnv() (Config, error) {
	var c Config
	var err error

	c.LogLevel = getenvDefault("LOG_LEVEL", "info")
	c.PostgresDSN = os.Getenv("PG_DSN")
	if c.PostgresDSN == "" {
		return Config{}, errors.New("missing PG_DSN")
	}

	c.Node.URL = os.Getenv("SUBSTRATE_URL")
	if c.Node.URL == "" {
		return Config{}, errors.New("missing SUBSTRATE_URL")
	}
	if c.Node.Timeout, err = parseDuration("SUBSTRATE_TIMEOUT", "10s"); err != nil {
		return Config{}, err
	}
	c.Node.Extrinsics = getenvDefault("SUBSTRATE_EXTRINSICS", "decode")

	c.Redis.Addr = getenvDefault("REDIS_ADDR", "127.0.0.1:6379")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if c.Redis.DB, err = parseInt("REDIS_DB", "0"); err != nil {
		return Config{}, err
	}
	c.Redis.Stream.Key = getenvDefault("REDIS_STREAM_KEY", "substrate:blocks")
	maxLen, err := parseInt("REDIS_STREAM_MAXLEN", "100000")
	if err != nil {
		return Config{}, err
	}
	c.Redis.Stream.MaxLen = int64(maxLen)

	if c.Sync.StartBlock, err = parseUint64("START_BLOCK", "0"); err != nil {
		return Config{}, err
	}
	if c.Sync.Confirmations, err = parseUint64("CONFIRMATIONS", "0"); err != nil {
		return Config{}, err
	}
	if c.Sync.MaxReorgDepth, err = parseInt("MAX_REORG_DEPTH", "256"); err != nil {
		return Config{}, err
	}
	if c.Sync.MaxReorgDepth <= 0 {
		return Config{}, fmt.Errorf("MAX_REORG_DEPTH must be > 0")
	}

	return c, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseInt(k, def string) (int, error) {
	i, err := strconv.Atoi(getenvDefault(k, def))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return i, nil
}

func parseUint64(k, def string) (uint64, error) {
	u, err := strconv.ParseUint(getenvDefault(k, def), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return u, nil
}

func parseDuration(k, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(k, def))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}
