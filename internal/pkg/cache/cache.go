package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/miketere/businesscard-sub001/internal/pkg/env"
)

// Database numbers on the shared Redis server.
const (
	lockDB    = 0
	limiterDB = 1
)

var client *redis.Client

// SetupCache connects to the Redis server named by CACHE_HOST. Without
// CACHE_HOST the process runs single-instance: user locks stay in memory and
// the rate limiter uses fiber's in-memory storage.
func SetupCache() error {
	host := env.GetEnv("CACHE_HOST", "")
	if host == "" {
		log.Info("[Cache] CACHE_HOST not set, running without Redis")
		return nil
	}
	port := env.GetEnv("CACHE_PORT", "6379")

	c := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       lockDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pong, err := c.Ping(ctx).Result()
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("connect to redis at %s: %w", c.Options().Addr, err)
	}
	log.Infof("[Cache] Connected to Redis at %s: %s", c.Options().Addr, pong)
	client = c
	return nil
}

// GetClient returns the Redis client, or nil when running without Redis.
func GetClient() *redis.Client {
	return client
}

// Enabled reports whether a Redis server is configured.
func Enabled() bool {
	return client != nil
}

// LimiterStorage returns the shared storage for the API rate limiter so that
// limits hold across instances. It returns nil without Redis, which makes the
// limiter fall back to per-process memory.
func LimiterStorage() fiber.Storage {
	if client == nil {
		return nil
	}
	return newStorage(client.Options(), limiterDB)
}

func newStorage(opts *redis.Options, database int) *redisstorage.Storage {
	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Username: opts.Username,
		Password: opts.Password,
		Database: database,
		Reset:    false,
	})
}

// Close releases the Redis connection.
func Close() {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Warnf("[Cache] Close failed: %v", err)
	}
	client = nil
}
