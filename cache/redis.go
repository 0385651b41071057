package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "tumor-detection:prediction:"

type RedisOptions struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// NewRedis connects eagerly so a bad address is reported at startup.
func NewRedis(ctx context.Context, opts RedisOptions, log *logrus.Logger) (*Redis, error) {
	log.Info(fmt.Sprintf("Connecting to Redis at %s...", opts.Address))

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("Successfully connected to Redis")

	return &Redis{client: client, ttl: opts.TTL, log: log}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*Entry, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		r.log.WithField("error", err.Error()).Error("[cache.Redis.Get] failed to read prediction")
		return nil, err
	}

	var entry Entry
	if err := jsoniter.Unmarshal(val, &entry); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return &entry, nil
}

func (r *Redis) Set(ctx context.Context, key string, entry *Entry) error {
	val, err := jsoniter.Marshal(entry)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, redisKeyPrefix+key, val, r.ttl).Err(); err != nil {
		r.log.WithField("error", err.Error()).Error("[cache.Redis.Set] failed to store prediction")
		return err
	}
	return nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	var count int
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
