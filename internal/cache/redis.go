// Package cache содержит кэш балансов в Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss возвращается, если значения нет в кэше.
var ErrMiss = errors.New("cache miss")

// Redis кэширует баланс пользователя на ограниченное время.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis подключается к Redis и проверяет соединение.
func NewRedis(ctx context.Context, addr, username, password string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Username:    username,
		Password:    password,
		DB:          0,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client, ttl: ttl}, nil
}

func balanceKey(userID int64) string {
	return "balance:" + strconv.FormatInt(userID, 10)
}

// GetBalance возвращает баланс из кэша или ErrMiss.
func (c *Redis) GetBalance(ctx context.Context, userID int64) (int64, error) {
	val, err := c.client.Get(ctx, balanceKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrMiss
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return val, nil
}

// SetBalance сохраняет баланс в кэш.
func (c *Redis) SetBalance(ctx context.Context, userID int64, points int64) error {
	if err := c.client.Set(ctx, balanceKey(userID), points, c.ttl).Err(); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// InvalidateBalance удаляет баланс из кэша.
func (c *Redis) InvalidateBalance(ctx context.Context, userID int64) error {
	if err := c.client.Del(ctx, balanceKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate balance: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *Redis) Close() error {
	return c.client.Close()
}
