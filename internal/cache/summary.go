// Package cache содержит кэш сводки продаж в Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

const summaryKey = "salestracker:summary"

// ErrMiss возвращается, если сводки нет в кэше.
var ErrMiss = errors.New("cache miss")

type cmdable interface {
	Get(context.Context, string) *redis.StringCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// SummaryCache хранит последнюю вычисленную сводку.
// Запись сбрасывается при любом изменении заказов или животных.
type SummaryCache struct {
	store cmdable
	raw   *redis.Client
	ttl   time.Duration
}

type cachedSummary struct {
	OpenOrders       int64 `json:"open_orders"`
	ClosedOrders     int64 `json:"closed_orders"`
	Deposits         int64 `json:"deposits"`
	Payments         int64 `json:"payments"`
	AnimalsSold      int64 `json:"animals_sold"`
	AnimalsAvailable int64 `json:"animals_available"`
}

// NewSummaryCache подключается к Redis по URL и проверяет соединение.
func NewSummaryCache(ctx context.Context, url string, ttl time.Duration) (*SummaryCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &SummaryCache{store: raw, raw: raw, ttl: ttl}, nil
}

// Get возвращает сводку из кэша или ErrMiss.
func (c *SummaryCache) Get(ctx context.Context) (*model.Summary, error) {
	data, err := c.store.Get(ctx, summaryKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("get summary: %w", err)
	}

	var cs cachedSummary
	if err := json.Unmarshal([]byte(data), &cs); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}

	return &model.Summary{
		OpenOrders:       cs.OpenOrders,
		ClosedOrders:     cs.ClosedOrders,
		Deposits:         model.Cents(cs.Deposits),
		Payments:         model.Cents(cs.Payments),
		AnimalsSold:      cs.AnimalsSold,
		AnimalsAvailable: cs.AnimalsAvailable,
	}, nil
}

// Set сохраняет сводку на время ttl.
func (c *SummaryCache) Set(ctx context.Context, s *model.Summary) error {
	data, err := json.Marshal(cachedSummary{
		OpenOrders:       s.OpenOrders,
		ClosedOrders:     s.ClosedOrders,
		Deposits:         int64(s.Deposits),
		Payments:         int64(s.Payments),
		AnimalsSold:      s.AnimalsSold,
		AnimalsAvailable: s.AnimalsAvailable,
	})
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	if err := c.store.Set(ctx, summaryKey, string(data), c.ttl).Err(); err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// Invalidate удаляет сводку из кэша.
func (c *SummaryCache) Invalidate(ctx context.Context) error {
	if err := c.store.Del(ctx, summaryKey).Err(); err != nil {
		return fmt.Errorf("invalidate summary: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *SummaryCache) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
