package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

type mockCmdable struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.getErr != nil {
		return redis.NewStringResult("", m.getErr)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestSummaryCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	c := &SummaryCache{store: mock, ttl: time.Minute}

	if _, err := c.Get(ctx); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss on empty cache, got %v", err)
	}

	want := &model.Summary{OpenOrders: 1, ClosedOrders: 2, Deposits: 5000, Payments: 12050, AnimalsSold: 2, AnimalsAvailable: 3}
	if err := c.Set(ctx, want); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if mock.ttls[summaryKey] != time.Minute {
		t.Fatalf("expected ttl %v, got %v", time.Minute, mock.ttls[summaryKey])
	}

	got, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if *got != *want {
		t.Fatalf("got %+v, want %+v", *got, *want)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, err := c.Get(ctx); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after invalidate, got %v", err)
	}
}

func TestSummaryCacheGetErrors(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	c := &SummaryCache{store: mock, ttl: time.Minute}

	mock.data[summaryKey] = "not json"
	if _, err := c.Get(ctx); err == nil || errors.Is(err, ErrMiss) {
		t.Fatalf("expected decode error, got %v", err)
	}

	mock.getErr = errors.New("connection reset")
	if _, err := c.Get(ctx); err == nil || errors.Is(err, ErrMiss) {
		t.Fatalf("expected redis error, got %v", err)
	}
}
