// Package live реализует живые запросы: подписчик получает свежий результат
// запроса после каждого изменения таблиц, от которых запрос зависит.
package live

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

// Hub рассылает сигналы об изменении таблиц подписчикам.
type Hub struct {
	logger *zap.Logger
	sem    *semaphore.Weighted

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	tables map[model.Table]struct{}
	signal chan struct{}
}

// NewHub создаёт хаб. maxRefresh ограничивает число одновременно выполняемых
// перезапросов.
func NewHub(logger *zap.Logger, maxRefresh int64) *Hub {
	if maxRefresh <= 0 {
		maxRefresh = 4
	}
	return &Hub{
		logger: logger,
		sem:    semaphore.NewWeighted(maxRefresh),
		subs:   make(map[string]*subscription),
	}
}

// Publish сообщает подписчикам указанных таблиц об изменении.
// Сигналы, пришедшие до обработки предыдущего, склеиваются в один.
func (h *Hub) Publish(tables ...model.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs {
		if !s.matches(tables) {
			continue
		}
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

// Subscribers возвращает число активных подписок.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *subscription) matches(tables []model.Table) bool {
	for _, t := range tables {
		if _, ok := s.tables[t]; ok {
			return true
		}
	}
	return false
}

func (h *Hub) subscribe(tables []model.Table) (string, <-chan struct{}, func()) {
	s := &subscription{
		tables: make(map[model.Table]struct{}, len(tables)),
		signal: make(chan struct{}, 1),
	}
	for _, t := range tables {
		s.tables[t] = struct{}{}
	}

	id := uuid.NewString()

	h.mu.Lock()
	h.subs[id] = s
	h.mu.Unlock()

	return id, s.signal, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Update — очередной результат живого запроса.
type Update[T any] struct {
	Value T
	Err   error
}

// Watch подписывается на изменения tables и отдаёт в канал начальный результат
// fetch, а затем новый результат после каждого изменения. Канал закрывается
// после отмены ctx. Ошибка fetch доставляется в Update.Err и не прерывает подписку.
func Watch[T any](ctx context.Context, h *Hub, fetch func(context.Context) (T, error), tables ...model.Table) <-chan Update[T] {
	out := make(chan Update[T], 1)
	id, signal, unsubscribe := h.subscribe(tables)

	go func() {
		defer close(out)
		defer unsubscribe()

		h.logger.Debug("live query subscribed", zap.String("id", id), zap.Any("tables", tables))

		if !refresh(ctx, h, id, fetch, out) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				h.logger.Debug("live query closed", zap.String("id", id))
				return
			case <-signal:
				if !refresh(ctx, h, id, fetch, out) {
					return
				}
			}
		}
	}()

	return out
}

func refresh[T any](ctx context.Context, h *Hub, id string, fetch func(context.Context) (T, error), out chan<- Update[T]) bool {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	v, err := fetch(ctx)
	h.sem.Release(1)

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		h.logger.Warn("live query refresh failed", zap.String("id", id), zap.Error(err))
	}

	select {
	case out <- Update[T]{Value: v, Err: err}:
		return true
	case <-ctx.Done():
		return false
	}
}
