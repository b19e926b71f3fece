package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/animal-sales-tracker/internal/live"
	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

// WatchAnimals отдаёт список животных при каждом изменении.
func (s *Service) WatchAnimals(ctx context.Context) <-chan live.Update[[]model.Animal] {
	return live.Watch(ctx, s.hub, s.ListAnimals, model.TableAnimals)
}

// WatchAnimalsWithoutOrders отдаёт список свободных животных.
func (s *Service) WatchAnimalsWithoutOrders(ctx context.Context) <-chan live.Update[[]model.Animal] {
	return live.Watch(ctx, s.hub, s.ListAnimalsWithoutOrders, model.TableAnimals, model.TableOrders)
}

// WatchCustomers отдаёт список покупателей.
func (s *Service) WatchCustomers(ctx context.Context) <-chan live.Update[[]model.Customer] {
	return live.Watch(ctx, s.hub, s.ListCustomers, model.TableCustomers)
}

// WatchOrders отдаёт список заказов.
func (s *Service) WatchOrders(ctx context.Context) <-chan live.Update[[]model.Order] {
	return live.Watch(ctx, s.hub, s.ListOrders, model.TableOrders)
}

// WatchOrderDetails отдаёт заказы с именами животных и покупателей.
func (s *Service) WatchOrderDetails(ctx context.Context) <-chan live.Update[[]model.OrderDetail] {
	return live.Watch(ctx, s.hub, s.ListOrderDetails, model.TableOrders, model.TableAnimals, model.TableCustomers)
}

// WatchAggregate отдаёт значение агрегата при каждом изменении его таблиц.
func (s *Service) WatchAggregate(ctx context.Context, a model.Aggregate) (<-chan live.Update[int64], error) {
	if _, ok := model.ParseAggregate(string(a)); !ok {
		return nil, ErrUnknownAggregate
	}
	fetch := func(ctx context.Context) (int64, error) {
		return s.Aggregate(ctx, a)
	}
	return live.Watch(ctx, s.hub, fetch, a.Tables()...), nil
}

// WatchSummary отдаёт сводку при изменении животных или заказов.
func (s *Service) WatchSummary(ctx context.Context) <-chan live.Update[*model.Summary] {
	return live.Watch(ctx, s.hub, s.Summary, model.TableAnimals, model.TableOrders)
}

// RunChangeRelay пересылает уведомления хранилища об изменениях в хаб, пока не
// будет отменён ctx. Если хранилище не умеет уведомлять, сразу возвращает nil.
func (s *Service) RunChangeRelay(ctx context.Context) error {
	listener, ok := s.repo.(ChangeListener)
	if !ok {
		return nil
	}

	s.logger.Info("change relay started")
	for {
		err := listener.ListenChanges(ctx, func(t model.Table) {
			s.changed(ctx, t)
		})
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("change relay interrupted", zap.Error(err))

		timer := time.NewTimer(s.relayBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
