// Package service реализует операции хранилища записей учёта продаж животных:
// проверку входных данных, публикацию изменений и живые запросы.
package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mmeshcher/animal-sales-tracker/internal/cache"
	"github.com/mmeshcher/animal-sales-tracker/internal/live"
	"github.com/mmeshcher/animal-sales-tracker/internal/metrics"
	"github.com/mmeshcher/animal-sales-tracker/internal/model"
	"github.com/mmeshcher/animal-sales-tracker/internal/validation"
)

// ErrUnknownAggregate возвращается для неизвестного имени агрегата.
var ErrUnknownAggregate = errors.New("unknown aggregate")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	ListAnimals(ctx context.Context) ([]model.Animal, error)
	ListAnimalsWithoutOrders(ctx context.Context) ([]model.Animal, error)
	ListOrderableAnimals(ctx context.Context, orderID int64) ([]model.Animal, error)
	GetAnimal(ctx context.Context, id int64) (*model.Animal, error)
	UpsertAnimal(ctx context.Context, a model.Animal) (int64, error)
	UpdateAnimal(ctx context.Context, a model.Animal) error
	DeleteAnimal(ctx context.Context, id int64) error
	DeleteAllAnimals(ctx context.Context) (int64, error)

	ListCustomers(ctx context.Context) ([]model.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	UpsertCustomer(ctx context.Context, c model.Customer) (int64, error)
	UpdateCustomer(ctx context.Context, c model.Customer) error
	DeleteCustomer(ctx context.Context, id int64) error

	ListOrders(ctx context.Context) ([]model.Order, error)
	ListOrderDetails(ctx context.Context) ([]model.OrderDetail, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	UpsertOrder(ctx context.Context, o model.Order) (int64, error)
	UpdateOrder(ctx context.Context, o model.Order) error
	DeleteOrder(ctx context.Context, id int64) error
	DeleteCompletedOrders(ctx context.Context) (int64, error)

	Aggregate(ctx context.Context, a model.Aggregate) (int64, error)
	Summary(ctx context.Context) (*model.Summary, error)
}

// ChangeListener реализуется хранилищами, которые умеют сообщать об изменениях,
// сделанных другими процессами.
type ChangeListener interface {
	ListenChanges(ctx context.Context, fn func(model.Table)) error
}

// SummaryCache описывает кэш сводки.
type SummaryCache interface {
	Get(ctx context.Context) (*model.Summary, error)
	Set(ctx context.Context, s *model.Summary) error
	Invalidate(ctx context.Context) error
}

// Service содержит операции хранилища записей.
type Service struct {
	repo    Repository
	hub     *live.Hub
	cache   SummaryCache
	metrics *metrics.StoreMetrics
	logger  *zap.Logger

	relayBackoff time.Duration

	// summaryGen растёт при каждом изменении, влияющем на сводку. Сводка,
	// прочитанная до изменения, не попадает в кэш.
	summaryMu  sync.Mutex
	summaryGen uint64
}

// Option настраивает Service.
type Option func(*Service)

// WithSummaryCache включает кэширование сводки.
func WithSummaryCache(c SummaryCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics включает метрики операций.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер сервиса.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService создаёт новый сервис с указанным репозиторием и хабом живых запросов.
// Без хаба сервис создаёт собственный.
func NewService(repo Repository, hub *live.Hub, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		hub:          hub,
		logger:       zap.NewNop(),
		relayBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = live.NewHub(s.logger, 0)
	}
	return s
}

// Close закрывает репозиторий и кэш.
func (s *Service) Close() error {
	var err error
	if s.repo != nil {
		err = multierr.Append(err, s.repo.Close())
	}
	if c, ok := s.cache.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (s *Service) observe(op string, started time.Time, err *error) {
	s.metrics.Observe(op, started, *err)
}

// changed сбрасывает кэш сводки и будит подписчиков изменённых таблиц.
func (s *Service) changed(ctx context.Context, tables ...model.Table) {
	if touchesSummary(tables) {
		s.summaryMu.Lock()
		s.summaryGen++
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx); err != nil {
				s.logger.Warn("failed to invalidate summary cache", zap.Error(err))
			}
		}
		s.summaryMu.Unlock()
	}
	for _, t := range tables {
		s.metrics.IncChange(string(t))
	}
	s.hub.Publish(tables...)
}

func touchesSummary(tables []model.Table) bool {
	for _, t := range tables {
		if t == model.TableAnimals || t == model.TableOrders {
			return true
		}
	}
	return false
}

// ListAnimals возвращает всех животных.
func (s *Service) ListAnimals(ctx context.Context) (_ []model.Animal, err error) {
	defer s.observe("list_animals", time.Now(), &err)
	return s.repo.ListAnimals(ctx)
}

// ListAnimalsWithoutOrders возвращает животных, на которых ещё нет заказов.
func (s *Service) ListAnimalsWithoutOrders(ctx context.Context) (_ []model.Animal, err error) {
	defer s.observe("list_animals_without_orders", time.Now(), &err)
	return s.repo.ListAnimalsWithoutOrders(ctx)
}

// ListOrderableAnimals возвращает животных, которых можно выбрать в заказе orderID.
func (s *Service) ListOrderableAnimals(ctx context.Context, orderID int64) (_ []model.Animal, err error) {
	defer s.observe("list_orderable_animals", time.Now(), &err)
	return s.repo.ListOrderableAnimals(ctx, orderID)
}

// LookupAnimal возвращает животное по идентификатору.
func (s *Service) LookupAnimal(ctx context.Context, id int64) (_ *model.Animal, err error) {
	defer s.observe("lookup_animal", time.Now(), &err)
	return s.repo.GetAnimal(ctx, id)
}

// UpsertAnimal создаёт животное или заменяет существующее с тем же идентификатором.
func (s *Service) UpsertAnimal(ctx context.Context, a model.Animal) (_ int64, err error) {
	defer s.observe("upsert_animal", time.Now(), &err)

	a, err = checkAnimal(a)
	if err != nil {
		return 0, err
	}
	id, err := s.repo.UpsertAnimal(ctx, a)
	if err != nil {
		return 0, err
	}
	s.changed(ctx, model.TableAnimals)
	return id, nil
}

// UpdateAnimal обновляет животное. Поле BuyerID игнорируется.
func (s *Service) UpdateAnimal(ctx context.Context, a model.Animal) (err error) {
	defer s.observe("update_animal", time.Now(), &err)

	a, err = checkAnimal(a)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateAnimal(ctx, a); err != nil {
		return err
	}
	s.changed(ctx, model.TableAnimals)
	return nil
}

// DeleteAnimal удаляет животное и все его заказы.
func (s *Service) DeleteAnimal(ctx context.Context, id int64) (err error) {
	defer s.observe("delete_animal", time.Now(), &err)

	if err := s.repo.DeleteAnimal(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, model.TableAnimals, model.TableOrders)
	return nil
}

// DeleteAllAnimals удаляет всех животных и все заказы на них.
func (s *Service) DeleteAllAnimals(ctx context.Context) (_ int64, err error) {
	defer s.observe("delete_all_animals", time.Now(), &err)

	n, err := s.repo.DeleteAllAnimals(ctx)
	if err != nil {
		return 0, err
	}
	s.changed(ctx, model.TableAnimals, model.TableOrders)
	return n, nil
}

func checkAnimal(a model.Animal) (model.Animal, error) {
	name, err := validation.RequireText("name", a.Name)
	if err != nil {
		return a, err
	}
	a.Name = name
	if err := validation.NonNegative("weight", a.Weight); err != nil {
		return a, err
	}
	return a, nil
}

// ListCustomers возвращает всех покупателей.
func (s *Service) ListCustomers(ctx context.Context) (_ []model.Customer, err error) {
	defer s.observe("list_customers", time.Now(), &err)
	return s.repo.ListCustomers(ctx)
}

// LookupCustomer возвращает покупателя по идентификатору.
func (s *Service) LookupCustomer(ctx context.Context, id int64) (_ *model.Customer, err error) {
	defer s.observe("lookup_customer", time.Now(), &err)
	return s.repo.GetCustomer(ctx, id)
}

// UpsertCustomer создаёт покупателя или заменяет существующего с тем же идентификатором.
func (s *Service) UpsertCustomer(ctx context.Context, c model.Customer) (_ int64, err error) {
	defer s.observe("upsert_customer", time.Now(), &err)

	c, err = checkCustomer(c)
	if err != nil {
		return 0, err
	}
	id, err := s.repo.UpsertCustomer(ctx, c)
	if err != nil {
		return 0, err
	}
	s.changed(ctx, model.TableCustomers)
	return id, nil
}

// UpdateCustomer обновляет покупателя.
func (s *Service) UpdateCustomer(ctx context.Context, c model.Customer) (err error) {
	defer s.observe("update_customer", time.Now(), &err)

	c, err = checkCustomer(c)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateCustomer(ctx, c); err != nil {
		return err
	}
	s.changed(ctx, model.TableCustomers)
	return nil
}

// DeleteCustomer удаляет покупателя, если на него не ссылается ни один заказ.
func (s *Service) DeleteCustomer(ctx context.Context, id int64) (err error) {
	defer s.observe("delete_customer", time.Now(), &err)

	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	// buyer_id животных обнуляется каскадом.
	s.changed(ctx, model.TableCustomers, model.TableAnimals)
	return nil
}

func checkCustomer(c model.Customer) (model.Customer, error) {
	name, err := validation.RequireText("name", c.Name)
	if err != nil {
		return c, err
	}
	c.Name = name
	return c, nil
}

// ListOrders возвращает все заказы.
func (s *Service) ListOrders(ctx context.Context) (_ []model.Order, err error) {
	defer s.observe("list_orders", time.Now(), &err)
	return s.repo.ListOrders(ctx)
}

// ListOrderDetails возвращает заказы с именами животных и покупателей.
func (s *Service) ListOrderDetails(ctx context.Context) (_ []model.OrderDetail, err error) {
	defer s.observe("list_order_details", time.Now(), &err)
	return s.repo.ListOrderDetails(ctx)
}

// LookupOrder возвращает заказ по идентификатору.
func (s *Service) LookupOrder(ctx context.Context, id int64) (_ *model.Order, err error) {
	defer s.observe("lookup_order", time.Now(), &err)
	return s.repo.GetOrder(ctx, id)
}

// UpsertOrder создаёт заказ или заменяет существующий с тем же идентификатором.
func (s *Service) UpsertOrder(ctx context.Context, o model.Order) (_ int64, err error) {
	defer s.observe("upsert_order", time.Now(), &err)

	if err := checkOrder(o); err != nil {
		return 0, err
	}
	id, err := s.repo.UpsertOrder(ctx, o)
	if err != nil {
		return 0, err
	}
	s.changed(ctx, model.TableOrders)
	return id, nil
}

// UpdateOrder обновляет заказ.
func (s *Service) UpdateOrder(ctx context.Context, o model.Order) (err error) {
	defer s.observe("update_order", time.Now(), &err)

	if err := checkOrder(o); err != nil {
		return err
	}
	if err := s.repo.UpdateOrder(ctx, o); err != nil {
		return err
	}
	s.changed(ctx, model.TableOrders)
	return nil
}

// DeleteOrder удаляет заказ.
func (s *Service) DeleteOrder(ctx context.Context, id int64) (err error) {
	defer s.observe("delete_order", time.Now(), &err)

	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, model.TableOrders)
	return nil
}

// DeleteCompletedOrders удаляет все завершённые заказы.
func (s *Service) DeleteCompletedOrders(ctx context.Context) (_ int64, err error) {
	defer s.observe("delete_completed_orders", time.Now(), &err)

	n, err := s.repo.DeleteCompletedOrders(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.changed(ctx, model.TableOrders)
	}
	return n, nil
}

func checkOrder(o model.Order) error {
	if err := validation.NonNegativeCents("deposit", o.Deposit); err != nil {
		return err
	}
	return validation.NonNegativeCents("payment", o.Payment)
}

// Aggregate вычисляет агрегатный показатель. Если сводка есть в кэше, значение
// берётся из неё.
func (s *Service) Aggregate(ctx context.Context, a model.Aggregate) (_ int64, err error) {
	defer s.observe("aggregate", time.Now(), &err)

	if _, ok := model.ParseAggregate(string(a)); !ok {
		return 0, ErrUnknownAggregate
	}
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx); err == nil {
			return cached.Value(a), nil
		}
	}
	return s.repo.Aggregate(ctx, a)
}

// CountOpenOrders возвращает число незавершённых заказов.
func (s *Service) CountOpenOrders(ctx context.Context) (int64, error) {
	return s.Aggregate(ctx, model.AggregateOpenOrders)
}

// CountClosedOrders возвращает число завершённых заказов.
func (s *Service) CountClosedOrders(ctx context.Context) (int64, error) {
	return s.Aggregate(ctx, model.AggregateClosedOrders)
}

// SumDeposits возвращает сумму задатков.
func (s *Service) SumDeposits(ctx context.Context) (model.Cents, error) {
	v, err := s.Aggregate(ctx, model.AggregateDeposits)
	return model.Cents(v), err
}

// SumPayments возвращает сумму оплат.
func (s *Service) SumPayments(ctx context.Context) (model.Cents, error) {
	v, err := s.Aggregate(ctx, model.AggregatePayments)
	return model.Cents(v), err
}

// CountAnimalsSold возвращает число проданных животных.
func (s *Service) CountAnimalsSold(ctx context.Context) (int64, error) {
	return s.Aggregate(ctx, model.AggregateAnimalsSold)
}

// CountAnimalsAvailable возвращает число животных без заказов.
func (s *Service) CountAnimalsAvailable(ctx context.Context) (int64, error) {
	return s.Aggregate(ctx, model.AggregateAnimalsAvailable)
}

// Summary возвращает сводку, по возможности из кэша.
func (s *Service) Summary(ctx context.Context) (_ *model.Summary, err error) {
	defer s.observe("summary", time.Now(), &err)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("summary cache read failed", zap.Error(err))
		}
	}

	s.summaryMu.Lock()
	gen := s.summaryGen
	s.summaryMu.Unlock()

	sum, err := s.repo.Summary(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cacheSummary(ctx, gen, sum)
	}
	return sum, nil
}

// cacheSummary кладёт сводку в кэш, только если с начала её чтения не было изменений.
func (s *Service) cacheSummary(ctx context.Context, gen uint64, sum *model.Summary) {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()

	if s.summaryGen != gen {
		return
	}
	if err := s.cache.Set(ctx, sum); err != nil {
		s.logger.Warn("summary cache write failed", zap.Error(err))
	}
}
