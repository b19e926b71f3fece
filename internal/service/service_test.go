package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/animal-sales-tracker/internal/cache"
	"github.com/mmeshcher/animal-sales-tracker/internal/live"
	"github.com/mmeshcher/animal-sales-tracker/internal/model"
	"github.com/mmeshcher/animal-sales-tracker/internal/repository"
	"github.com/mmeshcher/animal-sales-tracker/internal/validation"
)

type stubRepo struct {
	mu sync.Mutex

	animals   []model.Animal
	customers []model.Customer
	orders    []model.Order

	upsertCalls int
	deleteErr   error
	closeErr    error

	summary      *model.Summary
	summaryCalls int
	onSummary    func()
}

func (s *stubRepo) Close() error { return s.closeErr }

func (s *stubRepo) ListAnimals(ctx context.Context) ([]model.Animal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Animal(nil), s.animals...), nil
}

func (s *stubRepo) ListAnimalsWithoutOrders(ctx context.Context) ([]model.Animal, error) {
	return s.ListAnimals(ctx)
}

func (s *stubRepo) ListOrderableAnimals(ctx context.Context, orderID int64) ([]model.Animal, error) {
	return s.ListAnimals(ctx)
}

func (s *stubRepo) GetAnimal(ctx context.Context, id int64) (*model.Animal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.animals {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) UpsertAnimal(ctx context.Context, a model.Animal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if a.ID == 0 {
		a.ID = int64(len(s.animals) + 1)
	}
	s.animals = append(s.animals, a)
	return a.ID, nil
}

func (s *stubRepo) UpdateAnimal(ctx context.Context, a model.Animal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.animals {
		if s.animals[i].ID == a.ID {
			s.animals[i] = a
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *stubRepo) DeleteAnimal(ctx context.Context, id int64) error { return s.deleteErr }

func (s *stubRepo) DeleteAllAnimals(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.animals))
	s.animals = nil
	return n, nil
}

func (s *stubRepo) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	return s.customers, nil
}

func (s *stubRepo) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return nil, repository.ErrNotFound
}

func (s *stubRepo) UpsertCustomer(ctx context.Context, c model.Customer) (int64, error) {
	s.upsertCalls++
	return 1, nil
}

func (s *stubRepo) UpdateCustomer(ctx context.Context, c model.Customer) error { return nil }

func (s *stubRepo) DeleteCustomer(ctx context.Context, id int64) error { return s.deleteErr }

func (s *stubRepo) ListOrders(ctx context.Context) ([]model.Order, error) { return s.orders, nil }

func (s *stubRepo) ListOrderDetails(ctx context.Context) ([]model.OrderDetail, error) {
	return nil, nil
}

func (s *stubRepo) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return nil, repository.ErrNotFound
}

func (s *stubRepo) UpsertOrder(ctx context.Context, o model.Order) (int64, error) {
	s.upsertCalls++
	return 7, nil
}

func (s *stubRepo) UpdateOrder(ctx context.Context, o model.Order) error { return nil }

func (s *stubRepo) DeleteOrder(ctx context.Context, id int64) error { return s.deleteErr }

func (s *stubRepo) DeleteCompletedOrders(ctx context.Context) (int64, error) { return 0, nil }

func (s *stubRepo) Aggregate(ctx context.Context, a model.Aggregate) (int64, error) {
	return 5000, nil
}

func (s *stubRepo) Summary(ctx context.Context) (*model.Summary, error) {
	s.mu.Lock()
	s.summaryCalls++
	sum, hook := s.summary, s.onSummary
	s.onSummary = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return sum, nil
}

type stubCache struct {
	stored      *model.Summary
	invalidated int
}

func (c *stubCache) Get(ctx context.Context) (*model.Summary, error) {
	if c.stored == nil {
		return nil, cache.ErrMiss
	}
	return c.stored, nil
}

func (c *stubCache) Set(ctx context.Context, s *model.Summary) error {
	c.stored = s
	return nil
}

func (c *stubCache) Invalidate(ctx context.Context) error {
	c.invalidated++
	c.stored = nil
	return nil
}

func newTestService(repo Repository, opts ...Option) *Service {
	return NewService(repo, live.NewHub(zap.NewNop(), 2), opts...)
}

func TestUpsertAnimalValidation(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo)

	if _, err := svc.UpsertAnimal(context.Background(), model.Animal{Name: "  "}); !errors.Is(err, validation.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}
	if _, err := svc.UpsertAnimal(context.Background(), model.Animal{Name: "Bella", Weight: -1}); !errors.Is(err, validation.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative weight, got %v", err)
	}
	if repo.upsertCalls != 0 {
		t.Fatalf("repository must not be called for invalid input, got %d calls", repo.upsertCalls)
	}

	id, err := svc.UpsertAnimal(context.Background(), model.Animal{Name: " Bella ", Weight: 12.5})
	if err != nil {
		t.Fatalf("UpsertAnimal error: %v", err)
	}
	if id != 1 || repo.animals[0].Name != "Bella" {
		t.Fatalf("unexpected stored animal id=%d %+v", id, repo.animals[0])
	}
}

func TestUpsertOrderRejectsNegativeMoney(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo)

	if _, err := svc.UpsertOrder(context.Background(), model.Order{Deposit: -1}); !errors.Is(err, validation.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative deposit, got %v", err)
	}
	if err := svc.UpdateOrder(context.Background(), model.Order{ID: 1, Payment: -5}); !errors.Is(err, validation.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative payment, got %v", err)
	}
	if repo.upsertCalls != 0 {
		t.Fatalf("repository must not be called, got %d calls", repo.upsertCalls)
	}
}

func TestUpsertCustomerRequiresName(t *testing.T) {
	svc := newTestService(&stubRepo{})
	if _, err := svc.UpsertCustomer(context.Background(), model.Customer{Email: "j@x.com"}); !errors.Is(err, validation.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteCustomerPropagatesReferentialIntegrity(t *testing.T) {
	repo := &stubRepo{deleteErr: repository.ErrReferentialIntegrity}
	c := &stubCache{stored: &model.Summary{OpenOrders: 1}}
	svc := newTestService(repo, WithSummaryCache(c))

	err := svc.DeleteCustomer(context.Background(), 1)
	if !errors.Is(err, repository.ErrReferentialIntegrity) {
		t.Fatalf("expected ErrReferentialIntegrity, got %v", err)
	}
	if c.invalidated != 0 {
		t.Fatalf("failed delete must not invalidate cache")
	}
}

func TestWatchAnimalsSeesWrites(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := svc.WatchAnimals(ctx)

	first := <-updates
	if first.Err != nil || len(first.Value) != 0 {
		t.Fatalf("unexpected initial update %+v", first)
	}

	if _, err := svc.UpsertAnimal(ctx, model.Animal{Name: "Bella"}); err != nil {
		t.Fatalf("UpsertAnimal error: %v", err)
	}

	select {
	case u := <-updates:
		if len(u.Value) != 1 || u.Value[0].Name != "Bella" {
			t.Fatalf("unexpected update %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update after write")
	}
}

func TestWatchAggregateUnknown(t *testing.T) {
	svc := newTestService(&stubRepo{})
	if _, err := svc.WatchAggregate(context.Background(), model.Aggregate("bogus")); !errors.Is(err, ErrUnknownAggregate) {
		t.Fatalf("expected ErrUnknownAggregate, got %v", err)
	}
	if _, err := svc.Aggregate(context.Background(), model.Aggregate("bogus")); !errors.Is(err, ErrUnknownAggregate) {
		t.Fatalf("expected ErrUnknownAggregate, got %v", err)
	}
}

func TestSumDepositsReturnsCents(t *testing.T) {
	svc := newTestService(&stubRepo{})
	got, err := svc.SumDeposits(context.Background())
	if err != nil {
		t.Fatalf("SumDeposits error: %v", err)
	}
	if got.String() != "50.00" {
		t.Fatalf("SumDeposits = %s, want 50.00", got)
	}
}

func TestSummaryUsesCacheUntilWrite(t *testing.T) {
	repo := &stubRepo{summary: &model.Summary{OpenOrders: 1}}
	c := &stubCache{}
	svc := newTestService(repo, WithSummaryCache(c))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Summary(ctx); err != nil {
			t.Fatalf("Summary error: %v", err)
		}
	}
	if repo.summaryCalls != 1 {
		t.Fatalf("expected 1 repository call, got %d", repo.summaryCalls)
	}

	if _, err := svc.UpsertOrder(ctx, model.Order{Deposit: 100}); err != nil {
		t.Fatalf("UpsertOrder error: %v", err)
	}
	if c.invalidated != 1 {
		t.Fatalf("expected cache invalidation after order write, got %d", c.invalidated)
	}

	if _, err := svc.Summary(ctx); err != nil {
		t.Fatalf("Summary error: %v", err)
	}
	if repo.summaryCalls != 2 {
		t.Fatalf("expected summary to be recomputed, got %d calls", repo.summaryCalls)
	}

	if _, err := svc.UpsertCustomer(ctx, model.Customer{Name: "Jane"}); err != nil {
		t.Fatalf("UpsertCustomer error: %v", err)
	}
	if c.invalidated != 1 {
		t.Fatalf("customer write must not invalidate summary, got %d", c.invalidated)
	}
}

func TestSummaryReadRacingWriteIsNotCached(t *testing.T) {
	repo := &stubRepo{summary: &model.Summary{OpenOrders: 1}}
	c := &stubCache{}
	svc := newTestService(repo, WithSummaryCache(c))
	ctx := context.Background()

	repo.onSummary = func() {
		if _, err := svc.UpsertOrder(ctx, model.Order{Deposit: 100}); err != nil {
			t.Errorf("UpsertOrder error: %v", err)
		}
	}

	if _, err := svc.Summary(ctx); err != nil {
		t.Fatalf("Summary error: %v", err)
	}
	if c.stored != nil {
		t.Fatalf("summary read before a write must not be cached, got %+v", c.stored)
	}

	if _, err := svc.Summary(ctx); err != nil {
		t.Fatalf("Summary error: %v", err)
	}
	if repo.summaryCalls != 2 || c.stored == nil {
		t.Fatalf("expected a fresh read to be cached, calls=%d stored=%v", repo.summaryCalls, c.stored)
	}
}

func TestAggregateServedFromCachedSummary(t *testing.T) {
	c := &stubCache{stored: &model.Summary{Payments: 1250, AnimalsSold: 3}}
	svc := newTestService(&stubRepo{}, WithSummaryCache(c))
	ctx := context.Background()

	sold, err := svc.CountAnimalsSold(ctx)
	if err != nil || sold != 3 {
		t.Fatalf("CountAnimalsSold = %d, %v; want 3", sold, err)
	}
	payments, err := svc.SumPayments(ctx)
	if err != nil || payments != 1250 {
		t.Fatalf("SumPayments = %d, %v; want 1250", payments, err)
	}

	c.stored = nil
	deposits, err := svc.SumDeposits(ctx)
	if err != nil || deposits != 5000 {
		t.Fatalf("SumDeposits on cache miss = %d, %v; want 5000 from repository", deposits, err)
	}
}

func TestServiceWithoutHubStillWatches(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := svc.WatchAnimals(ctx)
	select {
	case u := <-updates:
		if u.Err != nil || len(u.Value) != 0 {
			t.Fatalf("initial update = %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial update")
	}

	if _, err := svc.UpsertAnimal(ctx, model.Animal{Name: "Rex"}); err != nil {
		t.Fatalf("UpsertAnimal error: %v", err)
	}
	select {
	case u := <-updates:
		if len(u.Value) != 1 || u.Value[0].Name != "Rex" {
			t.Fatalf("update after write = %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no update after write")
	}
}

func TestCloseCombinesErrors(t *testing.T) {
	repo := &stubRepo{closeErr: errors.New("repo close")}
	svc := newTestService(repo)

	err := svc.Close()
	if err == nil || err.Error() != "repo close" {
		t.Fatalf("Close error = %v, want repo close", err)
	}
}

type listeningRepo struct {
	stubRepo
	calls int
}

func (r *listeningRepo) ListenChanges(ctx context.Context, fn func(model.Table)) error {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()

	if first {
		return errors.New("connection reset by peer")
	}
	fn(model.TableOrders)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunChangeRelayRepublishes(t *testing.T) {
	repo := &listeningRepo{}
	c := &stubCache{stored: &model.Summary{}}
	svc := newTestService(repo, WithSummaryCache(c))
	svc.relayBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	updates := svc.WatchOrders(ctx)
	<-updates

	done := make(chan error, 1)
	go func() { done <- svc.RunChangeRelay(ctx) }()

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not republish change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunChangeRelay error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRunChangeRelayWithoutListener(t *testing.T) {
	svc := newTestService(&stubRepo{})
	if err := svc.RunChangeRelay(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
