// Package handler содержит HTTP-обработчики API учёта продаж животных.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/animal-sales-tracker/internal/live"
	"github.com/mmeshcher/animal-sales-tracker/internal/model"
	"github.com/mmeshcher/animal-sales-tracker/internal/repository"
	"github.com/mmeshcher/animal-sales-tracker/internal/service"
	"github.com/mmeshcher/animal-sales-tracker/internal/validation"
)

// Service определяет контракт операций хранилища, используемых HTTP-обработчиками.
type Service interface {
	ListAnimals(ctx context.Context) ([]model.Animal, error)
	ListAnimalsWithoutOrders(ctx context.Context) ([]model.Animal, error)
	ListOrderableAnimals(ctx context.Context, orderID int64) ([]model.Animal, error)
	LookupAnimal(ctx context.Context, id int64) (*model.Animal, error)
	UpsertAnimal(ctx context.Context, a model.Animal) (int64, error)
	UpdateAnimal(ctx context.Context, a model.Animal) error
	DeleteAnimal(ctx context.Context, id int64) error
	DeleteAllAnimals(ctx context.Context) (int64, error)

	ListCustomers(ctx context.Context) ([]model.Customer, error)
	LookupCustomer(ctx context.Context, id int64) (*model.Customer, error)
	UpsertCustomer(ctx context.Context, c model.Customer) (int64, error)
	UpdateCustomer(ctx context.Context, c model.Customer) error
	DeleteCustomer(ctx context.Context, id int64) error

	ListOrders(ctx context.Context) ([]model.Order, error)
	ListOrderDetails(ctx context.Context) ([]model.OrderDetail, error)
	LookupOrder(ctx context.Context, id int64) (*model.Order, error)
	UpsertOrder(ctx context.Context, o model.Order) (int64, error)
	UpdateOrder(ctx context.Context, o model.Order) error
	DeleteOrder(ctx context.Context, id int64) error
	DeleteCompletedOrders(ctx context.Context) (int64, error)

	Aggregate(ctx context.Context, a model.Aggregate) (int64, error)
	Summary(ctx context.Context) (*model.Summary, error)

	WatchAnimals(ctx context.Context) <-chan live.Update[[]model.Animal]
	WatchAnimalsWithoutOrders(ctx context.Context) <-chan live.Update[[]model.Animal]
	WatchCustomers(ctx context.Context) <-chan live.Update[[]model.Customer]
	WatchOrders(ctx context.Context) <-chan live.Update[[]model.Order]
	WatchOrderDetails(ctx context.Context) <-chan live.Update[[]model.OrderDetail]
	WatchAggregate(ctx context.Context, a model.Aggregate) (<-chan live.Update[int64], error)
	WatchSummary(ctx context.Context) <-chan live.Update[*model.Summary]
}

// Handler реализует HTTP-обработчики API учёта продаж.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

// writeError переводит ошибку хранилища или валидации в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, validation.ErrInvalidInput), errors.Is(err, repository.ErrNegativeValue):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrUnknownAggregate):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrForeignKeyViolation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrReferentialIntegrity):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return validation.ErrInvalidInput
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, validation.ErrInvalidInput
	}
	return id, nil
}

// formNumber принимает число как JSON-число или как строку поля формы.
type formNumber string

func (n *formNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = formNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = formNumber(num.String())
	return nil
}

type idResponse struct {
	ID int64 `json:"id"`
}

type deletedResponse struct {
	Deleted int64 `json:"deleted"`
}

// Health сообщает, что сервис запущен.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type animalRequest struct {
	ID      int64      `json:"id" validate:"gte=0"`
	Name    string     `json:"name" validate:"required"`
	Type    string     `json:"type"`
	DOB     string     `json:"dob"`
	Weight  formNumber `json:"weight"`
	BuyerID *int64     `json:"buyer_id,omitempty"`
}

func (req *animalRequest) toModel() (model.Animal, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.TrimSpace(req.Type)
	req.DOB = strings.TrimSpace(req.DOB)
	if err := validation.Struct(req); err != nil {
		return model.Animal{}, err
	}
	weight, err := validation.ParseWeight(string(req.Weight))
	if err != nil {
		return model.Animal{}, err
	}
	return model.Animal{
		ID:      req.ID,
		Name:    req.Name,
		Type:    req.Type,
		DOB:     req.DOB,
		Weight:  weight,
		BuyerID: req.BuyerID,
	}, nil
}

type animalResponse struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	DOB     string  `json:"dob"`
	Weight  float64 `json:"weight"`
	BuyerID *int64  `json:"buyer_id,omitempty"`
}

func newAnimalResponse(a model.Animal) animalResponse {
	return animalResponse{
		ID:      a.ID,
		Name:    a.Name,
		Type:    a.Type,
		DOB:     a.DOB,
		Weight:  a.Weight,
		BuyerID: a.BuyerID,
	}
}

func newAnimalsResponse(animals []model.Animal) []animalResponse {
	resp := make([]animalResponse, 0, len(animals))
	for _, a := range animals {
		resp = append(resp, newAnimalResponse(a))
	}
	return resp
}

// ListAnimals возвращает животных. available=true оставляет только животных без
// заказов, orderable_for={id} добавляет к ним животное указанного заказа.
func (h *Handler) ListAnimals(w http.ResponseWriter, r *http.Request) {
	var (
		animals []model.Animal
		err     error
	)

	q := r.URL.Query()
	switch {
	case q.Get("orderable_for") != "":
		orderID, perr := strconv.ParseInt(q.Get("orderable_for"), 10, 64)
		if perr != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		animals, err = h.service.ListOrderableAnimals(r.Context(), orderID)
	case q.Get("available") == "true":
		animals, err = h.service.ListAnimalsWithoutOrders(r.Context())
	default:
		animals, err = h.service.ListAnimals(r.Context())
	}
	if err != nil {
		h.writeError(w, "list animals", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newAnimalsResponse(animals))
}

// GetAnimal возвращает животное по идентификатору.
func (h *Handler) GetAnimal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, "get animal", err)
		return
	}

	a, err := h.service.LookupAnimal(r.Context(), id)
	if err != nil {
		h.writeError(w, "get animal", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newAnimalResponse(*a))
}

// UpsertAnimal создаёт животное или заменяет существующее с тем же id.
func (h *Handler) UpsertAnimal(w http.ResponseWriter, r *http.Request) {
	var req animalRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, "upsert animal", err)
		return
	}

	a, err := req.toModel()
	if err != nil {
		h.writeError(w, "upsert animal", err)
		return
	}

	id, err := h.service.UpsertAnimal(r.Context(), a)
	if err != nil {
		h.writeError(w, "upsert animal", err)
		return
	}

	h.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

// UpdateAnimal обновляет животное по идентификатору из пути.
func (h *Handler) UpdateAnimal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, "update animal", err)
		return
	}

	var req animalRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, "update animal", err)
		return
	}

	a, err := req.toModel()
	if err != nil {
		h.writeError(w, "update animal", err)
		return
	}
	a.ID = id

	if err := h.service.UpdateAnimal(r.Context(), a); err != nil {
		h.writeError(w, "update animal", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteAnimal удаляет животное вместе с его заказами.
func (h *Handler) DeleteAnimal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, "delete animal", err)
		return
	}

	if err := h.service.DeleteAnimal(r.Context(), id); err != nil {
		h.writeError(w, "delete animal", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllAnimals удаляет всех животных.
func (h *Handler) DeleteAllAnimals(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.DeleteAllAnimals(r.Context())
	if err != nil {
		h.writeError(w, "delete all animals", err)
		return
	}

	h.writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

type customerRequest struct {
	ID    int64  `json:"id" validate:"gte=0"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

func (req *customerRequest) toModel() (model.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := validation.Struct(req); err != nil {
		return model.Customer{}, err
	}
	return model.Customer{
		ID:    req.ID,
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	}, nil
}

type customerResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func newCustomerResponse(c model.Customer) customerResponse {
	return customerResponse{ID: c.ID, Name: c.Name, Email: c.Email, Phone: c.Phone}
}

func newCustomersResponse(customers []model.Customer) []customerResponse {
	resp := make([]customerResponse, 0, len(customers))
	for _, c := range customers {
		resp = append(resp, newCustomerResponse(c))
	}
	return resp
}

// ListCustomers возвращает всех покупателей.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		h.writeError(w, "list customers", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCustomersResponse(customers))
}

// GetCustomer возвращает покупателя по идентификатору.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, "get customer", err)
		return
	}

	c, err := h.service.LookupCustomer(r.Context(), id)
	if err != nil {
		h.writeError(w, "get customer", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCustomerResponse(*c))
}

// UpsertCustomer создаёт покупателя или заменяет существующего с тем же id.
func (h *Handler) UpsertCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, "upsert customer", err)
		return
	}

	c, err := req.toModel()
	if err != nil {
		h.writeError(w, "upsert customer", err)
		return
	}

	id, err := h.service.UpsertCustomer(r.Context(), c)
	if err != nil {
		h.writeError(w, "upsert customer", err)
		return
	}

	h.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

// UpdateCustomer обновляет покупателя по идентификатору из пути.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, "update customer", err)
		return
	}

	var req customerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, "update customer", err)
		return
	}

	c, err := req.toModel()
	if err != nil {
		h.writeError(w, "update customer", err)
		return
	}
	c.ID = id

	if err := h.service.UpdateCustomer(r.Context(), c); err != nil {
		h.writeError(w, "update customer", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteCustomer удаляет покупателя. Пока на него ссылаются заказы, отвечает 409.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, "delete customer", err)
		return
	}

	if err := h.service.DeleteCustomer(r.Context(), id); err != nil {
		h.writeError(w, "delete customer", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type orderRequest struct {
	ID               int64      `json:"id" validate:"gte=0"`
	AnimalID         *int64     `json:"animal_id"`
	CustomerID       *int64     `json:"customer_id"`
	Deposit          formNumber `json:"deposit"`
	Payment          formNumber `json:"payment"`
	ReadyDate        string     `json:"ready_date"`
	PurchaseComplete bool       `json:"purchase_complete"`
}

func (req *orderRequest) toModel() (model.Order, error) {
	if err := validation.Struct(req); err != nil {
		return model.Order{}, err
	}
	deposit, err := validation.ParseAmount("deposit", string(req.Deposit))
	if err != nil {
		return model.Order{}, err
	}
	payment, err := validation.ParseAmount("payment", string(req.Payment))
	if err != nil {
		return model.Order{}, err
	}
	return model.Order{
		ID:               req.ID,
		AnimalID:         req.AnimalID,
		CustomerID:       req.CustomerID,
		Deposit:          deposit,
		Payment:          payment,
		ReadyDate:        strings.TrimSpace(req.ReadyDate),
		PurchaseComplete: req.PurchaseComplete,
	}, nil
}

type orderResponse struct {
	ID               int64  `json:"id"`
	AnimalID         *int64 `json:"animal_id"`
	CustomerID       *int64 `json:"customer_id"`
	Deposit          string `json:"deposit"`
	Payment          string `json:"payment"`
	ReadyDate        string `json:"ready_date"`
	PurchaseComplete bool   `json:"purchase_complete"`
}

func newOrderResponse(o model.Order) orderResponse {
	return orderResponse{
		ID:               o.ID,
		AnimalID:         o.AnimalID,
		CustomerID:       o.CustomerID,
		Deposit:          o.Deposit.String(),
		Payment:          o.Payment.String(),
		ReadyDate:        o.ReadyDate,
		PurchaseComplete: o.PurchaseComplete,
	}
}

func newOrdersResponse(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, newOrderResponse(o))
	}
	return resp
}

type orderDetailResponse struct {
	orderResponse
	AnimalName   string `json:"animal_name"`
	CustomerName string `json:"customer_name"`
}

func newOrderDetailsResponse(details []model.OrderDetail) []orderDetailResponse {
	resp := make([]orderDetailResponse, 0, len(details))
	for _, d := range details {
		resp = append(resp, orderDetailResponse{
			orderResponse: newOrderResponse(d.Order),
			AnimalName:    d.AnimalName,
			CustomerName:  d.CustomerName,
		})
	}
	return resp
}

// ListOrders возвращает заказы. detailed=true добавляет имена животного и покупателя.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("detailed") == "true" {
		details, err := h.service.ListOrderDetails(r.Context())
		if err != nil {
			h.writeError(w, "list order details", err)
			return
		}
		h.writeJSON(w, http.StatusOK, newOrderDetailsResponse(details))
		return
	}

	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		h.writeError(w, "list orders", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrdersResponse(orders))
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, "get order", err)
		return
	}

	o, err := h.service.LookupOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, "get order", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderResponse(*o))
}

// UpsertOrder создаёт заказ или заменяет существующий с тем же id.
func (h *Handler) UpsertOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, "upsert order", err)
		return
	}

	o, err := req.toModel()
	if err != nil {
		h.writeError(w, "upsert order", err)
		return
	}

	id, err := h.service.UpsertOrder(r.Context(), o)
	if err != nil {
		h.writeError(w, "upsert order", err)
		return
	}

	h.writeJSON(w, http.StatusOK, idResponse{ID: id})
}

// UpdateOrder обновляет заказ по идентификатору из пути.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, "update order", err)
		return
	}

	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, "update order", err)
		return
	}

	o, err := req.toModel()
	if err != nil {
		h.writeError(w, "update order", err)
		return
	}
	o.ID = id

	if err := h.service.UpdateOrder(r.Context(), o); err != nil {
		h.writeError(w, "update order", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteOrder удаляет заказ.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, "delete order", err)
		return
	}

	if err := h.service.DeleteOrder(r.Context(), id); err != nil {
		h.writeError(w, "delete order", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteCompletedOrders удаляет все завершённые заказы.
func (h *Handler) DeleteCompletedOrders(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.DeleteCompletedOrders(r.Context())
	if err != nil {
		h.writeError(w, "delete completed orders", err)
		return
	}

	h.writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

type summaryResponse struct {
	OpenOrders       int64  `json:"open_orders"`
	ClosedOrders     int64  `json:"closed_orders"`
	Deposits         string `json:"deposits"`
	Payments         string `json:"payments"`
	AnimalsSold      int64  `json:"animals_sold"`
	AnimalsAvailable int64  `json:"animals_available"`
}

func newSummaryResponse(s *model.Summary) summaryResponse {
	return summaryResponse{
		OpenOrders:       s.OpenOrders,
		ClosedOrders:     s.ClosedOrders,
		Deposits:         s.Deposits.String(),
		Payments:         s.Payments.String(),
		AnimalsSold:      s.AnimalsSold,
		AnimalsAvailable: s.AnimalsAvailable,
	}
}

type aggregateResponse struct {
	Aggregate string `json:"aggregate"`
	Value     any    `json:"value"`
}

func newAggregateResponse(a model.Aggregate, v int64) aggregateResponse {
	if a.IsMoney() {
		return aggregateResponse{Aggregate: string(a), Value: model.Cents(v).String()}
	}
	return aggregateResponse{Aggregate: string(a), Value: v}
}

// GetSummary возвращает все сводные показатели.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Summary(r.Context())
	if err != nil {
		h.writeError(w, "summary", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newSummaryResponse(s))
}

// GetAggregate возвращает один показатель сводки.
func (h *Handler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	a, ok := model.ParseAggregate(chi.URLParam(r, "aggregate"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	v, err := h.service.Aggregate(r.Context(), a)
	if err != nil {
		h.writeError(w, "aggregate", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newAggregateResponse(a, v))
}
