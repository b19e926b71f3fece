package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/animal-sales-tracker/internal/live"
	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

type streamError struct {
	Error string `json:"error"`
}

// stream пишет каждое обновление живого запроса событием text/event-stream,
// пока клиент не отключится.
func stream[T any](h *Handler, w http.ResponseWriter, updates <-chan live.Update[T], convert func(T) any) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("stream flush unsupported", zap.Error(err))
		return
	}

	for u := range updates {
		event, payload := "update", any(nil)
		if u.Err != nil {
			event, payload = "error", streamError{Error: http.StatusText(http.StatusInternalServerError)}
		} else {
			payload = convert(u.Value)
		}

		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("encode stream event", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// Live отдаёт поток обновлений живого запроса, указанного в пути.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch chi.URLParam(r, "query") {
	case "animals":
		stream(h, w, h.service.WatchAnimals(ctx), func(v []model.Animal) any {
			return newAnimalsResponse(v)
		})
	case "animals-available":
		stream(h, w, h.service.WatchAnimalsWithoutOrders(ctx), func(v []model.Animal) any {
			return newAnimalsResponse(v)
		})
	case "customers":
		stream(h, w, h.service.WatchCustomers(ctx), func(v []model.Customer) any {
			return newCustomersResponse(v)
		})
	case "orders":
		stream(h, w, h.service.WatchOrders(ctx), func(v []model.Order) any {
			return newOrdersResponse(v)
		})
	case "order-details":
		stream(h, w, h.service.WatchOrderDetails(ctx), func(v []model.OrderDetail) any {
			return newOrderDetailsResponse(v)
		})
	case "summary":
		stream(h, w, h.service.WatchSummary(ctx), func(v *model.Summary) any {
			return newSummaryResponse(v)
		})
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

// LiveAggregate отдаёт поток значений одного показателя сводки.
func (h *Handler) LiveAggregate(w http.ResponseWriter, r *http.Request) {
	a, ok := model.ParseAggregate(chi.URLParam(r, "aggregate"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	updates, err := h.service.WatchAggregate(r.Context(), a)
	if err != nil {
		h.writeError(w, "live aggregate", err)
		return
	}

	stream(h, w, updates, func(v int64) any {
		return newAggregateResponse(a, v)
	})
}
