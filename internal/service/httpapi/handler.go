// Package httpapi — HTTP API, через который UI консоли читает заказы и меняет статусы позиций.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/querycache"
	"github.com/vladislavdragonenkov/oms-console/internal/service/itemstatus"
)

const defaultWaitTimeout = 30 * time.Second

// Mutator запускает мутации статуса и отдаёт их по ID.
type Mutator interface {
	Start(ctx context.Context, change domain.StatusChange) (*itemstatus.Mutation, error)
	Lookup(id string) (*itemstatus.Mutation, bool)
}

// NotificationLister отдаёт последние уведомления.
type NotificationLister interface {
	List() []domain.Notification
}

// Handler обслуживает /api/*.
type Handler struct {
	cache         domain.QueryCache
	reader        domain.OrderReader
	mutator       Mutator
	notifications NotificationLister
	logger        *log.Entry
	waitTimeout   time.Duration
}

// NewHandler создаёт Handler. notifications и logger могут быть nil.
func NewHandler(cache domain.QueryCache, reader domain.OrderReader, mutator Mutator, notifications NotificationLister, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "console-api")
	}
	return &Handler{
		cache:         cache,
		reader:        reader,
		mutator:       mutator,
		notifications: notifications,
		logger:        logger,
		waitTimeout:   defaultWaitTimeout,
	}
}

// Routes возвращает chi-роутер API консоли.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Post("/items/{itemID}/status", h.updateItemStatus)
		r.Get("/mutations/{mutationID}", h.getMutation)
		r.Get("/notifications", h.listNotifications)
	})
	return r
}

type statusRequest struct {
	Status domain.ItemStatus `json:"status"`
	Notes  string            `json:"notes"`
}

type mutationView struct {
	MutationID  string               `json:"mutation_id"`
	State       itemstatus.State     `json:"state"`
	OrderItemID int64                `json:"order_item_id"`
	Status      domain.ItemStatus    `json:"status"`
	StartedAt   time.Time            `json:"started_at"`
	Snapshot    *itemstatus.Snapshot `json:"snapshot,omitempty"`
	// Order — оптимистичное состояние закэшированной записи сразу после патча.
	Order      any              `json:"order,omitempty"`
	Item       *domain.LineItem `json:"item,omitempty"`
	Attempts   int              `json:"attempts,omitempty"`
	RolledBack bool             `json:"rolled_back,omitempty"`
	ErrorKind  domain.ErrorKind `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "orderID must be a positive integer")
		return
	}
	h.serveCached(w, r, querycache.OrderKey(id), func(ctx context.Context) (any, error) {
		return h.reader.GetOrder(ctx, id)
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, errPage := optionalInt(r, "page")
	limit, errLimit := optionalInt(r, "limit")
	if errPage != nil || errLimit != nil {
		writeError(w, http.StatusBadRequest, "page and limit must be integers")
		return
	}
	page, limit = domain.NormalizePage(page, limit)
	h.serveCached(w, r, querycache.OrderListKey(page, limit), func(ctx context.Context) (any, error) {
		return h.reader.ListOrders(ctx, page, limit)
	})
}

// serveCached отдаёт запись из кэша, а при промахе загружает её через Fetch.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key domain.CacheKey, fetcher domain.Fetcher) {
	if value, ok := h.cache.Get(key); ok {
		w.Header().Set("X-Cache", "hit")
		writeJSON(w, http.StatusOK, value)
		return
	}

	value, err := h.cache.Fetch(r.Context(), key, fetcher)
	if errors.Is(err, domain.ErrFetchCancelled) {
		// Чтение вытеснено мутацией; в кэше уже может лежать оптимистичное значение.
		if cached, ok := h.cache.Get(key); ok {
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, cached)
			return
		}
		writeError(w, http.StatusServiceUnavailable, "read was superseded by a pending update, retry")
		return
	}
	if err != nil {
		h.writeAPIError(w, key, err)
		return
	}
	w.Header().Set("X-Cache", "miss")
	writeJSON(w, http.StatusOK, value)
}

func (h *Handler) updateItemStatus(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "itemID must be an integer")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	change := domain.StatusChange{OrderItemID: itemID, Status: req.Status, Notes: req.Notes}
	m, err := h.mutator.Start(r.Context(), change)
	if err != nil {
		if errors.Is(err, domain.ErrItemIDInvalid) || errors.Is(err, domain.ErrStatusRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("failed to start item status mutation")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	view := h.view(m)
	if patched, ok := m.PatchedValue(); ok {
		view.Order = patched
	}

	if !wantsWait(r) {
		writeJSON(w, http.StatusAccepted, view)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()
	select {
	case <-m.Done():
		writeJSON(w, http.StatusOK, h.view(m))
	case <-ctx.Done():
		writeJSON(w, http.StatusAccepted, h.view(m))
	}
}

func (h *Handler) getMutation(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mutator.Lookup(chi.URLParam(r, "mutationID"))
	if !ok {
		writeError(w, http.StatusNotFound, "mutation not found")
		return
	}
	writeJSON(w, http.StatusOK, h.view(m))
}

func (h *Handler) listNotifications(w http.ResponseWriter, _ *http.Request) {
	items := []domain.Notification{}
	if h.notifications != nil {
		items = h.notifications.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handler) view(m *itemstatus.Mutation) mutationView {
	change := m.Change()
	view := mutationView{
		MutationID:  m.ID(),
		State:       m.State(),
		OrderItemID: change.OrderItemID,
		Status:      change.Status,
		StartedAt:   m.StartedAt(),
	}
	if snap, ok := m.Snapshot(); ok {
		view.Snapshot = &snap
	}

	select {
	case <-m.Done():
	default:
		return view
	}
	result, err := m.Wait(context.Background())
	view.State = m.State()
	view.Attempts = result.Attempts
	view.RolledBack = result.RolledBack
	if err != nil {
		view.ErrorKind = result.ErrorKind
		view.Error = err.Error()
		return view
	}
	item := result.Item
	view.Item = &item
	return view
}

func (h *Handler) writeAPIError(w http.ResponseWriter, key domain.CacheKey, err error) {
	if domain.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	kind, _ := domain.KindOf(err)
	h.logger.WithError(err).WithFields(log.Fields{
		"key":        key.String(),
		"error_kind": kind,
	}).Warn("order api read failed")

	switch kind {
	case domain.ErrorKindAuth:
		writeError(w, http.StatusUnauthorized, err.Error())
	case domain.ErrorKindNetwork:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

func optionalInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
