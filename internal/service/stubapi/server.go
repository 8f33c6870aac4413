// Package stubapi — HTTP backend-заглушка OMS API для локального запуска консоли.
package stubapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// ItemEventPublisher сообщает подписчикам об изменении позиции.
type ItemEventPublisher interface {
	PublishItemChanged(orderID int64, item domain.LineItem) error
}

// Options задаёт параметры заглушки.
type Options struct {
	// Token — ожидаемый bearer-токен; пустой отключает проверку.
	Token     string
	Publisher ItemEventPublisher
	Logger    *log.Entry
}

// Server обслуживает REST API заказов поверх OrderRepository.
type Server struct {
	repo      domain.OrderRepository
	token     string
	publisher ItemEventPublisher
	logger    *log.Entry
}

// NewServer создаёт заглушку.
func NewServer(repo domain.OrderRepository, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "oms-stub")
	}
	return &Server{
		repo:      repo,
		token:     opts.Token,
		publisher: opts.Publisher,
		logger:    logger,
	}
}

// Routes возвращает chi-роутер с маршрутами API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(s.authenticate)

	r.Get("/orders", s.listOrders)
	r.Get("/orders/{orderID}", s.getOrder)
	r.Patch("/items/{itemID}/status", s.updateItemStatus)
	return r
}

type updateStatusRequest struct {
	Status domain.ItemStatus `json:"status"`
	Notes  string            `json:"notes"`
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	order, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	result, err := s.repo.List(r.Context(), page, limit)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) updateItemStatus(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	req.Status = domain.ItemStatus(strings.TrimSpace(string(req.Status)))
	if req.Status == "" {
		writeError(w, http.StatusUnprocessableEntity, domain.ErrStatusRequired.Error())
		return
	}
	if !req.Status.IsKnown() {
		writeError(w, http.StatusUnprocessableEntity, domain.ErrStatusUnknown.Error()+": "+string(req.Status))
		return
	}

	item, orderID, err := s.repo.UpdateItemStatus(r.Context(), itemID, req.Status, req.Notes)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}

	s.logger.WithFields(log.Fields{
		"order_id":      orderID,
		"order_item_id": item.ID,
		"status":        item.Status,
	}).Info("item status updated")

	if s.publisher != nil {
		if err := s.publisher.PublishItemChanged(orderID, item); err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to publish item event")
		}
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.WithError(err).Error("repository call failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, param+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(started),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("request served")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
