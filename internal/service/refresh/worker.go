// Package refresh периодически перечитывает закэшированные заказы из API.
package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/querycache"
)

const (
	defaultInterval  = 30 * time.Second
	defaultRateLimit = 10
	defaultBurst     = 5
)

var refreshFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "oms_console_refresh_fetches_total",
	Help: "Total number of background order refetches grouped by result.",
}, []string{"result"})

// Page описывает страницу списка заказов.
type Page struct {
	Page  int
	Limit int
}

// Stats — итог одного цикла обновления.
type Stats struct {
	Refreshed int
	// Cancelled — чтения, вытесненные мутацией; это не ошибка.
	Cancelled int
	Failed    int
}

// Options задаёт параметры воркера.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	OrderIDs  []int64
	Pages     []Page
	RateLimit rate.Limit
	Burst     int
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между циклами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithOrderIDs задаёт заказы, которые обновляются всегда, даже если их нет в кэше.
func WithOrderIDs(ids ...int64) Option {
	return func(opts *Options) {
		opts.OrderIDs = append(opts.OrderIDs, ids...)
	}
}

// WithPages задаёт страницы списка, которые обновляются всегда.
func WithPages(pages ...Page) Option {
	return func(opts *Options) {
		opts.Pages = append(opts.Pages, pages...)
	}
}

// WithRateLimit ограничивает число запросов к API в секунду.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(opts *Options) {
		opts.RateLimit = limit
		opts.Burst = burst
	}
}

// Worker перечитывает заказы через QueryCache.Fetch, поэтому устаревшие ответы
// отбрасываются кэшем так же, как при обычном чтении.
type Worker struct {
	cache    domain.QueryCache
	reader   domain.OrderReader
	logger   *log.Entry
	interval time.Duration
	orderIDs []int64
	pages    []Page
	limiter  *rate.Limiter
}

// NewWorker создаёт воркер обновления.
func NewWorker(cache domain.QueryCache, reader domain.OrderReader, options ...Option) *Worker {
	opts := Options{
		Interval:  defaultInterval,
		RateLimit: defaultRateLimit,
		Burst:     defaultBurst,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "refresh-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}

	return &Worker{
		cache:    cache,
		reader:   reader,
		logger:   logger,
		interval: opts.Interval,
		orderIDs: opts.OrderIDs,
		pages:    opts.Pages,
		limiter:  rate.NewLimiter(opts.RateLimit, opts.Burst),
	}
}

// Run обновляет кэш с заданным интервалом до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.cache == nil || w.reader == nil {
		w.logger.Warn("refresh worker is disabled: cache or reader is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл обновления.
func (w *Worker) ProcessOnce(ctx context.Context) Stats {
	var stats Stats
	orderIDs, pages := w.targets()

	for _, id := range orderIDs {
		if err := w.limiter.Wait(ctx); err != nil {
			return stats
		}
		orderID := id
		_, err := w.cache.Fetch(ctx, querycache.OrderKey(orderID), func(ctx context.Context) (any, error) {
			return w.reader.GetOrder(ctx, orderID)
		})
		w.account(&stats, err, log.Fields{"order_id": orderID})
	}

	for _, p := range pages {
		if err := w.limiter.Wait(ctx); err != nil {
			return stats
		}
		page := p
		_, err := w.cache.Fetch(ctx, querycache.OrderListKey(page.Page, page.Limit), func(ctx context.Context) (any, error) {
			return w.reader.ListOrders(ctx, page.Page, page.Limit)
		})
		w.account(&stats, err, log.Fields{"page": page.Page, "limit": page.Limit})
	}

	if stats.Failed > 0 {
		w.logger.WithFields(log.Fields{
			"refreshed": stats.Refreshed,
			"cancelled": stats.Cancelled,
			"failed":    stats.Failed,
		}).Warn("refresh cycle finished with errors")
	}
	return stats
}

func (w *Worker) account(stats *Stats, err error, fields log.Fields) {
	switch {
	case err == nil:
		stats.Refreshed++
		refreshFetchesTotal.WithLabelValues("refreshed").Inc()
	case errors.Is(err, domain.ErrFetchCancelled):
		stats.Cancelled++
		refreshFetchesTotal.WithLabelValues("cancelled").Inc()
	default:
		stats.Failed++
		refreshFetchesTotal.WithLabelValues("failed").Inc()
		w.logger.WithError(err).WithFields(fields).Debug("order refetch failed")
	}
}

// targets объединяет настроенные цели с тем, что уже лежит в кэше.
func (w *Worker) targets() ([]int64, []Page) {
	seenIDs := make(map[int64]struct{})
	seenPages := make(map[Page]struct{})
	var ids []int64
	var pages []Page

	addID := func(id int64) {
		if _, ok := seenIDs[id]; ok || id <= 0 {
			return
		}
		seenIDs[id] = struct{}{}
		ids = append(ids, id)
	}
	addPage := func(p Page) {
		p.Page, p.Limit = domain.NormalizePage(p.Page, p.Limit)
		if _, ok := seenPages[p]; ok {
			return
		}
		seenPages[p] = struct{}{}
		pages = append(pages, p)
	}

	for _, id := range w.orderIDs {
		addID(id)
	}
	for _, p := range w.pages {
		addPage(p)
	}
	for _, entry := range w.cache.GetAll(querycache.OrdersPrefix) {
		if id, ok := querycache.ParseOrderKey(entry.Key); ok {
			addID(id)
			continue
		}
		if page, limit, ok := querycache.ParseOrderListKey(entry.Key); ok {
			addPage(Page{Page: page, Limit: limit})
		}
	}
	return ids, pages
}
