// Package apiclient — REST-клиент OMS API, которым пользуется консоль.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "oms-console"
	maxErrorBody     = 64 << 10
)

// Config задаёт параметры подключения к API.
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
}

// Client обращается к OMS REST API.
type Client struct {
	baseURL   *url.URL
	token     string
	userAgent string
	http      *http.Client
	logger    *log.Entry
}

// New создаёт клиент. httpClient может быть nil.
func New(cfg Config, httpClient *http.Client, logger *log.Entry) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = log.WithField("component", "api-client")
	}

	return &Client{
		baseURL:   base,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		logger:    logger,
	}, nil
}

// UserAgent возвращает строку User-Agent, которую клиент отправляет серверу.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// GetOrder загружает заказ по ID.
func (c *Client) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	var order domain.Order
	err := c.do(ctx, "get order", http.MethodGet, "/orders/"+strconv.FormatInt(id, 10), nil, &order)
	return order, err
}

// ListOrders загружает страницу списка заказов.
func (c *Client) ListOrders(ctx context.Context, page, limit int) (domain.OrderPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var result domain.OrderPage
	err := c.do(ctx, "list orders", http.MethodGet, "/orders?"+query.Encode(), nil, &result)
	return result, err
}

type updateStatusRequest struct {
	Status domain.ItemStatus `json:"status"`
	Notes  string            `json:"notes,omitempty"`
}

// UpdateItemStatus отправляет PATCH /items/{itemID}/status.
func (c *Client) UpdateItemStatus(ctx context.Context, itemID int64, status domain.ItemStatus, notes string) (domain.LineItem, error) {
	body := updateStatusRequest{Status: status, Notes: notes}
	var item domain.LineItem
	path := "/items/" + strconv.FormatInt(itemID, 10) + "/status"
	err := c.do(ctx, "update item status", http.MethodPatch, path, body, &item)
	return item, err
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := statusError(op, resp.StatusCode, raw)
		c.logger.WithFields(log.Fields{
			"op":     op,
			"status": resp.StatusCode,
			"kind":   apiErr.Kind,
		}).Debug("api request failed")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.APIError{
			Kind:       domain.ErrorKindUnknown,
			StatusCode: resp.StatusCode,
			Message:    "malformed response body",
			Op:         op,
			Err:        err,
		}
	}
	return nil
}

var (
	_ domain.ItemStatusUpdater = (*Client)(nil)
	_ domain.OrderReader       = (*Client)(nil)
)
