// Package client is a thin REST client over the data store's HTTP API
// (C1), used by internal consumers (dashboards, the orchestrator's
// audit views) that would rather make an HTTP call than import the
// repository package directly.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	sharedhttp "github.com/spendmonitor/alertengine/pkg/shared/http"
)

// NotificationChannel mirrors domain.Channel for clients that don't
// want to import the domain package.
type NotificationChannel string

const (
	NotificationChannelEmail   NotificationChannel = "email"
	NotificationChannelWebhook NotificationChannel = "webhook"
	NotificationChannelSlack   NotificationChannel = "slack"
	NotificationChannelSMS     NotificationChannel = "sms"
)

// Notification is the wire representation of an alert notification as
// returned by the data store's HTTP API.
type Notification struct {
	ID            string              `json:"id"`
	RuleID        string              `json:"rule_id"`
	UserID        string              `json:"user_id"`
	TransactionID string              `json:"transaction_id,omitempty"`
	Channel       NotificationChannel `json:"channel"`
	Title         string              `json:"title"`
	Body          string              `json:"body"`
	Status        string              `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	DeliveredAt   *time.Time          `json:"delivered_at,omitempty"`
	ReadAt        *time.Time          `json:"read_at,omitempty"`
	Error         string              `json:"error,omitempty"`
}

type pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

type listNotificationsResponse struct {
	Data       []Notification `json:"data"`
	Pagination pagination     `json:"pagination"`
}

// ListNotificationsResult is the paginated result of ListNotifications.
type ListNotificationsResult struct {
	Notifications []Notification
	Total         int
	Limit         int
	Offset        int
	HasMore       bool
}

// problemDetail mirrors validation.RFC7807Problem's wire shape.
type problemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (p *problemDetail) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

// Config configures an AlertEngineClient.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxConnections int
}

// AlertEngineClient is an HTTP client for the data store's REST API.
type AlertEngineClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAlertEngineClient builds a client against cfg.BaseURL, applying
// sane defaults for timeout and connection pooling when unset.
func NewAlertEngineClient(cfg Config) *AlertEngineClient {
	httpCfg := sharedhttp.DefaultClientConfig()
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	if cfg.MaxConnections > 0 {
		httpCfg.MaxIdleConns = cfg.MaxConnections
	}

	return &AlertEngineClient{
		baseURL:    cfg.BaseURL,
		httpClient: sharedhttp.NewClient(httpCfg),
	}
}

func (c *AlertEngineClient) do(ctx context.Context, method, path string, query map[string]string) (*http.Response, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("User-Agent", "alertengine-client/1.0")
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func decodeError(resp *http.Response) error {
	var prob problemDetail
	if err := json.NewDecoder(resp.Body).Decode(&prob); err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return &prob
}

// ListNotifications returns a page of notifications matching filters.
func (c *AlertEngineClient) ListNotifications(ctx context.Context, filters map[string]string) (*ListNotificationsResult, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/notifications", filters)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var parsed listNotificationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &ListNotificationsResult{
		Notifications: parsed.Data,
		Total:         parsed.Pagination.Total,
		Limit:         parsed.Pagination.Limit,
		Offset:        parsed.Pagination.Offset,
		HasMore:       parsed.Pagination.HasMore,
	}, nil
}

// GetNotificationByID returns the notification with id, or nil if it
// does not exist.
func (c *AlertEngineClient) GetNotificationByID(ctx context.Context, id string) (*Notification, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/notifications/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var notification Notification
	if err := json.NewDecoder(resp.Body).Decode(&notification); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &notification, nil
}
