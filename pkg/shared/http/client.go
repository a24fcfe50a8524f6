// Package http builds preconfigured *http.Client instances for outbound
// callers, with per-caller presets for Slack, webhook, Prometheus and
// LLM traffic. In this module only the data-storage client uses it.
package http

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig tunes the transport beneath a constructed *http.Client.
// MaxRetries is carried for callers; NewClient does not apply it, and
// the returned client never retries.
type ClientConfig struct {
	Timeout                 time.Duration
	MaxRetries              int
	DisableSSLVerification  bool
	MaxIdleConns            int
	IdleConnTimeout         time.Duration
	TLSHandshakeTimeout     time.Duration
	ResponseHeaderTimeout   time.Duration
}

// DefaultClientConfig is a conservative baseline for general-purpose
// outbound calls.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:                30 * time.Second,
		MaxRetries:             3,
		DisableSSLVerification: false,
		MaxIdleConns:           10,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  10 * time.Second,
	}
}

// NewClient builds an *http.Client from config.
func NewClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          config.MaxIdleConns,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}
	if config.DisableSSLVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}

// NewClientWithTimeout builds a client with the default config but a
// caller-chosen timeout.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	config := DefaultClientConfig()
	config.Timeout = timeout
	return NewClient(config)
}

// NewDefaultClient builds a client from DefaultClientConfig.
func NewDefaultClient() *http.Client {
	return NewClient(DefaultClientConfig())
}

// SlackClientConfig tunes the client used by the Slack notification
// adapter: short timeout since Slack's webhook endpoint is expected to
// respond quickly, fewer retries since the dispatcher applies its own
// backoff across delivery attempts.
func SlackClientConfig() ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = 10 * time.Second
	config.MaxRetries = 2
	return config
}

// PrometheusClientConfig tunes the client used to scrape or push
// metrics, deriving a response-header timeout proportional to the
// overall timeout.
func PrometheusClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = timeout / 2
	return config
}

// LLMClientConfig tunes the client used by the rule-intent LLM
// provider, allowing a longer response-header timeout since generation
// latency dominates the round trip.
func LLMClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = timeout / 3
	return config
}

// WebhookClientConfig tunes the client used by the webhook notification
// adapter: moderate timeout, retries handled by the dispatcher's own
// backoff so MaxRetries here stays low to avoid compounding delay.
func WebhookClientConfig() ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = 15 * time.Second
	config.MaxRetries = 1
	return config
}
