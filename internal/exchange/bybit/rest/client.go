package rest

import (
	"net/http"
	"time"

	"intentbot/internal/logger"

	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Secret      string
	AccountType string
	Category    string
	SettleCoin  string
	RateLimit   float64
	RateBurst   int
	Timeout     time.Duration
}

func New(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		accountType: cfg.AccountType,
		category:    cfg.Category,
		settleCoin:  cfg.SettleCoin,
		apiKey:      cfg.APIKey,
		secret:      cfg.Secret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		log:        log,
	}
}

func (c *Client) Category() string {
	return c.category
}

func (c *Client) SettleCoin() string {
	return c.settleCoin
}
