/*
This file contains the HTTP client shared by every fetch: JSON GET requests with bounded
retries and a linear backoff that stops as soon as the context is cancelled.
*/

package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/eggfarm/tvl/internal/logger"
)

var apiLogger = logger.GetForComponent("api_client")

const (
	MaxRetries        = 3
	DefaultRetryDelay = time.Second
	maxBodyBytes      = 8 << 20
)

// Client is the HTTP implementation of Fetcher.
type Client struct {
	farmAPI    string
	priceAPI   string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	priceCache *cache.Cache
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	FarmAPI       string        // Base URL of the farm/pool service
	PriceAPI      string        // Token price endpoint
	Timeout       time.Duration // Per request
	PriceCacheTTL time.Duration // Zero disables price caching
	RetryDelay    time.Duration // Backoff unit; attempt n waits n × RetryDelay
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.FarmAPI) == "" {
		return nil, fmt.Errorf("%w: farm API URL is empty", ErrAPIConfiguration)
	}
	if strings.TrimSpace(cfg.PriceAPI) == "" {
		return nil, fmt.Errorf("%w: price API URL is empty", ErrAPIConfiguration)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrAPIConfiguration)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	c := &Client{
		farmAPI:    strings.TrimRight(cfg.FarmAPI, "/"),
		priceAPI:   cfg.PriceAPI,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
	if cfg.PriceCacheTTL > 0 {
		c.priceCache = cache.New(cfg.PriceCacheTTL, 2*cfg.PriceCacheTTL)
	}
	return c, nil
}

// getJSON GETs url and decodes the body into out, retrying transport and status errors.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		apiLogger.Debug().
			Str("url", url).
			Int("attempt", attempt).
			Int("maxRetries", c.maxRetries).
			Msg("Making API request")

		lastErr = c.doGet(ctx, url, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		apiLogger.Warn().
			Err(lastErr).
			Str("url", url).
			Int("attempt", attempt).
			Msg("API request failed, will retry if attempts remain")

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}
	}

	return fmt.Errorf("GET %s failed after %d attempts: %w", url, c.maxRetries, lastErr)
}

func (c *Client) doGet(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAPIConfiguration, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrAPIStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: empty response body", ErrInvalidResponse)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}
