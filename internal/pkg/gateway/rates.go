package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/cache"
	"github.com/diego-mascarenhas/stripe-sub000/internal/pkg/env"
)

const defaultRatesAPIBaseURL = "https://open.er-api.com/v6/latest"

const ratesCacheTTL = 12 * time.Hour

// RatesClient fetches fiat conversion rates, with a Redis cache in front so
// sync passes do not hammer the provider.
type RatesClient struct {
	APIBaseURL string
	HTTPClient *http.Client
}

// NewRatesClientFromEnv builds a client from RATES_API_URL.
func NewRatesClientFromEnv() *RatesClient {
	return &RatesClient{
		APIBaseURL: strings.TrimRight(env.GetEnv("RATES_API_URL", defaultRatesAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Rate returns how many units of quote currency one unit of base buys,
// serving from cache when fresh.
func (c *RatesClient) Rate(ctx context.Context, base, quote string) (float64, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == quote {
		return 1, nil
	}

	cacheKey := fmt.Sprintf("rates:%s:%s", base, quote)
	if cached, err := cache.Get(cacheKey); err == nil {
		if rate, err := strconv.ParseFloat(cached, 64); err == nil {
			return rate, nil
		}
	}

	rate, err := c.fetch(ctx, base, quote)
	if err != nil {
		return 0, err
	}
	// A failed cache write is tolerable; the rate itself is valid.
	_ = cache.Set(cacheKey, strconv.FormatFloat(rate, 'f', -1, 64), ratesCacheTTL)
	return rate, nil
}

func (c *RatesClient) fetch(ctx context.Context, base, quote string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/"+base, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("rates request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		Result string             `json:"result"`
		Rates  map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, err
	}
	if out.Result != "success" {
		return 0, fmt.Errorf("rates provider returned result=%q", out.Result)
	}
	rate, ok := out.Rates[quote]
	if !ok || rate == 0 {
		return 0, errors.New("rates provider has no rate for " + quote)
	}
	return rate, nil
}
