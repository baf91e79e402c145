package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mbialek/projectledger/internal/retry"
)

// HTTPProvider fetches rates from a Frankfurter-compatible API
// (GET /latest?from=EUR&to=PLN).
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given base URL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: FetchTimeout},
	}
}

type latestResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Rate fetches the conversion rate for a single currency pair. Transient
// provider failures are retried with backoff; 4xx responses are not.
func (p *HTTPProvider) Rate(ctx context.Context, from, to string) (float64, error) {
	u := fmt.Sprintf("%s/latest?from=%s&to=%s", p.baseURL, url.QueryEscape(from), url.QueryEscape(to))

	var rate float64
	err := retry.Do(ctx, 3, 250*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("currency: build request: %w", err))
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("currency: fetch rate %s/%s: %w", from, to, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("currency: rate provider returned status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}

		var body latestResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("currency: decode response: %w", err)
		}

		r, ok := body.Rates[to]
		if !ok {
			return retry.Permanent(fmt.Errorf("currency: provider response missing rate for %s", to))
		}
		rate = r
		return nil
	})
	return rate, err
}
