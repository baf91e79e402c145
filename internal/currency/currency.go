// Package currency normalizes monetary amounts into a single reporting
// currency. Rates come from an external provider and are cached in-process
// with a TTL; lookups degrade to the last known rate, then to 1.0, rather
// than failing a report.
package currency

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var rateLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "projectledger",
	Subsystem: "currency",
	Name:      "rate_lookups_total",
	Help:      "Exchange-rate lookups by outcome (identity, hit, fetched, stale_fallback, default_fallback).",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(rateLookups)
}

// Provider fetches an exchange rate from an external source.
type Provider interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// DefaultTTL is how long a fetched rate is considered fresh.
const DefaultTTL = 24 * time.Hour

// FetchTimeout bounds a single provider call.
const FetchTimeout = 5 * time.Second

type entry struct {
	rate      float64
	fetchedAt time.Time
}

// Cache is a process-wide TTL cache over a rate Provider.
//
// Concurrent lookups for the same uncached pair may both fetch; the second
// write overwrites the first with the same logical value, which is harmless.
// Stale entries are kept so a provider outage can fall back to the last
// known rate.
type Cache struct {
	provider Provider
	ttl      time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time // overridable in tests
}

// NewCache creates a rate cache over the given provider.
func NewCache(provider Provider, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		logger:   logger,
		entries:  make(map[string]entry),
		now:      time.Now,
	}
}

// Rate returns the conversion rate from one currency to another.
// It never fails: on provider errors it returns the last cached rate for the
// pair, or 1.0 when none exists.
func (c *Cache) Rate(ctx context.Context, from, to string) float64 {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to || from == "" || to == "" {
		rateLookups.WithLabelValues("identity").Inc()
		return 1.0
	}

	key := from + "/" + to

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Sub(cached.fetchedAt) < c.ttl {
		rateLookups.WithLabelValues("hit").Inc()
		return cached.rate
	}

	fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	rate, err := c.provider.Rate(fetchCtx, from, to)
	if err != nil {
		if ok {
			rateLookups.WithLabelValues("stale_fallback").Inc()
			c.logger.Warn("rate fetch failed, using stale rate",
				"pair", key, "age", c.now().Sub(cached.fetchedAt).String(), "error", err)
			return cached.rate
		}
		rateLookups.WithLabelValues("default_fallback").Inc()
		c.logger.Warn("rate fetch failed, no cached rate, using 1.0", "pair", key, "error", err)
		return 1.0
	}

	c.mu.Lock()
	c.entries[key] = entry{rate: rate, fetchedAt: c.now()}
	c.mu.Unlock()

	rateLookups.WithLabelValues("fetched").Inc()
	return rate
}

// Convert expresses amount (denominated in from) in the to currency.
func (c *Cache) Convert(ctx context.Context, amount float64, from, to string) float64 {
	return amount * c.Rate(ctx, from, to)
}
