package currency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	rate  float64
	err   error
	calls atomic.Int64
}

func (f *fakeProvider) Rate(_ context.Context, _, _ string) (float64, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return f.rate, nil
}

func TestIdentityConversionSkipsProvider(t *testing.T) {
	p := &fakeProvider{rate: 4.2}
	c := NewCache(p, time.Hour, nil)

	assert.Equal(t, 1.0, c.Rate(context.Background(), "PLN", "PLN"))
	assert.Equal(t, 1.0, c.Rate(context.Background(), "pln", "PLN"))
	assert.Equal(t, int64(0), p.calls.Load())
}

func TestFreshEntryServedFromCache(t *testing.T) {
	p := &fakeProvider{rate: 4.2}
	c := NewCache(p, time.Hour, nil)

	ctx := context.Background()
	assert.Equal(t, 4.2, c.Rate(ctx, "EUR", "PLN"))
	assert.Equal(t, 4.2, c.Rate(ctx, "EUR", "PLN"))
	assert.Equal(t, int64(1), p.calls.Load(), "second lookup must hit the cache")
}

func TestExpiredEntryRefetched(t *testing.T) {
	p := &fakeProvider{rate: 4.2}
	c := NewCache(p, time.Hour, nil)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	ctx := context.Background()
	c.Rate(ctx, "EUR", "PLN")

	clock = clock.Add(2 * time.Hour)
	p.rate = 4.5
	assert.Equal(t, 4.5, c.Rate(ctx, "EUR", "PLN"))
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestStaleFallbackOnProviderError(t *testing.T) {
	p := &fakeProvider{rate: 4.2}
	c := NewCache(p, time.Hour, nil)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	ctx := context.Background()
	require.Equal(t, 4.2, c.Rate(ctx, "EUR", "PLN"))

	// Entry expires, provider goes down: the stale rate is still better
	// than breaking a report.
	clock = clock.Add(48 * time.Hour)
	p.err = errors.New("provider unreachable")
	assert.Equal(t, 4.2, c.Rate(ctx, "EUR", "PLN"))
}

func TestDefaultFallbackWithoutCache(t *testing.T) {
	p := &fakeProvider{err: errors.New("provider unreachable")}
	c := NewCache(p, time.Hour, nil)

	assert.Equal(t, 1.0, c.Rate(context.Background(), "USD", "PLN"))
}

func TestConvert(t *testing.T) {
	p := &fakeProvider{rate: 4.0}
	c := NewCache(p, time.Hour, nil)

	assert.InDelta(t, 84.0, c.Convert(context.Background(), 21.0, "EUR", "PLN"), 1e-9)
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EUR", r.URL.Query().Get("from"))
		assert.Equal(t, "PLN", r.URL.Query().Get("to"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"EUR","rates":{"PLN":4.31}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	rate, err := p.Rate(context.Background(), "EUR", "PLN")
	require.NoError(t, err)
	assert.Equal(t, 4.31, rate)
}

func TestHTTPProviderRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"base":"EUR","rates":{"PLN":4.31}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	rate, err := p.Rate(context.Background(), "EUR", "PLN")
	require.NoError(t, err)
	assert.Equal(t, 4.31, rate)
	assert.Equal(t, 3, calls)
}

func TestHTTPProviderErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	_, err := p.Rate(context.Background(), "EUR", "PLN")
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "client errors should not be retried")

	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"base":"EUR","rates":{}}`))
	}))
	defer missing.Close()

	p = NewHTTPProvider(missing.URL)
	_, err = p.Rate(context.Background(), "EUR", "PLN")
	assert.Error(t, err)
}
