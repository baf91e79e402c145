package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyPastDueSendsEmail(t *testing.T) {
	var got postmarkEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Postmark-Server-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMailer("test-token", "billing@projectledger.dev", srv.URL, nil)
	err := m.NotifyPastDue(context.Background(), "admin@acme.example", "Jane", "https://203.0.113.10/inv_1")
	require.NoError(t, err)

	assert.Equal(t, "admin@acme.example", got.To)
	assert.Equal(t, "billing@projectledger.dev", got.From)
	assert.Contains(t, got.TextBody, "Hello Jane")
	assert.Contains(t, got.TextBody, "https://203.0.113.10/inv_1")
	assert.Contains(t, got.Subject, "payment failed")
}

func TestNotifyPastDueRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMailer("test-token", "billing@projectledger.dev", srv.URL, nil)
	err := m.NotifyPastDue(context.Background(), "admin@acme.example", "", "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifyPastDueDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	m := NewMailer("test-token", "billing@projectledger.dev", srv.URL, nil)
	err := m.NotifyPastDue(context.Background(), "admin@acme.example", "", "")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNotifyPastDueSkipsWhenUnconfigured(t *testing.T) {
	m := NewMailer("", "billing@projectledger.dev", "http://unused.invalid", nil)
	assert.False(t, m.Configured())
	assert.NoError(t, m.NotifyPastDue(context.Background(), "admin@acme.example", "", ""))
}

func TestNotifyPastDueDropsInternalInvoiceURL(t *testing.T) {
	var got postmarkEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMailer("test-token", "billing@projectledger.dev", srv.URL, nil)
	err := m.NotifyPastDue(context.Background(), "admin@acme.example", "Jane", "http://169.254.169.254/latest")
	require.NoError(t, err)

	// The email still goes out, just without the link.
	assert.Equal(t, "admin@acme.example", got.To)
	assert.NotContains(t, got.TextBody, "169.254.169.254")
}
