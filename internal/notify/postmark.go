// Package notify delivers best-effort email notifications through Postmark.
// Delivery failures are retried briefly and then logged; they never fail the
// operation that triggered them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbialek/projectledger/internal/retry"
	"github.com/mbialek/projectledger/internal/security"
)

// Notifier is the side-effect collaborator of the billing engine.
type Notifier interface {
	NotifyPastDue(ctx context.Context, email, name, invoiceURL string) error
}

var _ Notifier = (*Mailer)(nil)

// Mailer sends transactional email via the Postmark API.
type Mailer struct {
	token      string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithHTTPClient overrides the HTTP client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(m *Mailer) { m.httpClient = c }
}

// NewMailer creates a Postmark mailer. An empty token produces a mailer that
// logs and skips instead of sending.
func NewMailer(token, from, baseURL string, logger *slog.Logger, opts ...Option) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mailer{
		token:      token,
		from:       from,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configured returns true if the server token is set.
func (m *Mailer) Configured() bool {
	return m.token != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	TextBody string `json:"TextBody"`
	HtmlBody string `json:"HtmlBody"`
}

// NotifyPastDue emails the tenant's administrative contact about a failed
// payment. Transient failures are retried with backoff.
func (m *Mailer) NotifyPastDue(ctx context.Context, email, name, invoiceURL string) error {
	if !m.Configured() {
		m.logger.Info("mailer not configured, skipping past-due notification", "email", email)
		return nil
	}

	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	textBody := fmt.Sprintf(
		"%s,\n\nWe could not collect your latest subscription payment. "+
			"Please update your payment method to keep your account active.",
		greeting,
	)
	htmlBody := fmt.Sprintf(
		`<p>%s,</p><p>We could not collect your latest subscription payment. `+
			`Please update your payment method to keep your account active.</p>`,
		greeting,
	)
	// The invoice URL originates in an inbound webhook payload; a link that
	// points at internal address space is dropped rather than mailed out.
	if invoiceURL != "" {
		if err := security.ValidateEndpointURL(invoiceURL); err != nil {
			m.logger.Warn("dropping unsafe invoice URL from notification", "error", err)
		} else {
			textBody += "\n\nInvoice: " + invoiceURL
			htmlBody += fmt.Sprintf(`<p><a href="%s">View invoice</a></p>`, invoiceURL)
		}
	}

	msg := postmarkEmail{
		From:     m.from,
		To:       email,
		Subject:  "Action required: your subscription payment failed",
		TextBody: textBody,
		HtmlBody: htmlBody,
	}

	return retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return m.send(ctx, msg)
	})
}

func (m *Mailer) send(ctx context.Context, msg postmarkEmail) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal email: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", m.token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors will not heal on retry.
		return retry.Permanent(fmt.Errorf("postmark API error: status %d", resp.StatusCode))
	}
	return nil
}
