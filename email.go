package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Message subject keys passed to a Mailer. Implementations resolve them to
// localized text.
const (
	SubjectPasswordReset     = "email.passwordReset.subject"
	SubjectEmailVerification = "email.verification.subject"
)

// Mailer delivers templated messages. args carries "link" and "ttlMinutes"
// for single-use token messages.
type Mailer interface {
	Send(ctx context.Context, to, subjectKey string, args map[string]any, locale string) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, to, subjectKey string, args map[string]any, locale string) error

func (f MailerFunc) Send(ctx context.Context, to, subjectKey string, args map[string]any, locale string) error {
	return f(ctx, to, subjectKey, args, locale)
}

// ConsoleMailer is a development Mailer that logs messages instead of
// sending them. Logged messages include live reset and verification links,
// so it must not serve real users.
type ConsoleMailer struct {
	Logger *slog.Logger
}

func (c *ConsoleMailer) Send(ctx context.Context, to, subjectKey string, args map[string]any, locale string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("to", to),
		slog.String("subject", subjectKey),
		slog.String("locale", locale),
	}
	if link, ok := args["link"].(string); ok {
		attrs = append(attrs, slog.String("link", link))
	}
	if ttl, ok := args["ttlMinutes"]; ok {
		attrs = append(attrs, slog.Any("ttl_minutes", ttl))
	}
	logger.InfoContext(ctx, "email", attrs...)
	return nil
}

// WebhookMessage is the JSON body WebhookMailer posts.
type WebhookMessage struct {
	To         string         `json:"to"`
	SubjectKey string         `json:"subject_key"`
	Args       map[string]any `json:"args"`
	Locale     string         `json:"locale"`
}

// WebhookMailer hands messages to a delivery service by POSTing a
// WebhookMessage to URL. Any non-2xx response is an error.
type WebhookMailer struct {
	URL    string
	Client *http.Client
}

func (m *WebhookMailer) Send(ctx context.Context, to, subjectKey string, args map[string]any, locale string) error {
	body, err := json.Marshal(WebhookMessage{To: to, SubjectKey: subjectKey, Args: args, Locale: locale})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mail webhook failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mail webhook returned %s", resp.Status)
	}
	return nil
}
