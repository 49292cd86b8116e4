// Package mattermost delivers alerts to a Mattermost channel via an Incoming Webhook.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/triage-garden/internal/alerting"
	"github.com/bissquit/triage-garden/internal/domain"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "TriageGarden"
	senderName      = "mattermost"
)

var severityColors = map[domain.DiscrepancySeverity]string{
	domain.DiscrepancySeverityCritical: "#d24b4e",
	domain.DiscrepancySeverityWarning:  "#ffbc1f",
}

// Config holds Mattermost sender configuration.
type Config struct {
	WebhookURL string
	Username   string
	IconURL    string
	Channel    string // overrides the webhook's default channel when set
	Timeout    time.Duration
}

// Sender posts alerts to a Mattermost Incoming Webhook.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new Mattermost sender.
func NewSender(config Config) *Sender {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the sender name.
func (s *Sender) Name() string {
	return senderName
}

// Send posts a notification as a message attachment coloured by severity.
func (s *Sender) Send(ctx context.Context, n alerting.Notification) error {
	if s.config.WebhookURL == "" {
		return &PermanentError{Message: "webhook URL is empty"}
	}

	payload := webhookPayload{
		Username: s.config.Username,
		IconURL:  s.config.IconURL,
		Channel:  s.config.Channel,
		Attachments: []attachment{{
			Fallback: n.Subject,
			Color:    severityColors[n.Severity],
			Title:    n.Subject,
			Text:     n.Body,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

type webhookPayload struct {
	Username    string       `json:"username,omitempty"`
	IconURL     string       `json:"icon_url,omitempty"`
	Channel     string       `json:"channel,omitempty"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Fallback string `json:"fallback"`
	Color    string `json:"color,omitempty"`
	Title    string `json:"title"`
	Text     string `json:"text"`
}

func (s *Sender) handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		slog.Debug("mattermost alert posted", "webhook", maskWebhookURL(s.config.WebhookURL))
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{Code: resp.StatusCode, Message: "rate limited"}
	case resp.StatusCode >= 500:
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", body)}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &PermanentError{Code: resp.StatusCode, Message: "invalid or expired webhook"}
	case resp.StatusCode == http.StatusNotFound:
		return &PermanentError{Code: resp.StatusCode, Message: "webhook not found"}
	default:
		return &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("rejected: %s", body)}
	}
}

// maskWebhookURL hides the webhook key for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-6:]
	}
	return url
}

// PermanentError indicates a failure that retrying will not fix.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("mattermost error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("mattermost error: %s", e.Message)
}

// IsRetryable returns false.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("mattermost error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("mattermost error: %s", e.Message)
}

// IsRetryable returns true.
func (e *RetryableError) IsRetryable() bool { return true }
