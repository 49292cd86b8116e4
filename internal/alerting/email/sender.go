// Package email delivers alerts over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/triage-garden/internal/alerting"
)

// Config holds email sender configuration.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// Sender delivers alerts to a fixed recipient list via SMTP.
type Sender struct {
	config Config
	auth   smtp.Auth
}

// NewSender creates a new email sender.
func NewSender(config Config) (*Sender, error) {
	if config.Host == "" {
		return nil, errors.New("email sender: SMTP host is required")
	}
	if config.From == "" {
		return nil, errors.New("email sender: from address is required")
	}
	if len(config.To) == 0 {
		return nil, errors.New("email sender: at least one recipient is required")
	}

	if config.Port == 0 {
		config.Port = 587
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	var auth smtp.Auth
	if config.Username != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Sender{config: config, auth: auth}, nil
}

// Name returns the sender name.
func (s *Sender) Name() string {
	return "email"
}

// Send mails the alert to every configured recipient.
func (s *Sender) Send(ctx context.Context, n alerting.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.send(ctx, s.buildMessage(n.Subject, n.Body)); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Sender) buildMessage(subject, body string) []byte {
	var msg strings.Builder

	msg.WriteString("From: " + s.config.From + "\r\n")
	msg.WriteString("To: " + strings.Join(s.config.To, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}

func (s *Sender) send(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: s.config.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractAddress(s.config.From)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range s.config.To {
		if err := client.Rcpt(extractAddress(rcpt)); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractAddress returns the address from forms like "Name <soc@example.com>".
func extractAddress(address string) string {
	if start := strings.Index(address, "<"); start != -1 {
		if end := strings.Index(address, ">"); end > start {
			return address[start+1 : end]
		}
	}
	return address
}

// classify marks SMTP transient replies and network failures as retryable.
func classify(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return alerting.NewRetryableError(err)
		}
		return alerting.NewNonRetryableError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return alerting.NewRetryableError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return alerting.NewRetryableError(err)
	}

	return alerting.NewNonRetryableError(err)
}
