// Package email sends notification mail via SMTP. The SMTP settings are
// read through a ConfigSource (system_settings rows with environment
// fallbacks) and cached for a short TTL; saving settings invalidates
// the cache explicitly.
package email

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

func (c Config) valid() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

// ConfigSource loads the current SMTP configuration.
type ConfigSource func(ctx context.Context) (Config, error)

type Service struct {
	source ConfigSource
	ttl    time.Duration

	mu       sync.Mutex
	cached   Config
	loadedAt time.Time
}

func NewService(source ConfigSource) *Service {
	return &Service{source: source, ttl: 60 * time.Second}
}

// NewStaticService wraps a fixed config; used in tests and when no
// settings store is wired.
func NewStaticService(config Config) *Service {
	return NewService(func(context.Context) (Config, error) { return config, nil })
}

func (s *Service) config(ctx context.Context) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loadedAt.IsZero() && time.Since(s.loadedAt) < s.ttl {
		return s.cached, nil
	}
	cfg, err := s.source(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("load email config: %w", err)
	}
	s.cached = cfg
	s.loadedAt = time.Now()
	return cfg, nil
}

// Invalidate drops the cached config; called after settings are saved.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadedAt = time.Time{}
}

func (s *Service) IsConfigured(ctx context.Context) bool {
	cfg, err := s.config(ctx)
	if err != nil {
		return false
	}
	return cfg.valid()
}

func (s *Service) SendEmail(ctx context.Context, to []string, subject, body string) error {
	cfg, err := s.config(ctx)
	if err != nil {
		return err
	}
	if !cfg.valid() {
		return fmt.Errorf("email not configured")
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		formatFrom(cfg),
		subject,
		body,
	))

	return smtp.SendMail(cfg.Host+":"+cfg.Port, plainAuth(cfg), cfg.From, to, msg)
}

func (s *Service) SendHTMLEmail(ctx context.Context, to []string, subject, htmlBody string) error {
	cfg, err := s.config(ctx)
	if err != nil {
		return err
	}
	if !cfg.valid() {
		return fmt.Errorf("email not configured")
	}

	boundary := "boundary-docuflow"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", formatFrom(cfg))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(cfg.Host+":"+cfg.Port, plainAuth(cfg), cfg.From, to, msg.Bytes())
}

func formatFrom(cfg Config) string {
	if cfg.FromName != "" {
		return fmt.Sprintf("%s <%s>", cfg.FromName, cfg.From)
	}
	return cfg.From
}

func plainAuth(cfg Config) smtp.Auth {
	if cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
}
