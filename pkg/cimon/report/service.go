package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Service renders digests and hands them to a mailer.
type Service struct {
	mailer    Mailer
	fromName  string
	fromEmail string
	to        []string
	log       *zap.Logger
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Mailer    Mailer
	FromName  string
	FromEmail string
	To        []string
	Logger    *zap.Logger
}

// NewService builds a report service.
func NewService(cfg ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		mailer:    cfg.Mailer,
		fromName:  cfg.FromName,
		fromEmail: cfg.FromEmail,
		to:        cfg.To,
		log:       log,
	}
}

// Report renders the digest and sends it.
func (s *Service) Report(ctx context.Context, d Digest) error {
	if s.mailer == nil {
		return fmt.Errorf("report: no mailer configured")
	}

	r, err := Render(d)
	if err != nil {
		return err
	}

	msg := Message{
		FromName:  s.fromName,
		FromEmail: s.fromEmail,
		To:        s.to,
		Subject:   r.Subject,
		HTML:      r.HTML,
		Text:      r.Text,
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	s.log.Info("digest sent",
		zap.String("subject", r.Subject),
		zap.Int("signals", len(d.Signals)),
		zap.Strings("to", s.to))
	return nil
}
