// Package mailer delivers account emails. The transport is picked by
// configuration: real SMTP, a durable broker queue consumed by a separate
// sender, or log-only for development.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"announceit/internal/config"
	"announceit/internal/models"
	"announceit/internal/rabbitmq"

	"gopkg.in/gomail.v2"
)

const (
	ModeSMTP  = "smtp"
	ModeLog   = "log"
	ModeQueue = "queue"
)

// Sender delivers a single email message.
type Sender interface {
	Send(ctx context.Context, msg models.EmailMessage) error
}

// New builds the Sender for the configured mode.
func New(log *slog.Logger, cfg config.Email) (Sender, func(), error) {
	const op = "mailer.New"

	switch cfg.Mode {
	case ModeSMTP:
		return &smtpSender{cfg: cfg}, func() {}, nil
	case ModeLog:
		return &logSender{log: log}, func() {}, nil
	case ModeQueue:
		client, err := rabbitmq.New(cfg.QueueURL, cfg.QueueName)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return &queueSender{client: client}, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%s: unknown email mode %q", op, cfg.Mode)
	}
}

type smtpSender struct {
	cfg config.Email
}

func (s *smtpSender) Send(_ context.Context, msg models.EmailMessage) error {
	const op = "mailer.smtp.Send"

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.Sender, s.cfg.SenderName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	// Port 465 means implicit TLS; gomail switches to it automatically and
	// uses STARTTLS otherwise.
	dialer := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)

	if err := dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

type logSender struct {
	log *slog.Logger
}

func (s *logSender) Send(_ context.Context, msg models.EmailMessage) error {
	s.log.Info("email would have been sent",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
	)
	return nil
}

type queueSender struct {
	client *rabbitmq.Client
}

func (s *queueSender) Send(ctx context.Context, msg models.EmailMessage) error {
	return s.client.Publish(ctx, msg)
}
