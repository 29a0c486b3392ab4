package mailer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/pkg/config"
)

// Attachment is a file carried by a message.
type Attachment struct {
	Name string
	Data []byte
}

// Message is an outbound plain-text email.
type Message struct {
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	client *mail.Client
	from   string
	logger *zap.Logger
}

// NewSMTPSender builds a client from configuration. No connection is opened until Send.
func NewSMTPSender(cfg config.MailConfig, logger *zap.Logger) (*SMTPSender, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host required")
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.DialTimeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.UseSSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPSender{client: client, from: from, logger: logger}, nil
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := buildMessage(s.from, msg)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	s.logger.Info("mail sent", zap.Strings("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

func buildMessage(from string, msg Message) (*mail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("mail recipient required")
	}
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	for _, att := range msg.Attachments {
		if err := m.AttachReader(att.Name, bytes.NewReader(att.Data)); err != nil {
			return nil, fmt.Errorf("attach %s: %w", att.Name, err)
		}
	}
	return m, nil
}

// LogSender records messages without delivering them. Used when mail is disabled.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (l *LogSender) Send(_ context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("mail recipient required")
	}
	l.logger.Info("mail delivery disabled, message dropped",
		zap.Strings("to", msg.To), zap.String("subject", msg.Subject), zap.Int("attachments", len(msg.Attachments)))
	return nil
}
