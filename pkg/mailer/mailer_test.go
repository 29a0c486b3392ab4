package mailer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/noah-isme/atb-stewardship-api/pkg/config"
)

func TestBuildMessage(t *testing.T) {
	m, err := buildMessage("ccih@hospital.example", Message{
		To:          []string{"farmacia@hospital.example"},
		Subject:     "Relatório mensal 2024-02",
		Body:        "segue anexo",
		Attachments: []Attachment{{Name: "report.pdf", Data: []byte("%PDF-1.3")}},
	})
	require.NoError(t, err)

	rcpts, err := m.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"farmacia@hospital.example"}, rcpts)
	assert.Equal(t, []string{"Relatório mensal 2024-02"}, m.GetGenHeader(mail.HeaderSubject))
	require.Len(t, m.GetAttachments(), 1)
	assert.Equal(t, "report.pdf", m.GetAttachments()[0].Name)
}

func TestBuildMessageRequiresRecipient(t *testing.T) {
	_, err := buildMessage("ccih@hospital.example", Message{Subject: "x"})
	assert.Error(t, err)
}

func TestBuildMessageRejectsBadAddress(t *testing.T) {
	_, err := buildMessage("ccih@hospital.example", Message{To: []string{"not an address"}})
	assert.Error(t, err)
}

func TestNewSMTPSenderRequiresHost(t *testing.T) {
	_, err := NewSMTPSender(config.MailConfig{Port: 587}, nil)
	assert.Error(t, err)

	sender, err := NewSMTPSender(config.MailConfig{Host: "smtp.example.com", Port: 587, Username: "bot", Password: "secret", DialTimeout: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, "bot", sender.from)
}

func TestLogSender(t *testing.T) {
	sender := NewLogSender(nil)
	assert.NoError(t, sender.Send(context.Background(), Message{To: []string{"a@b.c"}}))
	assert.Error(t, sender.Send(context.Background(), Message{}))
}
