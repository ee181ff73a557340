package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/smallbiznis/consultly/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSweepReport(t *testing.T) {
	subject, body, err := Render(TemplateSweepReport, map[string]any{
		"Tool":      "settlement-sweeper",
		"Processed": 3,
		"Failed":    1,
		"RunID":     "run-1",
		"Failures": []map[string]any{
			{"SettlementID": 7, "ConsultationID": 9, "ChargeID": "ch_7", "Error": "capture failed"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "[settlement-sweeper] settlement run report", subject)
	assert.True(t, strings.HasPrefix(body, "3 were processed, 1 were failed"))
	assert.Contains(t, body, "settlement_id=7 consultation_id=9 charge_id=ch_7 ")
	assert.Contains(t, body, "error=capture failed")
	assert.Contains(t, body, "run_id=run-1")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, _, err := Render("missing", nil)
	assert.Error(t, err)
}

func TestSMTPSendBuildsPlainTextMessage(t *testing.T) {
	provider := NewSMTP(Config{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"})

	var gotAddr string
	var gotTo []string
	var gotMsg string
	provider.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotMsg = string(msg)
		assert.Nil(t, a)
		assert.Equal(t, "noreply@example.com", from)
		return nil
	}

	err := provider.Send(context.Background(), []string{"ops@example.com"}, "hello", "line1\nline2")
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: hello\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/plain")
	assert.True(t, strings.HasSuffix(gotMsg, "line1\r\nline2"))
}

func TestSMTPSendRequiresRecipient(t *testing.T) {
	provider := NewSMTP(Config{Host: "smtp.example.com", Port: 25})
	assert.Error(t, provider.Send(context.Background(), nil, "s", "b"))
}

func TestNewFromConfigWithoutHostIsNoOp(t *testing.T) {
	_, ok := NewFromConfig(config.Config{}).(*NoOpProvider)
	assert.True(t, ok)

	_, ok = NewFromConfig(config.Config{Email: config.EmailConfig{SMTPHost: "smtp"}}).(*SMTPProvider)
	assert.True(t, ok)
}
