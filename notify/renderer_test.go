package notify_test

import (
	"strings"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderActivationEmail(t *testing.T) {
	renderer := notify.NewRenderer("https://shop.example.com/")

	msg, err := renderer.Render(&accounts.Notification{
		Recipient:  "peter@example.com",
		TemplateID: accounts.TemplateAccountActivation,
		Params: map[string]string{
			"code":       "abc123",
			"first_name": "Peter",
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "peter@example.com", msg.To)
	assert.Equal(t, "Activate your account", msg.Subject)
	assert.Contains(t, msg.Body, "Peter")
	assert.Contains(t, msg.Body, "https://shop.example.com/activate?code=abc123")
}

func TestRenderPasswordResetEmail(t *testing.T) {
	renderer := notify.NewRenderer("https://shop.example.com")

	msg, err := renderer.Render(&accounts.Notification{
		Recipient:  "peter@example.com",
		TemplateID: accounts.TemplatePasswordReset,
		Params: map[string]string{
			"code": "xyz789",
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Reset your password", msg.Subject)
	assert.Contains(t, msg.Body, "https://shop.example.com/reset-password/confirm?code=xyz789")
}

func TestRenderFallsBackWhenFirstNameMissing(t *testing.T) {
	renderer := notify.NewRenderer("https://shop.example.com")

	msg, err := renderer.Render(&accounts.Notification{
		Recipient:  "peter@example.com",
		TemplateID: accounts.TemplateAccountActivation,
		Params:     map[string]string{"code": "abc123"},
	})

	require.NoError(t, err)
	assert.Contains(t, msg.Body, "there")
}

func TestRenderUnknownTemplate(t *testing.T) {
	renderer := notify.NewRenderer("https://shop.example.com")

	_, err := renderer.Render(&accounts.Notification{
		Recipient:  "peter@example.com",
		TemplateID: "marketing.blast",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown notification template")
}

func TestRegisterReplacesTemplate(t *testing.T) {
	renderer := notify.NewRenderer("https://shop.example.com")

	err := renderer.Register(accounts.TemplateAccountActivation, "Welcome aboard", "Use {{.code}} to get going.")
	require.NoError(t, err)

	msg, err := renderer.Render(&accounts.Notification{
		Recipient:  "peter@example.com",
		TemplateID: accounts.TemplateAccountActivation,
		Params:     map[string]string{"code": "abc123"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Welcome aboard", msg.Subject)
	assert.Equal(t, "Use abc123 to get going.", strings.TrimSpace(msg.Body))
}

func TestRegisterRejectsBadTemplate(t *testing.T) {
	renderer := notify.NewRenderer("https://shop.example.com")

	err := renderer.Register("custom", "Subject", "{{.unclosed")
	require.Error(t, err)
}
