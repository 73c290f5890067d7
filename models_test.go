package accounts_test

import (
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", accounts.NormalizeEmail("  User@Example.COM "))
	assert.Equal(t, "", accounts.NormalizeEmail("   "))
}

func TestEnsureStatusBackfillsActive(t *testing.T) {
	user := &accounts.User{}
	user.EnsureStatus()
	assert.Equal(t, accounts.UserStatusActive, user.Status)

	pending := &accounts.User{Status: accounts.UserStatusPending}
	pending.EnsureStatus()
	assert.Equal(t, accounts.UserStatusPending, pending.Status)
}

func TestIsActive(t *testing.T) {
	assert.True(t, (&accounts.User{Status: accounts.UserStatusActive}).IsActive())
	assert.False(t, (&accounts.User{Status: accounts.UserStatusPending}).IsActive())
	assert.False(t, (&accounts.User{Status: accounts.UserStatusSuspended}).IsActive())
}

func TestNewActivationNotification(t *testing.T) {
	user := &accounts.User{
		ID:             uuid.New(),
		Email:          "user@example.com",
		FirstName:      "Ada",
		ActivationCode: "the-code",
	}

	n := accounts.NewActivationNotification(user)
	require.NotNil(t, n)

	assert.Equal(t, accounts.TemplateAccountActivation, n.TemplateID)
	assert.Equal(t, user.Email, n.Recipient)
	assert.Equal(t, accounts.NotificationPending, n.Status)
	assert.Equal(t, "the-code", n.Params["code"])
	assert.Equal(t, "Ada", n.Params["first_name"])
	require.NotNil(t, n.UserID)
	assert.Equal(t, user.ID, *n.UserID)
	require.NotNil(t, n.NextAttemptAt)
}

func TestNewPasswordResetNotification(t *testing.T) {
	user := &accounts.User{
		ID:             uuid.New(),
		Email:          "user@example.com",
		ActivationCode: "reset-code",
	}

	n := accounts.NewPasswordResetNotification(user)
	require.NotNil(t, n)
	assert.Equal(t, accounts.TemplatePasswordReset, n.TemplateID)
	assert.Equal(t, "reset-code", n.Params["code"])
}
