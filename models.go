package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleCustomer is the default storefront role
	RoleCustomer UserRole = "customer"
	// RoleStaff can manage catalog and orders
	RoleStaff UserRole = "staff"
	// RoleAdmin is an admin role
	RoleAdmin UserRole = "admin"
)

// UserStatus tracks where an account is in its lifecycle.
type UserStatus = string

const (
	// UserStatusPending accounts have registered but not confirmed their
	// activation code yet.
	UserStatusPending UserStatus = "pending"
	// UserStatusActive accounts can log in.
	UserStatusActive UserStatus = "active"
	// UserStatusSuspended accounts are administratively blocked.
	UserStatusSuspended UserStatus = "suspended"
)

// User is the account model. ActivationCode is non-empty exactly while an
// activation or password reset flow is in flight; consuming the code clears it.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	FirstName      string     `bun:"first_name" json:"first_name,omitempty"`
	LastName       string     `bun:"last_name" json:"last_name,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone          string     `bun:"phone_number,nullzero,unique" json:"phone_number,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	Status         UserStatus `bun:"status,notnull" json:"status,omitempty"`
	ActivationCode string     `bun:"activation_code,nullzero" json:"-"`
	CodeIssuedAt   *time.Time `bun:"code_issued_at,nullzero" json:"-"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	SuspendedAt    *time.Time `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus backfills the zero value for rows created before the status
// column existed.
func (u *User) EnsureStatus() {
	if u.Status == "" {
		u.Status = UserStatusActive
	}
}

// IsActive reports whether the account completed activation.
func (u *User) IsActive() bool {
	u.EnsureStatus()
	return u.Status == UserStatusActive
}

// NormalizeEmail lowercases and trims an email identifier. Accounts are
// unique on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NotificationStatus tracks delivery state of an outbox row.
type NotificationStatus = string

const (
	// NotificationPending rows are waiting for a worker to claim them.
	NotificationPending NotificationStatus = "pending"
	// NotificationDelivered rows were accepted by the transport.
	NotificationDelivered NotificationStatus = "delivered"
	// NotificationFailed rows exhausted their attempt budget.
	NotificationFailed NotificationStatus = "failed"
)

// Notification template identifiers.
const (
	TemplateAccountActivation = "account.activation"
	TemplatePasswordReset     = "account.password_reset"
)

// Notification is the outbox row for an outbound message. It is written in
// the same transaction as the account mutation that requires it, so a crash
// after commit can never drop the intent to notify.
type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:ntf"`
	ID            uuid.UUID          `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        *uuid.UUID         `bun:"user_id,nullzero" json:"user_id,omitempty"`
	Recipient     string             `bun:"recipient,notnull" json:"recipient,omitempty"`
	TemplateID    string             `bun:"template_id,notnull" json:"template_id,omitempty"`
	Params        map[string]string  `bun:"params,type:jsonb" json:"params,omitempty"`
	Status        NotificationStatus `bun:"status,notnull" json:"status,omitempty"`
	Attempts      int                `bun:"attempts" json:"attempts,omitempty"`
	NextAttemptAt *time.Time         `bun:"next_attempt_at,nullzero" json:"next_attempt_at,omitempty"`
	LastError     string             `bun:"last_error" json:"last_error,omitempty"`
	DeliveredAt   *time.Time         `bun:"delivered_at,nullzero" json:"delivered_at,omitempty"`
	CreatedAt     *time.Time         `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time         `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// NewActivationNotification builds the outbox row for a freshly issued
// activation code.
func NewActivationNotification(user *User) *Notification {
	return newCodeNotification(user, TemplateAccountActivation)
}

// NewPasswordResetNotification builds the outbox row for a reset code.
func NewPasswordResetNotification(user *User) *Notification {
	return newCodeNotification(user, TemplatePasswordReset)
}

func newCodeNotification(user *User, templateID string) *Notification {
	now := time.Now()
	return &Notification{
		ID:            uuid.New(),
		UserID:        &user.ID,
		Recipient:     user.Email,
		TemplateID:    templateID,
		Params: map[string]string{
			"code":       user.ActivationCode,
			"email":      user.Email,
			"first_name": user.FirstName,
		},
		Status:        NotificationPending,
		NextAttemptAt: &now,
	}
}
