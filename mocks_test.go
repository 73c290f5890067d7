package accounts_test

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// MockUsers mocks the Users store. The embedded interface stands in for the
// generic repository methods no test exercises; calling one of those panics.
type MockUsers struct {
	accounts.Users
	mock.Mock
}

func (m *MockUsers) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*accounts.User, error) {
	args := m.Called(ctx, identifier)
	if u := args.Get(0); u != nil {
		return u.(*accounts.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*accounts.User, error) {
	args := m.Called(ctx, tx, identifier)
	if u := args.Get(0); u != nil {
		return u.(*accounts.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) CreateTx(ctx context.Context, tx bun.IDB, record *accounts.User, criteria ...repository.InsertCriteria) (*accounts.User, error) {
	args := m.Called(ctx, tx, record)
	if rf, ok := args.Get(0).(func(*accounts.User) *accounts.User); ok {
		return rf(record), args.Error(1)
	}
	if u := args.Get(0); u != nil {
		return u.(*accounts.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) GetByActivationCodeTx(ctx context.Context, tx bun.IDB, code string) (*accounts.User, error) {
	args := m.Called(ctx, tx, code)
	if u := args.Get(0); u != nil {
		return u.(*accounts.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) ActivateByCodeTx(ctx context.Context, tx bun.IDB, code string) (*accounts.User, error) {
	args := m.Called(ctx, tx, code)
	if u := args.Get(0); u != nil {
		return u.(*accounts.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) SetActivationCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, code string) (*accounts.User, error) {
	args := m.Called(ctx, tx, id, code)
	if u := args.Get(0); u != nil {
		return u.(*accounts.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) ResetPasswordByCodeTx(ctx context.Context, tx bun.IDB, code, passwordHash string) (*accounts.User, error) {
	args := m.Called(ctx, tx, code, passwordHash)
	if u := args.Get(0); u != nil {
		return u.(*accounts.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsers) TrackAttemptedLogin(ctx context.Context, user *accounts.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUsers) TrackSuccessfulLogin(ctx context.Context, user *accounts.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUsers) UpdateStatus(ctx context.Context, id uuid.UUID, status accounts.UserStatus) (*accounts.User, error) {
	args := m.Called(ctx, id, status)
	if u := args.Get(0); u != nil {
		return u.(*accounts.User), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockNotifications mocks the outbox store.
type MockNotifications struct {
	accounts.Notifications
	mock.Mock
}

func (m *MockNotifications) EnqueueTx(ctx context.Context, tx bun.IDB, n *accounts.Notification) (*accounts.Notification, error) {
	args := m.Called(ctx, tx, n)
	if v := args.Get(0); v != nil {
		return v.(*accounts.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockNotifications) ClaimDue(ctx context.Context, limit int) ([]*accounts.Notification, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]*accounts.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockNotifications) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNotifications) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	args := m.Called(ctx, id, attempts, nextAttemptAt, lastError)
	return args.Error(0)
}

func (m *MockNotifications) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	args := m.Called(ctx, id, attempts, lastError)
	return args.Error(0)
}

// stubRepo wires the store mocks into the handler entry point. RunInTx runs
// the callback inline with a zero bun.Tx and propagates its error, matching
// how the real manager surfaces transaction failures.
type stubRepo struct {
	users         accounts.Users
	notifications accounts.Notifications
}

func (s stubRepo) Validate() error { return nil }
func (s stubRepo) MustValidate()   {}

func (s stubRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	var tx bun.Tx
	return f(ctx, tx)
}

func (s stubRepo) Users() accounts.Users                 { return s.users }
func (s stubRepo) Notifications() accounts.Notifications { return s.notifications }

// MockActivitySink records expectations for emitted activity events.
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockIdentityProvider mocks identity verification for authenticator tests.
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) VerifyIdentity(ctx context.Context, identifier, password string) (accounts.Identity, error) {
	args := m.Called(ctx, identifier, password)
	if v := args.Get(0); v != nil {
		return v.(accounts.Identity), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdentityProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (accounts.Identity, error) {
	args := m.Called(ctx, identifier)
	if v := args.Get(0); v != nil {
		return v.(accounts.Identity), args.Error(1)
	}
	return nil, args.Error(1)
}

// testConfig satisfies accounts.Config for token issuing tests.
type testConfig struct {
	signingKey        string
	tokenExpiration   int
	refreshExpiration int
	issuer            string
	audience          []string
}

func (c testConfig) GetSigningKey() string     { return c.signingKey }
func (c testConfig) GetTokenExpiration() int   { return c.tokenExpiration }
func (c testConfig) GetRefreshExpiration() int { return c.refreshExpiration }
func (c testConfig) GetIssuer() string         { return c.issuer }
func (c testConfig) GetAudience() []string     { return c.audience }

// testIdentity is a bare Identity value for token tests.
type testIdentity struct {
	id, email, role string
}

func (t testIdentity) ID() string    { return t.id }
func (t testIdentity) Email() string { return t.email }
func (t testIdentity) Role() string  { return t.role }
