package accounts

import (
	"context"
	"reflect"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Auther verifies login attempts and mints credential pairs. It performs no
// store writes of its own beyond what the identity provider does for attempt
// tracking.
type Auther struct {
	provider     IdentityProvider
	logger       Logger
	tokenService TokenService
	activitySink ActivitySink
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, cfg Config) *Auther {
	tokenService := NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetRefreshExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		defLogger{},
	)

	return &Auther{
		provider:     provider,
		logger:       defLogger{},
		tokenService: tokenService,
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenService overrides the token service, mostly for tests.
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Login verifies credentials and returns a credential pair. Unknown
// identifier and wrong password fail identically with ErrInvalidCredentials;
// a pending account with correct credentials fails with
// ErrAccountNotActivated so the client can prompt for activation.
func (s *Auther) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	identity, err := s.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return nil, s.normalizeLoginError(err)
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		s.logger.Error("Login identity is nil or zero value")
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      ErrInvalidCredentials.Error(),
		})
		return nil, ErrInvalidCredentials
	}

	if status, err := s.ensureIdentityActive(identity); err != nil {
		s.logger.Warn("Login blocked for %s account: %v", status, err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromIdentity(identity), identity.ID(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
			"status":     status,
		})
		return nil, err
	}

	pair, err := s.tokenService.IssuePair(identity)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromIdentity(identity), identity.ID(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromIdentity(identity), identity.ID(), map[string]any{
		"identifier": identifier,
	})

	return pair, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (string, error) {
	access, err := s.tokenService.Refresh(refreshToken)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefreshed, ActorRef{Type: "user"}, "", nil)

	return access, nil
}

// normalizeLoginError collapses every verification failure into the uniform
// credential error, except the statuses the caller is allowed to learn about.
func (s *Auther) normalizeLoginError(err error) error {
	switch {
	case goerrors.Is(err, ErrAccountNotActivated):
		return ErrAccountNotActivated
	case goerrors.Is(err, ErrAccountSuspended):
		return ErrAccountSuspended
	case goerrors.Is(err, ErrTooManyLoginAttempts):
		return ErrTooManyLoginAttempts
	default:
		return ErrInvalidCredentials
	}
}

func (s *Auther) ensureIdentityActive(identity Identity) (UserStatus, error) {
	status, ok := identityStatus(identity)
	if !ok {
		return "", nil
	}

	switch status {
	case "", UserStatusActive:
		return status, nil
	case UserStatusPending:
		return status, ErrAccountNotActivated
	case UserStatusSuspended:
		return status, ErrAccountSuspended
	default:
		return status, ErrInvalidCredentials
	}
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Auther) actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   identity.ID(),
		Type: "user",
	}
}

type statusAwareIdentity interface {
	Status() UserStatus
}

func identityStatus(identity Identity) (UserStatus, bool) {
	if identity == nil {
		return "", false
	}

	if sa, ok := identity.(statusAwareIdentity); ok {
		return sa.Status(), true
	}

	return "", false
}
