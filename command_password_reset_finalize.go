package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Code       string `json:"code"`
	Password   string `json:"password"`
	OnResponse func(user *User)
}

func (p FinalizePasswordResetMessage) Type() string { return "account.password_reset_finalize" }

// FinalizePasswordResetHandler consumes the reset code and installs the new
// password hash in the same UPDATE, so the code cannot be replayed against a
// second password change. Account status is untouched.
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	codeTTL  string
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithCodeTTL enables expiry enforcement on reset codes, e.g. "24h".
// Empty disables it.
func (h *FinalizePasswordResetHandler) WithCodeTTL(ttl string) *FinalizePasswordResetHandler {
	h.codeTTL = ttl
	return h
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	var user *User

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if h.codeTTL != "" {
			pending, err := h.repo.Users().GetByActivationCodeTx(ctx, tx, event.Code)
			if err != nil {
				if repository.IsRecordNotFound(err) {
					return ErrCodeNotFound
				}
				return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
			}

			if pending.CodeIssuedAt != nil {
				expired, err := IsOutsideThresholdPeriod(*pending.CodeIssuedAt, h.codeTTL)
				if err != nil {
					return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check code expiration period")
				}
				if expired {
					return ErrCodeExpired
				}
			}
		}

		passwordHash, err := HashPassword(event.Password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		updated, err := h.repo.Users().ResetPasswordByCodeTx(ctx, tx, event.Code, passwordHash)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrCodeNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		user = updated
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

func (h *FinalizePasswordResetHandler) recordActivity(ctx context.Context, user *User) {
	if user == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password reset: %v", err)
	}
}
