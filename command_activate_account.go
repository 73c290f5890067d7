package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type ActivateAccountMessage struct {
	Code       string `json:"code"`
	OnResponse func(user *User)
}

func (e ActivateAccountMessage) Type() string { return "account.activate" }

// ActivateAccountHandler consumes an activation code. The consuming UPDATE
// clears the code in the same statement that flips the status, so activation
// is exactly-once: replaying the code yields not-found.
type ActivateAccountHandler struct {
	repo     RepositoryManager
	codeTTL  string
	activity ActivitySink
	logger   Logger
}

// NewActivateAccountHandler creates a handler with sane defaults.
func NewActivateAccountHandler(repo RepositoryManager) *ActivateAccountHandler {
	return &ActivateAccountHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithCodeTTL enables expiry enforcement on activation codes, e.g. "48h".
// Empty disables it, which is the historical behavior.
func (h *ActivateAccountHandler) WithCodeTTL(ttl string) *ActivateAccountHandler {
	h.codeTTL = ttl
	return h
}

// WithActivitySink sets the sink used to emit activation events.
func (h *ActivateAccountHandler) WithActivitySink(sink ActivitySink) *ActivateAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ActivateAccountHandler) WithLogger(logger Logger) *ActivateAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ActivateAccountHandler) Execute(ctx context.Context, event ActivateAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during account activation")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ActivateAccountHandler) execute(ctx context.Context, event ActivateAccountMessage) error {
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
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up activation code")
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

		activated, err := h.repo.Users().ActivateByCodeTx(ctx, tx, event.Code)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrCodeNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate account")
		}

		user = activated
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to execute account activation")
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

func (h *ActivateAccountHandler) recordActivity(ctx context.Context, user *User) {
	if user == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventUserActivated,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		FromStatus: UserStatusPending,
		ToStatus:   UserStatusActive,
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during activation: %v", err)
	}
}
