package accounts

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	textCodeInvalidTransition = "INVALID_ACCOUNT_STATE_TRANSITION"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor ActorRef
	User  *User
	From  UserStatus
	To    UserStatus
	Meta  TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes state machine behavior.
type TransitionOption func(*transitionOptions)

// StatusUpdater persists a status change for a single account row.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status UserStatus) (*User, error)
}

// AccountStateMachine defines lifecycle operations for accounts.
type AccountStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, user *User, target UserStatus, opts ...TransitionOption) (*User, error)
	CurrentStatus(user *User) UserStatus
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses validation rules (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewAccountStateMachine returns the default implementation backed by the provided store.
// The graph covers the lifecycle this package manages: pending accounts
// activate, active accounts can be suspended and reinstated. Accounts are
// never deleted here.
func NewAccountStateMachine(store StatusUpdater, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		store: store,
		transitions: map[UserStatus]map[UserStatus]struct{}{
			UserStatusPending: {
				UserStatusActive: {},
			},
			UserStatusActive: {
				UserStatusSuspended: {},
			},
			UserStatusSuspended: {
				UserStatusActive: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	store        StatusUpdater
	transitions  map[UserStatus]map[UserStatus]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	metadata    TransitionMetadata
	force       bool
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (sm *accountStateMachine) Transition(ctx context.Context, actor ActorRef, user *User, target UserStatus, opts ...TransitionOption) (*User, error) {
	if user == nil {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"target": target,
			"reason": "user is nil",
		})
	}
	if target == "" {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"reason": "target status is empty",
		})
	}

	user.EnsureStatus()
	from := user.Status
	if from == target {
		return user, nil
	}

	var options transitionOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	if !options.force {
		if _, ok := sm.transitions[from][target]; !ok {
			return nil, ErrInvalidTransition.WithMetadata(map[string]any{
				"from": from,
				"to":   target,
			})
		}
	}

	hookCtx := TransitionContext{
		Actor: actor,
		User:  user,
		From:  from,
		To:    target,
		Meta:  options.metadata,
	}

	if err := runTransitionHooks(ctx, options.beforeHooks, hookCtx); err != nil {
		return nil, err
	}

	updated, err := sm.store.UpdateStatus(ctx, user.ID, target)
	if err != nil {
		return nil, err
	}

	user.Status = target
	if updated != nil {
		if updated.Status != "" {
			user.Status = updated.Status
		}
		user.SuspendedAt = updated.SuspendedAt
	}

	if err := runTransitionHooks(ctx, options.afterHooks, hookCtx); err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, actor, from, target, user, options.metadata)

	return user, nil
}

func (sm *accountStateMachine) CurrentStatus(user *User) UserStatus {
	if user == nil {
		return ""
	}
	user.EnsureStatus()
	return user.Status
}

func runTransitionHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			return fmt.Errorf("transition hook failed for user %s (%s -> %s): %w", data.User.ID, data.From, data.To, err)
		}
	}
	return nil
}

func (sm *accountStateMachine) recordActivity(ctx context.Context, actor ActorRef, from, to UserStatus, user *User, meta TransitionMetadata) {
	if actor == (ActorRef{}) {
		actor = ActorRef{Type: "system"}
	}

	var metadata map[string]any
	if meta.Reason != "" || len(meta.Metadata) > 0 {
		metadata = make(map[string]any, len(meta.Metadata)+1)
		for k, v := range meta.Metadata {
			metadata[k] = v
		}
		if meta.Reason != "" {
			metadata["reason"] = meta.Reason
		}
	}

	event := ActivityEvent{
		EventType:  ActivityEventUserStatusChanged,
		Actor:      actor,
		UserID:     user.ID.String(),
		FromStatus: from,
		ToStatus:   to,
		Metadata:   metadata,
		OccurredAt: sm.now(),
	}

	if err := normalizeActivitySink(sm.activitySink).Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}
