package accounts_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAccountStateMachineActivatesPendingAccount(t *testing.T) {
	repo := &MockUsers{}
	user := &accounts.User{
		ID:     uuid.New(),
		Status: accounts.UserStatusPending,
	}

	repo.On("UpdateStatus", mock.Anything, user.ID, accounts.UserStatusActive).
		Return(&accounts.User{ID: user.ID, Status: accounts.UserStatusActive}, nil).Once()

	sm := accounts.NewAccountStateMachine(repo)

	result, err := sm.Transition(context.Background(), accounts.ActorRef{ID: "system"}, user, accounts.UserStatusActive)
	require.NoError(t, err)
	assert.Equal(t, accounts.UserStatusActive, result.Status)
	repo.AssertExpectations(t)
}

func TestAccountStateMachineRejectsInvalidTransition(t *testing.T) {
	repo := &MockUsers{}
	user := &accounts.User{
		ID:     uuid.New(),
		Status: accounts.UserStatusPending,
	}

	sm := accounts.NewAccountStateMachine(repo)

	_, err := sm.Transition(context.Background(), accounts.ActorRef{}, user, accounts.UserStatusSuspended)
	require.Error(t, err)
	assert.ErrorIs(t, err, accounts.ErrInvalidTransition)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestAccountStateMachineForceTransitionBypassesValidation(t *testing.T) {
	repo := &MockUsers{}
	user := &accounts.User{
		ID:     uuid.New(),
		Status: accounts.UserStatusPending,
	}

	repo.On("UpdateStatus", mock.Anything, user.ID, accounts.UserStatusSuspended).
		Return(&accounts.User{ID: user.ID, Status: accounts.UserStatusSuspended}, nil).Once()

	sm := accounts.NewAccountStateMachine(repo)

	result, err := sm.Transition(
		context.Background(),
		accounts.ActorRef{},
		user,
		accounts.UserStatusSuspended,
		accounts.WithForceTransition(),
	)
	require.NoError(t, err)
	assert.Equal(t, accounts.UserStatusSuspended, result.Status)
	repo.AssertExpectations(t)
}

func TestAccountStateMachineNoopWhenAlreadyInTarget(t *testing.T) {
	repo := &MockUsers{}
	user := &accounts.User{
		ID:     uuid.New(),
		Status: accounts.UserStatusActive,
	}

	sm := accounts.NewAccountStateMachine(repo)

	result, err := sm.Transition(context.Background(), accounts.ActorRef{}, user, accounts.UserStatusActive)
	require.NoError(t, err)
	assert.Equal(t, accounts.UserStatusActive, result.Status)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestAccountStateMachineRunsHooksWithMetadata(t *testing.T) {
	repo := &MockUsers{}
	user := &accounts.User{
		ID:     uuid.New(),
		Status: accounts.UserStatusActive,
	}

	repo.On("UpdateStatus", mock.Anything, user.ID, accounts.UserStatusSuspended).
		Return(&accounts.User{ID: user.ID, Status: accounts.UserStatusSuspended}, nil).Once()

	var beforeCalled, afterCalled bool
	var reasonSeen string

	before := func(ctx context.Context, tc accounts.TransitionContext) error {
		beforeCalled = true
		reasonSeen = tc.Meta.Reason
		assert.Equal(t, accounts.UserStatusActive, tc.From)
		assert.Equal(t, accounts.UserStatusSuspended, tc.To)
		return nil
	}
	after := func(ctx context.Context, tc accounts.TransitionContext) error {
		afterCalled = true
		return nil
	}

	sm := accounts.NewAccountStateMachine(repo)

	_, err := sm.Transition(context.Background(), accounts.ActorRef{ID: "staff-1", Type: "user"}, user,
		accounts.UserStatusSuspended,
		accounts.WithTransitionReason("fraud review"),
		accounts.WithBeforeTransitionHook(before),
		accounts.WithAfterTransitionHook(after),
	)
	require.NoError(t, err)
	assert.True(t, beforeCalled)
	assert.True(t, afterCalled)
	assert.Equal(t, "fraud review", reasonSeen)
	repo.AssertExpectations(t)
}

func TestAccountStateMachineBeforeHookFailureAbortsUpdate(t *testing.T) {
	repo := &MockUsers{}
	user := &accounts.User{
		ID:     uuid.New(),
		Status: accounts.UserStatusActive,
	}

	sm := accounts.NewAccountStateMachine(repo)

	_, err := sm.Transition(context.Background(), accounts.ActorRef{}, user,
		accounts.UserStatusSuspended,
		accounts.WithBeforeTransitionHook(func(ctx context.Context, tc accounts.TransitionContext) error {
			return fmt.Errorf("hook rejected")
		}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook rejected")
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestAccountStateMachineEmitsStatusChangeEvent(t *testing.T) {
	repo := &MockUsers{}
	sink := &MockActivitySink{}
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	user := &accounts.User{
		ID:     uuid.New(),
		Status: accounts.UserStatusActive,
	}

	repo.On("UpdateStatus", mock.Anything, user.ID, accounts.UserStatusSuspended).
		Return(&accounts.User{ID: user.ID, Status: accounts.UserStatusSuspended}, nil).Once()

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt accounts.ActivityEvent) bool {
		return evt.EventType == accounts.ActivityEventUserStatusChanged &&
			evt.UserID == user.ID.String() &&
			evt.FromStatus == accounts.UserStatusActive &&
			evt.ToStatus == accounts.UserStatusSuspended &&
			evt.OccurredAt.Equal(now)
	})).Return(nil).Once()

	sm := accounts.NewAccountStateMachine(repo,
		accounts.WithStateMachineActivitySink(sink),
		accounts.WithStateMachineClock(func() time.Time { return now }),
	)

	_, err := sm.Transition(context.Background(), accounts.ActorRef{ID: "staff-1", Type: "user"}, user, accounts.UserStatusSuspended)
	require.NoError(t, err)

	repo.AssertExpectations(t)
	sink.AssertExpectations(t)
}
