package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/notify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	accounts.Notifications
	mock.Mock
}

func (m *mockStore) ClaimDue(ctx context.Context, limit int) ([]*accounts.Notification, error) {
	args := m.Called(ctx, limit)
	if due := args.Get(0); due != nil {
		return due.([]*accounts.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	args := m.Called(ctx, id, attempts, nextAttemptAt, lastError)
	return args.Error(0)
}

func (m *mockStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	args := m.Called(ctx, id, attempts, lastError)
	return args.Error(0)
}

func activationRow() *accounts.Notification {
	return &accounts.Notification{
		ID:         uuid.New(),
		Recipient:  "peter@example.com",
		TemplateID: accounts.TemplateAccountActivation,
		Params:     map[string]string{"code": "abc123"},
		Status:     accounts.NotificationPending,
	}
}

func TestDrainDeliversDueNotifications(t *testing.T) {
	store := &mockStore{}
	row := activationRow()

	store.On("ClaimDue", mock.Anything, mock.AnythingOfType("int")).
		Return([]*accounts.Notification{row}, nil).Once()
	store.On("MarkDelivered", mock.Anything, row.ID).Return(nil).Once()

	var sent []notify.Message
	sender := notify.SenderFunc(func(ctx context.Context, msg notify.Message) error {
		sent = append(sent, msg)
		return nil
	})

	dispatcher := notify.NewDispatcher(store, sender, notify.NewRenderer("https://shop.example.com"))
	dispatcher.Drain(context.Background())

	require.Len(t, sent, 1)
	assert.Equal(t, "peter@example.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "abc123")
	store.AssertExpectations(t)
}

func TestDrainSchedulesRetryOnSendFailure(t *testing.T) {
	store := &mockStore{}
	row := activationRow()
	row.Attempts = 2

	store.On("ClaimDue", mock.Anything, mock.AnythingOfType("int")).
		Return([]*accounts.Notification{row}, nil).Once()

	before := time.Now()
	store.On("MarkRetry", mock.Anything, row.ID, 3,
		mock.MatchedBy(func(next time.Time) bool {
			// attempt 3 with a 1s base backs off 4s
			return next.After(before.Add(3*time.Second)) && next.Before(before.Add(6*time.Second))
		}), "smtp unreachable").Return(nil).Once()

	sender := notify.SenderFunc(func(ctx context.Context, msg notify.Message) error {
		return errors.New("smtp unreachable")
	})

	dispatcher := notify.NewDispatcher(store, sender, notify.NewRenderer("https://shop.example.com"),
		notify.WithBackoff(time.Second, time.Minute))
	dispatcher.Drain(context.Background())

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything)
}

func TestDrainGivesUpAfterMaxAttempts(t *testing.T) {
	store := &mockStore{}
	row := activationRow()
	row.Attempts = 2

	store.On("ClaimDue", mock.Anything, mock.AnythingOfType("int")).
		Return([]*accounts.Notification{row}, nil).Once()
	store.On("MarkFailed", mock.Anything, row.ID, 3, "smtp unreachable").Return(nil).Once()

	sender := notify.SenderFunc(func(ctx context.Context, msg notify.Message) error {
		return errors.New("smtp unreachable")
	})

	dispatcher := notify.NewDispatcher(store, sender, notify.NewRenderer("https://shop.example.com"),
		notify.WithMaxAttempts(3))
	dispatcher.Drain(context.Background())

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDrainFailsUnrenderableRowImmediately(t *testing.T) {
	store := &mockStore{}
	row := activationRow()
	row.TemplateID = "no.such.template"

	store.On("ClaimDue", mock.Anything, mock.AnythingOfType("int")).
		Return([]*accounts.Notification{row}, nil).Once()
	store.On("MarkFailed", mock.Anything, row.ID, 1, mock.AnythingOfType("string")).Return(nil).Once()

	var sends int
	sender := notify.SenderFunc(func(ctx context.Context, msg notify.Message) error {
		sends++
		return nil
	})

	dispatcher := notify.NewDispatcher(store, sender, notify.NewRenderer("https://shop.example.com"))
	dispatcher.Drain(context.Background())

	assert.Zero(t, sends)
	store.AssertExpectations(t)
}

func TestStartAndStopFlushOutbox(t *testing.T) {
	store := &mockStore{}
	row := activationRow()

	delivered := make(chan struct{})
	store.On("ClaimDue", mock.Anything, mock.AnythingOfType("int")).
		Return([]*accounts.Notification{row}, nil).Once()
	store.On("ClaimDue", mock.Anything, mock.AnythingOfType("int")).
		Return([]*accounts.Notification{}, nil).Maybe()
	store.On("MarkDelivered", mock.Anything, row.ID).
		Run(func(mock.Arguments) { close(delivered) }).Return(nil).Once()

	sender := notify.SenderFunc(func(ctx context.Context, msg notify.Message) error {
		return nil
	})

	dispatcher := notify.NewDispatcher(store, sender, notify.NewRenderer("https://shop.example.com"),
		notify.WithPollInterval(10*time.Millisecond),
		notify.WithWorkers(2))

	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered by the background loop")
	}
	store.AssertExpectations(t)
}
