package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Notifications is the outbox repository. Enqueue happens inside the caller's
// transaction; the dispatcher drains due rows from its own loop.
type Notifications interface {
	repository.Repository[*Notification]

	Enqueue(ctx context.Context, n *Notification) (*Notification, error)
	EnqueueTx(ctx context.Context, tx bun.IDB, n *Notification) (*Notification, error)

	ClaimDue(ctx context.Context, limit int) ([]*Notification, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
}

type notifications struct {
	repository.Repository[*Notification]
	db *bun.DB
}

var _ Notifications = (*notifications)(nil)

func NewNotificationsRepository(db *bun.DB) Notifications {
	repo := repository.NewRepository[*Notification](db, repository.ModelHandlers[*Notification]{
		NewRecord: func() *Notification { return &Notification{} },
		GetID: func(n *Notification) uuid.UUID {
			if n == nil {
				return uuid.Nil
			}
			return n.ID
		},
		SetID: func(n *Notification, id uuid.UUID) {
			if n != nil {
				n.ID = id
			}
		},
	})

	return &notifications{
		Repository: repo,
		db:         db,
	}
}

func (r *notifications) Enqueue(ctx context.Context, n *Notification) (*Notification, error) {
	return r.EnqueueTx(ctx, r.db, n)
}

func (r *notifications) EnqueueTx(ctx context.Context, tx bun.IDB, n *Notification) (*Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = NotificationPending
	}
	if n.NextAttemptAt == nil {
		now := time.Now()
		n.NextAttemptAt = &now
	}
	return r.Repository.CreateTx(ctx, tx, n)
}

func (r *notifications) ClaimDue(ctx context.Context, limit int) ([]*Notification, error) {
	var due []*Notification
	err := r.db.NewSelect().Model(&due).
		Where("?TableAlias.status = ?", NotificationPending).
		Where("?TableAlias.next_attempt_at <= ?", time.Now()).
		OrderExpr("?TableAlias.next_attempt_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return due, nil
}

func (r *notifications) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := r.db.NewUpdate().Model((*Notification)(nil)).
		Set("status = ?", NotificationDelivered).
		Set("delivered_at = ?", now).
		Set("next_attempt_at = NULL").
		Set("last_error = ''").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *notifications) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := r.db.NewUpdate().Model((*Notification)(nil)).
		Set("attempts = ?", attempts).
		Set("next_attempt_at = ?", nextAttemptAt).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *notifications) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	_, err := r.db.NewUpdate().Model((*Notification)(nil)).
		Set("status = ?", NotificationFailed).
		Set("attempts = ?", attempts).
		Set("next_attempt_at = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
