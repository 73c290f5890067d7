package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivateByCodeSQL consumes an activation code in a single statement: the
// WHERE clause only matches while the code is still set, so two concurrent
// attempts cannot both succeed and a consumed code cannot be replayed.
var ActivateByCodeSQL = `UPDATE "users" AS "usr"
SET
	"status" = ?,
	"activation_code" = NULL,
	"code_issued_at" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."activation_code" = ?
) RETURNING *;`

// ResetPasswordByCodeSQL installs a new password hash and clears the code in
// the same statement. Status is left untouched: resetting a password does not
// activate a pending account.
var ResetPasswordByCodeSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"activation_code" = NULL,
	"code_issued_at" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."activation_code" = ?
) RETURNING *;`

// SetActivationCodeSQL overwrites the one-time-code slot. Last write wins,
// and it wins atomically: a half-applied code/timestamp pair is impossible.
var SetActivationCodeSQL = `UPDATE "users" AS "usr"
SET
	"activation_code" = ?,
	"code_issued_at" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// UpdateStatusSQL flips the account status and keeps suspended_at in step:
// moving into suspended stamps it, moving anywhere else clears it.
var UpdateStatusSQL = `UPDATE "users" AS "usr"
SET
	"status" = ?,
	"suspended_at" = CASE WHEN ? = 'suspended' THEN CURRENT_TIMESTAMP ELSE NULL END,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

type Users interface {
	repository.Repository[*User]

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)

	GetByActivationCode(ctx context.Context, code string) (*User, error)
	GetByActivationCodeTx(ctx context.Context, tx bun.IDB, code string) (*User, error)

	ActivateByCode(ctx context.Context, code string) (*User, error)
	ActivateByCodeTx(ctx context.Context, tx bun.IDB, code string) (*User, error)
	SetActivationCode(ctx context.Context, id uuid.UUID, code string) (*User, error)
	SetActivationCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, code string) (*User, error)
	ResetPasswordByCode(ctx context.Context, code, passwordHash string) (*User, error)
	ResetPasswordByCodeTx(ctx context.Context, tx bun.IDB, code, passwordHash string) (*User, error)

	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error

	UpdateStatus(ctx context.Context, id uuid.UUID, status UserStatus) (*User, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status UserStatus) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	return a.CreateTx(ctx, tx, user)
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	created, err := a.Repository.CreateTx(ctx, tx, record, criteria...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateIdentity.WithMetadata(map[string]any{
				"email": record.Email,
			})
		}
		return nil, err
	}
	return created, nil
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	options := resolveUserIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) GetByActivationCode(ctx context.Context, code string) (*User, error) {
	return a.GetByActivationCodeTx(ctx, a.db, code)
}

func (a *users) GetByActivationCodeTx(ctx context.Context, tx bun.IDB, code string) (*User, error) {
	if code == "" {
		return nil, repository.NewRecordNotFound()
	}

	record := &User{}
	err := tx.NewSelect().Model(record).
		Where("?TableAlias.activation_code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"code": code,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) ActivateByCode(ctx context.Context, code string) (*User, error) {
	return a.ActivateByCodeTx(ctx, a.db, code)
}

func (a *users) ActivateByCodeTx(ctx context.Context, tx bun.IDB, code string) (*User, error) {
	if code == "" {
		return nil, repository.NewRecordNotFound()
	}

	res, err := a.Repository.RawTx(ctx, tx, ActivateByCodeSQL, UserStatusActive, code)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"code": code,
			})
	}

	return res[0], nil
}

func (a *users) SetActivationCode(ctx context.Context, id uuid.UUID, code string) (*User, error) {
	return a.SetActivationCodeTx(ctx, a.db, id, code)
}

func (a *users) SetActivationCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, code string) (*User, error) {
	now := time.Now()
	res, err := a.Repository.RawTx(ctx, tx, SetActivationCodeSQL, code, now, id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

func (a *users) ResetPasswordByCode(ctx context.Context, code, passwordHash string) (*User, error) {
	return a.ResetPasswordByCodeTx(ctx, a.db, code, passwordHash)
}

func (a *users) ResetPasswordByCodeTx(ctx context.Context, tx bun.IDB, code, passwordHash string) (*User, error) {
	if code == "" {
		return nil, repository.NewRecordNotFound()
	}

	res, err := a.Repository.RawTx(ctx, tx, ResetPasswordByCodeSQL, passwordHash, code)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"code": code,
			})
	}

	return res[0], nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	// NOTE: Updating using the ORM fails due to a bug, it wont reset
	// login_attempt_at, login_attempts fields.
	loggedInAt := time.Now()
	_, err := tx.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, loggedInAt, user.ID).Exec(ctx)

	return err
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, user)
}

func (a *users) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	criteria := []repository.UpdateCriteria{
		repository.UpdateByID(user.ID.String()),
	}

	record := &User{}
	record.ID = user.ID
	record.LoginAttempts = user.LoginAttempts + 1
	now := time.Now()
	record.LoginAttemptAt = &now

	_, err := a.Repository.UpdateTx(ctx, tx, record, criteria...)

	return err
}

func (a *users) UpdateStatus(ctx context.Context, id uuid.UUID, status UserStatus) (*User, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status)
}

func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status UserStatus) (*User, error) {
	res, err := a.Repository.RawTx(ctx, tx, UpdateStatusSQL, status, status, id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleCustomer
	}

	if record.Status == "" {
		record.Status = UserStatusPending
	}

	record.Email = NormalizeEmail(record.Email)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  NormalizeEmail(trimmed),
		})
	}

	options = append(options, identifierOption{
		column: "phone_number",
		value:  trimmed,
	})

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}

// isUniqueViolation recognizes both the repository layer's translated
// duplicate-key error and the raw driver message for paths that bypass it.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, "DUPLICATE_KEY") {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
