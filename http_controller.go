package accounts

import (
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController exposes the account lifecycle as a JSON API.
type HTTPController struct {
	Logger   Logger
	Repo     RepositoryManager
	Auther   Authenticator
	Activity ActivitySink
	CodeTTL  string
}

type HTTPControllerOption func(*HTTPController)

func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func WithControllerActivitySink(sink ActivitySink) HTTPControllerOption {
	return func(c *HTTPController) {
		c.Activity = normalizeActivitySink(sink)
	}
}

// WithControllerCodeTTL enables one-time-code expiry, e.g. "48h".
func WithControllerCodeTTL(ttl string) HTTPControllerOption {
	return func(c *HTTPController) {
		c.CodeTTL = ttl
	}
}

func NewHTTPController(repo RepositoryManager, auther Authenticator, opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger:   defLogger{},
		Repo:     repo,
		Auther:   auther,
		Activity: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in accounts controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in accounts controller...")
	}

	return c
}

// RegisterRoutes registers the account lifecycle routes.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Post("/register", c.Register)
	group.Post("/register-phone", c.RegisterPhone)
	group.Get("/activate", c.Activate)
	group.Post("/activate", c.Activate)
	group.Post("/login", c.Login)
	group.Post("/token/refresh", c.RefreshToken)
	group.Post("/reset-password", c.ResetPassword)
	group.Post("/reset-password/confirm", c.ResetPasswordConfirm)
}

// RegisterProtectedRoutes registers routes that require a valid access token.
func (c *HTTPController) RegisterProtectedRoutes(group RouteRegistrar, validator TokenValidator) {
	protected := RequireAuth(validator)
	group.Get("/me", c.Me, protected)

	staff := RequireRole(RoleStaff)
	group.Post("/accounts/:id/suspend", c.SuspendAccount, protected, staff)
	group.Post("/accounts/:id/reinstate", c.ReinstateAccount, protected, staff)
}

// SuspendAccount moves an active account to suspended.
func (c *HTTPController) SuspendAccount(ctx router.Context) error {
	return c.transitionAccount(ctx, UserStatusSuspended)
}

// ReinstateAccount moves a suspended account back to active.
func (c *HTTPController) ReinstateAccount(ctx router.Context) error {
	return c.transitionAccount(ctx, UserStatusActive)
}

// TransitionReasonPayload carries the optional audit reason
type TransitionReasonPayload struct {
	Reason string `json:"reason"`
}

func (c *HTTPController) transitionAccount(ctx router.Context, target UserStatus) error {
	id, err := uuid.Parse(ctx.Param("id", ""))
	if err != nil {
		return c.badRequest(ctx, "invalid account id", err)
	}

	user, err := c.Repo.Users().GetByIdentifier(ctx.Context(), id.String())
	if err != nil {
		return c.handleError(ctx, err)
	}

	actor := ActorRef{Type: "user"}
	if claims, ok := ClaimsFromRouterContext(ctx); ok {
		actor.ID = claims.UserID()
	}

	payload := new(TransitionReasonPayload)
	_ = ctx.Bind(payload)

	sm := NewAccountStateMachine(c.Repo.Users(),
		WithStateMachineActivitySink(c.Activity),
		WithStateMachineLogger(c.Logger),
	)

	opts := []TransitionOption{}
	if payload.Reason != "" {
		opts = append(opts, WithTransitionReason(payload.Reason))
	}

	updated, err := sm.Transition(ctx.Context(), actor, user, target, opts...)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, accountResponse(updated))
}

// Me returns the account behind the access token.
func (c *HTTPController) Me(ctx router.Context) error {
	claims, ok := ClaimsFromRouterContext(ctx)
	if !ok {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": "missing bearer token",
		})
	}

	user, err := c.Repo.Users().GetByIdentifier(ctx.Context(), claims.UserID())
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, user)
}

// RegisterPayload is the registration body
type RegisterPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Validate will run validation rules
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
	)
}

func (c *HTTPController) Register(ctx router.Context) error {
	payload := new(RegisterPayload)

	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, "error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return c.validationFailed(ctx, err)
	}

	var created *User
	req := RegisterUserMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Password:  payload.Password,
		OnResponse: func(user *User) {
			created = user
		},
	}

	register := NewRegisterUserHandler(c.Repo).
		WithActivitySink(c.Activity).
		WithLogger(c.Logger)

	if err := register.Execute(ctx.Context(), req); err != nil {
		c.Logger.Error("register user error: %v", err)
		return c.handleError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, accountResponse(created))
}

// RegisterPhonePayload is the phone-variant registration body
type RegisterPhonePayload struct {
	Phone    string `json:"phone_number"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r RegisterPhonePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, validation.Required, validation.By(validE164)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
	)
}

func (c *HTTPController) RegisterPhone(ctx router.Context) error {
	payload := new(RegisterPhonePayload)

	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, "error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return c.validationFailed(ctx, err)
	}

	var created *User
	req := RegisterUserMessage{
		Email:    payload.Email,
		Phone:    payload.Phone,
		Password: payload.Password,
		OnResponse: func(user *User) {
			created = user
		},
	}

	register := NewRegisterUserHandler(c.Repo).
		WithActivitySink(c.Activity).
		WithLogger(c.Logger)

	if err := register.Execute(ctx.Context(), req); err != nil {
		c.Logger.Error("register phone user error: %v", err)
		return c.handleError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, accountResponse(created))
}

// ActivatePayload carries the code when posted as a body
type ActivatePayload struct {
	Code string `json:"code"`
}

// Validate will run validation rules
func (r ActivatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
	)
}

// Activate consumes an activation code provided either as ?code= or as a
// JSON body, mirroring the two entry points email clients produce (link
// click vs. form post).
func (c *HTTPController) Activate(ctx router.Context) error {
	code := ctx.Query("code")
	if code == "" {
		payload := new(ActivatePayload)
		if err := ctx.Bind(payload); err == nil {
			code = payload.Code
		}
	}

	if code == "" {
		return c.badRequest(ctx, "missing activation code", nil)
	}

	var activated *User
	req := ActivateAccountMessage{
		Code: code,
		OnResponse: func(user *User) {
			activated = user
		},
	}

	activate := NewActivateAccountHandler(c.Repo).
		WithCodeTTL(c.CodeTTL).
		WithActivitySink(c.Activity).
		WithLogger(c.Logger)

	if err := activate.Execute(ctx.Context(), req); err != nil {
		c.Logger.Error("account activation error: %v", err)
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, accountResponse(activated))
}

// LoginPayload is the login body
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (c *HTTPController) Login(ctx router.Context) error {
	payload := new(LoginPayload)

	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, "error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return c.validationFailed(ctx, err)
	}

	pair, err := c.Auther.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, pair)
}

// RefreshPayload is the token refresh body
type RefreshPayload struct {
	RefreshToken string `json:"refresh_token"`
}

// Validate will run validation rules
func (r RefreshPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (c *HTTPController) RefreshToken(ctx router.Context) error {
	payload := new(RefreshPayload)

	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, "error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return c.validationFailed(ctx, err)
	}

	access, err := c.Auther.Refresh(ctx.Context(), payload.RefreshToken)
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{
		"access_token": access,
	})
}

// ResetPasswordPayload is the reset request body
type ResetPasswordPayload struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (c *HTTPController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordPayload)

	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, "error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return c.validationFailed(ctx, err)
	}

	req := InitializePasswordResetMessage{
		Email: payload.Email,
	}

	initReset := NewInitializePasswordResetHandler(c.Repo).
		WithActivitySink(c.Activity).
		WithLogger(c.Logger)

	if err := initReset.Execute(ctx.Context(), req); err != nil {
		c.Logger.Error("password reset request error: %v", err)
		return c.handleError(ctx, err)
	}

	// The code travels by email only; echoing it here would let anyone
	// with the email address take over the account.
	return ctx.JSON(router.StatusOK, map[string]string{
		"message": "password reset instructions sent",
	})
}

// ResetPasswordConfirmPayload carries the new password
type ResetPasswordConfirmPayload struct {
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// Validate will run validation rules
func (r ResetPasswordConfirmPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 100)),
	)
}

func (c *HTTPController) ResetPasswordConfirm(ctx router.Context) error {
	payload := new(ResetPasswordConfirmPayload)

	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, "error parsing body", err)
	}

	if err := payload.Validate(); err != nil {
		return c.validationFailed(ctx, err)
	}

	code := ctx.Query("code")
	if code == "" {
		code = payload.Code
	}
	if code == "" {
		return c.badRequest(ctx, "missing reset code", nil)
	}

	req := FinalizePasswordResetMessage{
		Code:     code,
		Password: payload.NewPassword,
	}

	finalize := NewFinalizePasswordResetHandler(c.Repo).
		WithCodeTTL(c.CodeTTL).
		WithActivitySink(c.Activity).
		WithLogger(c.Logger)

	if err := finalize.Execute(ctx.Context(), req); err != nil {
		c.Logger.Error("password reset confirm error: %v", err)
		return c.handleError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{
		"message": "password updated",
	})
}

func accountResponse(user *User) map[string]any {
	if user == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":     user.ID.String(),
		"email":  user.Email,
		"status": user.Status,
	}
}

func (c *HTTPController) badRequest(ctx router.Context, message string, err error) error {
	body := map[string]any{
		"error": message,
	}
	if err != nil {
		body["detail"] = err.Error()
	}
	return ctx.JSON(router.StatusBadRequest, body)
}

func (c *HTTPController) validationFailed(ctx router.Context, err error) error {
	return ctx.JSON(router.StatusBadRequest, map[string]any{
		"error":      "validation failed",
		"validation": FormatValidationErrorToMap(err),
	})
}

// handleError maps domain errors to HTTP statuses. The login failures all
// share the same generic body so responses do not leak which part failed.
func (c *HTTPController) handleError(ctx router.Context, err error) error {
	switch {
	case goerrors.Is(err, ErrDuplicateIdentity):
		return ctx.JSON(http.StatusConflict, errorBody(err))
	case goerrors.Is(err, ErrCodeNotFound):
		return ctx.JSON(http.StatusNotFound, errorBody(err))
	case goerrors.Is(err, ErrCodeExpired):
		return ctx.JSON(router.StatusBadRequest, errorBody(err))
	case goerrors.Is(err, ErrAccountNotActivated), goerrors.Is(err, ErrAccountSuspended):
		return ctx.JSON(router.StatusForbidden, errorBody(err))
	case goerrors.Is(err, ErrInvalidCredentials),
		goerrors.Is(err, ErrTooManyLoginAttempts),
		goerrors.Is(err, ErrInvalidRefreshToken):
		return ctx.JSON(router.StatusUnauthorized, errorBody(err))
	case repository.IsRecordNotFound(err), goerrors.IsNotFound(err):
		return ctx.JSON(http.StatusNotFound, errorBody(err))
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryValidation {
		return ctx.JSON(router.StatusBadRequest, errorBody(err))
	}

	c.Logger.Error("unhandled account error: %v", err)
	return ctx.JSON(router.StatusInternalServerError, map[string]string{
		"error": "internal error",
	})
}

func errorBody(err error) map[string]any {
	body := map[string]any{
		"error": err.Error(),
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		body["code"] = richErr.TextCode
	}

	return body
}

// FormatValidationErrorToMap flattens ozzo validation errors to field->message.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}
	if err != nil {
		out["payload"] = err.Error()
	}
	return out
}

// validE164 validates an international phone number in E.164 form.
func validE164(value any) error {
	s, _ := value.(string)
	num, err := phonenumbers.Parse(s, "ZZ")
	if err != nil {
		return errors.New("must be an international phone number, e.g. +14155552671")
	}
	if !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}
	return nil
}
