package main

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/notify"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	"github.com/sethvargo/go-envconfig"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/migrate"
)

// Config is read from the environment on boot.
type Config struct {
	HTTPAddr string `env:"ACCOUNTS_HTTP_ADDR,default=:8572"`
	DSN      string `env:"ACCOUNTS_DSN,default=file:accounts.db?cache=shared&_pragma=foreign_keys(1)"`
	BaseURL  string `env:"ACCOUNTS_BASE_URL,default=http://localhost:8572"`
	Debug    bool   `env:"ACCOUNTS_DEBUG,default=false"`

	SigningKey        string   `env:"ACCOUNTS_SIGNING_KEY,required"`
	TokenExpiration   int      `env:"ACCOUNTS_TOKEN_EXPIRATION,default=1"`
	RefreshExpiration int      `env:"ACCOUNTS_REFRESH_EXPIRATION,default=168"`
	Issuer            string   `env:"ACCOUNTS_TOKEN_ISSUER,default=accounts"`
	Audience          []string `env:"ACCOUNTS_TOKEN_AUDIENCE,default=accounts"`

	CodeTTL string `env:"ACCOUNTS_CODE_TTL"`

	SMTPHost     string `env:"ACCOUNTS_SMTP_HOST"`
	SMTPPort     int    `env:"ACCOUNTS_SMTP_PORT,default=587"`
	SMTPUsername string `env:"ACCOUNTS_SMTP_USERNAME"`
	SMTPPassword string `env:"ACCOUNTS_SMTP_PASSWORD"`
	SMTPFrom     string `env:"ACCOUNTS_SMTP_FROM,default=no-reply@localhost"`

	DispatchWorkers      int           `env:"ACCOUNTS_DISPATCH_WORKERS,default=4"`
	DispatchPollInterval time.Duration `env:"ACCOUNTS_DISPATCH_POLL_INTERVAL,default=5s"`
	DispatchMaxAttempts  int           `env:"ACCOUNTS_DISPATCH_MAX_ATTEMPTS,default=8"`
}

func (c *Config) GetSigningKey() string     { return c.SigningKey }
func (c *Config) GetTokenExpiration() int   { return c.TokenExpiration }
func (c *Config) GetRefreshExpiration() int { return c.RefreshExpiration }
func (c *Config) GetIssuer() string         { return c.Issuer }
func (c *Config) GetAudience() []string     { return c.Audience }

type App struct {
	config     *Config
	logger     *glog.BaseLogger
	bunDB      *bun.DB
	repo       accounts.RepositoryManager
	auth       accounts.Authenticator
	dispatcher *notify.Dispatcher
	srv        router.Server[*fiber.App]
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("accounts"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	ctx := context.Background()

	cfg := &Config{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		lgr.Error("config error", "error", err)
		os.Exit(1)
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	if err := WithPersistence(ctx, app); err != nil {
		lgr.Error("persistence error", "error", err)
		os.Exit(1)
	}

	if err := WithAuth(ctx, app); err != nil {
		lgr.Error("auth error", "error", err)
		os.Exit(1)
	}

	WithDispatcher(ctx, app)

	if err := WithHTTPServer(ctx, app); err != nil {
		lgr.Error("http error", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := app.srv.Serve(cfg.HTTPAddr); err != nil {
			lgr.Error("server error", "error", err)
		}
	}()

	lgr.Info("accounts server listening", "addr", cfg.HTTPAddr)

	WaitExitSignal()

	lgr.Info("shutting down")
	app.dispatcher.Stop()
	if err := app.bunDB.Close(); err != nil {
		lgr.Error("database close error", "error", err)
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.config.DSN)
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "unable to open database")
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())

	migrationsFS, err := fs.Sub(accounts.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "unable to scope migrations")
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(migrationsFS); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "unable to discover migrations")
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "unable to init migrator")
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "migration failed")
	}

	if group.IsZero() {
		app.GetLogger("persistence").Debug("database up to date")
	} else {
		app.GetLogger("persistence").Info("migrated database", "group", group.String())
	}

	app.bunDB = db
	app.repo = accounts.NewRepositoryManager(db)

	return app.repo.Validate()
}

func WithAuth(ctx context.Context, app *App) error {
	userProvider := accounts.NewUserProvider(app.repo.Users()).
		WithLogger(app.GetLogger("auth:prv"))

	auther := accounts.NewAuthenticator(userProvider, app.config).
		WithLogger(app.GetLogger("auth"))

	app.auth = auther

	return nil
}

func WithDispatcher(ctx context.Context, app *App) {
	cfg := app.config

	var sender notify.Sender
	if cfg.SMTPHost != "" {
		sender = &notify.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}
	} else {
		// No relay configured, print messages instead of sending them.
		mailLog := app.GetLogger("mail")
		sender = notify.SenderFunc(func(ctx context.Context, msg notify.Message) error {
			mailLog.Info("outbound message", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
			return nil
		})
	}

	app.dispatcher = notify.NewDispatcher(
		app.repo.Notifications(),
		sender,
		notify.NewRenderer(cfg.BaseURL),
		notify.WithLogger(app.GetLogger("notify")),
		notify.WithWorkers(cfg.DispatchWorkers),
		notify.WithPollInterval(cfg.DispatchPollInterval),
		notify.WithMaxAttempts(cfg.DispatchMaxAttempts),
	)

	app.dispatcher.Start(ctx)
}

func WithHTTPServer(ctx context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.config.Debug,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	controller := accounts.NewHTTPController(app.repo, app.auth,
		accounts.WithControllerLogger(app.GetLogger("accounts:ctrl")),
		accounts.WithControllerCodeTTL(app.config.CodeTTL),
	)

	group := srv.Router().Group("/auth")
	controller.RegisterRoutes(group)

	if auther, ok := app.auth.(*accounts.Auther); ok {
		validator := accounts.TokenValidatorFunc(auther.TokenService().Validate)
		controller.RegisterProtectedRoutes(group, validator)
	}

	app.srv = srv

	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
