package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"circulation/internal/api"
	"circulation/internal/bot"
	"circulation/internal/circulation"
	"circulation/internal/config"
	"circulation/internal/logger"
	"circulation/internal/storage"
	"circulation/internal/storage/ch"
	"circulation/internal/storage/pg"
	"circulation/internal/storage/stubs"
)

// updateReceiver is the part of the Telegram bot the app drives
type updateReceiver interface {
	Start(ctx context.Context) error
	StartWebhook(webhookURL string) error
	WebhookHandler() http.HandlerFunc
}

// App represents the application
type App struct {
	config *config.Config
	logger *zap.Logger
	db     storage.Storage
	svc    *circulation.Service
	bot    updateReceiver
	server *http.Server
}

// New loads configuration from the environment (and .env) and initializes
// a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if envErr != nil {
		log.Debug("No .env file found, using system environment variables")
	}

	return NewWithConfig(context.Background(), cfg, log)
}

// NewWithConfig initializes an application from an explicit configuration
func NewWithConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: log}

	log.Info("Starting circulation service",
		zap.String("storage", cfg.StorageDriver),
		zap.Int("loan_period_days", cfg.LoanPeriodDays),
	)

	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}

	app.svc = circulation.New(app.db,
		circulation.WithLogger(log),
		circulation.WithLoanPeriod(cfg.LoanPeriodDays),
	)

	if err := app.initBot(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initHTTPServer()
	return app, nil
}

// initDatabase opens the configured store
func (a *App) initDatabase(ctx context.Context) error {
	var db storage.Storage
	switch {
	case a.config.UseMockDB():
		a.logger.Info("Using in-memory database")
		db = stubs.NewMockDB()
	case a.config.StorageDriver == config.DriverPostgres:
		a.logger.Info("Connecting to Postgres")
		postgresDB, err := pg.NewPostgresDB(ctx, a.config.PostgresDSN)
		if err != nil {
			return err
		}
		db = postgresDB
	default:
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.String("user", a.config.ClickHouseUser),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		clickhouseDB, err := ch.NewClickHouseDB(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return err
		}
		db = clickhouseDB
	}

	if err := db.Initialize(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initBot initializes the Telegram bot when a token is configured
func (a *App) initBot() error {
	if !a.config.BotEnabled() {
		a.logger.Info("TELEGRAM_BOT_TOKEN not set, bot disabled")
		return nil
	}

	telegramBot, err := bot.NewBot(a.config.TelegramToken, a.svc, a.config.AllowedUserIDs, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.logger.Info("Bot created successfully", zap.Int64s("allowed_users", a.config.AllowedUserIDs))

	a.bot = telegramBot
	return nil
}

// initHTTPServer builds the HTTP server for the API, health checks and the webhook
func (a *App) initHTTPServer() {
	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      a.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Handler returns the HTTP routes of the application
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		mode := "disabled"
		if a.bot != nil {
			mode = "polling"
			if a.config.WebhookMode {
				mode = "webhook"
			}
		}
		fmt.Fprintf(w, "Circulation service is running (storage: %s, bot: %s)", a.config.StorageDriver, mode)
	})

	api.NewHandler(a.svc, a.logger).RegisterRoutes(mux)

	// Webhook endpoint (only used in webhook mode)
	if a.bot != nil && a.config.WebhookMode {
		mux.HandleFunc(bot.WebhookPath, a.bot.WebhookHandler())
	}

	return mux
}

// Run starts the application and blocks until SIGINT/SIGTERM
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext serves until ctx is cancelled or a component fails, then shuts down
func (a *App) RunContext(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.bot != nil {
		if a.config.WebhookMode {
			g.Go(func() error {
				a.logger.Info("Starting bot in WEBHOOK mode", zap.String("url", a.config.WebhookURL))
				if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
					return fmt.Errorf("failed to setup webhook: %w", err)
				}
				return nil
			})
		} else {
			g.Go(func() error {
				return a.bot.Start(gctx)
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down...")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return nil
}
