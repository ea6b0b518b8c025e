package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eproms/proms/internal/config"
	"github.com/eproms/proms/internal/domain/ctcae"
	"github.com/eproms/proms/internal/domain/identity"
	"github.com/eproms/proms/internal/domain/registry"
	"github.com/eproms/proms/internal/domain/sideeffect"
	"github.com/eproms/proms/internal/platform/auth"
	"github.com/eproms/proms/internal/platform/db"
	"github.com/eproms/proms/internal/platform/events"
	"github.com/eproms/proms/internal/platform/middleware"
	"github.com/eproms/proms/migrations"
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "proms-server",
		Short: "Oncology side effect reporting API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// connect loads the config and opens a pool for the one-shot commands.
func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

// migrationSource returns the embedded migrations unless dir is set.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.Schema
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference data",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ctcae",
		Short: "Load the CTCAE v5.0 categories and adverse events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if _, err := pool.Exec(ctx, migrations.CTCAESeed); err != nil {
				return fmt.Errorf("seed ctcae: %w", err)
			}
			var n int
			if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ctcae_adverse_events`).Scan(&n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "CTCAE catalog holds %d adverse events.\n", n)
			return nil
		},
	})
	return cmd
}

// newLogger writes JSON to out, or console lines in development. A nil cfg
// means config failed to load and gets JSON.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// newEcho builds the server with the global middleware chain up to audit
// logging, plus the health route. Domain routes go on the returned /api
// group.
func newEcho(cfg *config.Config, logger zerolog.Logger, recorders ...middleware.AuditRecorder) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger, cfg.IsDev())

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Window:      cfg.RateLimitWindow(),
		MaxRequests: cfg.RateLimitMaxRequests,
		Skipper: func(c echo.Context) bool {
			return !strings.HasPrefix(c.Request().URL.Path, "/api/")
		},
	}))
	e.Use(middleware.Audit(logger, recorders...))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":    "ok",
			"version":   version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	return e, e.Group("/api")
}

// routeSkipper skips authentication for public routes and for paths that
// match no registered route, so those fall through to a 404.
func routeSkipper(e *echo.Echo) func(c echo.Context) bool {
	var (
		once  sync.Once
		known map[string]bool
	)
	return func(c echo.Context) bool {
		if auth.AuthSkipper(c) {
			return true
		}
		once.Do(func() {
			known = make(map[string]bool)
			for _, r := range e.Routes() {
				if !strings.HasSuffix(r.Path, "/*") {
					known[r.Path] = true
				}
			}
		})
		return !known[c.Path()]
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(nil, os.Stdout)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Alerts
	alerts, err := events.New(ctx, events.Config{
		Backend:     cfg.AlertsBackend,
		KafkaBroker: cfg.AlertsKafkaBroker,
		KafkaTopic:  cfg.AlertsKafkaTopic,
		SQSQueueURL: cfg.AlertsSQSQueueURL,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build alerts publisher")
	}
	defer alerts.Close()

	// Login strategies
	passwords := auth.NewBcryptHasher(cfg.BcryptRounds)
	var providers []auth.FederatedProvider
	if cfg.SSOEnabled() {
		sso, err := auth.NewSAMLProvider(ctx, auth.SAMLConfig{
			EntityID:    cfg.NHSSSOIssuer,
			CallbackURL: cfg.NHSSSOCallbackURL,
			MetadataURL: cfg.NHSSSOMetadataURL,
			EntryPoint:  cfg.NHSSSOEntryPoint,
			IDPEntityID: cfg.NHSSSOIDPEntityID,
			Certificate: cfg.NHSSSOCert,
			SPCertFile:  cfg.NHSSSOSPCertFile,
			SPKeyFile:   cfg.NHSSSOSPKeyFile,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure NHS SSO")
		}
		providers = append(providers, sso)
		logger.Info().Msg("NHS SSO enabled")
	}
	strategies := auth.NewStrategies(passwords, providers...)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiresIn)
	policy := auth.DefaultPolicy()

	// Domain services
	identitySvc := identity.NewService(identity.NewUserRepoPG(pool), tokens, passwords)
	ctcaeSvc := ctcae.NewService(ctcae.NewAdverseEventRepoPG(pool))
	sideEffectRepo := sideeffect.NewSideEffectRepoPG(pool)
	sideEffectSvc := sideeffect.NewService(
		sideEffectRepo,
		sideeffect.NewPatientDirectoryPG(pool),
		ctcaeSvc,
		policy,
		alerts,
		logger.With().Str("component", "side_effects").Logger(),
	).UseTx(db.Transactor(pool))
	registrySvc := registry.NewService(
		registry.NewPatientRepoPG(pool),
		registry.NewTreatmentPlanRepoPG(pool),
		identitySvc,
		sideEffectRepo,
		policy,
	).UseTx(db.Transactor(pool))

	e, api := newEcho(cfg, logger, middleware.NewPHIAccessLogPG(pool))
	e.Use(auth.BearerAuth(auth.BearerConfig{
		Tokens:   tokens,
		Accounts: identitySvc,
		Skipper:  routeSkipper(e),
	}))
	e.GET("/health/db", db.HealthHandler(pool))

	identity.NewHandler(identitySvc, identity.HandlerConfig{
		Strategies:    strategies,
		Profiles:      registrySvc.Profiles(),
		FrontendURL:   cfg.FrontendURL,
		SecureCookies: cfg.IsProduction(),
		Logger:        logger,
	}).RegisterRoutes(api)
	registry.NewHandler(registrySvc).RegisterRoutes(api)
	ctcae.NewHandler(ctcaeSvc, policy).RegisterRoutes(api)
	sideeffect.NewHandler(sideEffectSvc).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
