package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/houmon/houmon/internal/config"
	"github.com/houmon/houmon/internal/domain/bonus"
	"github.com/houmon/houmon/internal/domain/export"
	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/receipt"
	"github.com/houmon/houmon/internal/domain/visit"
	"github.com/houmon/houmon/internal/platform/auth"
	"github.com/houmon/houmon/internal/platform/db"
	"github.com/houmon/houmon/internal/platform/lock"
	"github.com/houmon/houmon/internal/platform/logging"
	"github.com/houmon/houmon/internal/platform/metrics"
	"github.com/houmon/houmon/internal/platform/middleware"
	"github.com/houmon/houmon/pkg/caldate"
)

const version = "0.1.0"

// systemUser is the principal CLI commands act as.
const systemUser = "system:cli"

func main() {
	rootCmd := &cobra.Command{
		Use:          "houmon-server",
		Short:        "Visit-nursing fee calculation and monthly receipt API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(receiptsCmd())

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

// location is the agency's calendar zone. Visit dates, month boundaries
// and night time bands are all read in it.
func location(offsetHours int) *time.Location {
	if offsetHours == 9 {
		return time.FixedZone("JST", 9*60*60)
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*60*60)
}

// sessionTimeZone names the same zone for PostgreSQL. Etc/GMT names carry
// the inverted POSIX sign.
func sessionTimeZone(offsetHours int) string {
	if offsetHours == 9 {
		return "Asia/Tokyo"
	}
	return fmt.Sprintf("Etc/GMT%+d", -offsetHours)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolOptions{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		TimeZone:    sessionTimeZone(cfg.TimezoneOffsetHours),
	})
}

// services holds the wired domain services shared by the server and the
// CLI commands.
type services struct {
	bonus    *bonus.Service
	visits   *visit.Service
	receipts *receipt.Service
	exports  *export.Service
}

func newServices(pool *pgxpool.Pool, cfg *config.Config, locker lock.Locker, m *metrics.Collectors, logger zerolog.Logger) *services {
	tx := db.PoolTx{Pool: pool}
	dir := master.NewDirectoryPG(pool)

	definitions := bonus.NewRepoPG(pool)
	engine := bonus.NewEngine(definitions, logger.With().Str("component", "bonus_engine").Logger(), m)

	records := visit.NewRepoPG(pool)
	history := visit.NewHistoryRepoPG(pool)
	calc := visit.NewCalculator(records, history, dir, engine, tx, location(cfg.TimezoneOffsetHours),
		logger.With().Str("component", "visit_calculator").Logger())

	receipts := receipt.NewRepoPG(pool)
	return &services{
		bonus:  bonus.NewService(definitions, engine, tx, logger.With().Str("component", "bonus").Logger()),
		visits: visit.NewService(records, calc, locker, tx, logger.With().Str("component", "visit").Logger()),
		receipts: receipt.NewService(receipts, records, history, dir, receipt.Options{
			YenPerPoint:      cfg.YenPerPoint,
			LongVisitMinutes: cfg.LongVisitMinutes,
			Metrics:          m,
		}, logger.With().Str("component", "receipt").Logger()),
		exports: export.NewService(receipts, dir, logger.With().Str("component", "export").Logger()),
	}
}

// newLocker returns the Redis lock when REDIS_URL is set and an in-process
// lock otherwise. The returned checks are probed by /health/db.
func newLocker(cfg *config.Config, logger zerolog.Logger) (lock.Locker, []db.Check, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, nursing record locks are local to this instance")
		return lock.NewLocal(), nil, func() {}, nil
	}
	r, err := lock.NewRedisFromURL(cfg.RedisURL, time.Duration(cfg.LockTTLSeconds)*time.Second)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := r.Close(); err != nil {
			logger.Warn().Err(err).Msg("close redis client")
		}
	}
	return r, []db.Check{{Name: "redis", Ping: r.Ping}}, closeFn, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogFormat)

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	locker, checks, closeLock, err := newLocker(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure lock backend")
	}
	defer closeLock()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := newServices(pool, cfg, locker, metrics.New(reg), logger)

	e := newServer(cfg, pool, svc, reg, checks, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
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

func newServer(cfg *config.Config, pool *pgxpool.Pool, svc *services, reg *prometheus.Registry, checks []db.Check, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
		ExposeHeaders: []string{echo.HeaderContentDisposition},
	}))

	// Health and metrics sit outside auth and tenant resolution.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))
	e.GET("/metrics", metrics.Handler(reg))

	apiV1 := e.Group("/api/v1")

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	apiV1.Use(db.TenantMiddleware(pool, db.TenantConfig{DefaultTenant: cfg.DefaultTenant}))
	apiV1.Use(middleware.Audit(logger))
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	apiV1.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second))

	bonus.NewHandler(svc.bonus).RegisterRoutes(apiV1)
	visit.NewHandler(svc.visits).RegisterRoutes(apiV1)
	receipt.NewHandler(svc.receipts).RegisterRoutes(apiV1)
	export.NewHandler(svc.exports).RegisterRoutes(apiV1)

	return e
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, os.DirFS(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Tenant whose schema is migrated")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			statuses, err := db.NewMigrator(pool, os.DirFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Tenant whose schema is inspected")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage agencies (tenants)",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, db.NewMigrator(pool, os.DirFS(dir))); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

// withTenant loads config, opens the pool, checks out the tenant connection
// and builds the services for a one-shot command.
func withTenant(cmd *cobra.Command, fn func(ctx context.Context, svc *services) error) error {
	tenant, _ := cmd.Flags().GetString("tenant")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogFormat)

	ctx := cmd.Context()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, release, err := db.AcquireTenant(ctx, pool, tenant)
	if err != nil {
		return err
	}
	defer release()
	ctx = auth.WithUser(ctx, systemUser, []string{auth.RoleAdmin}, nil)

	// CLI runs are one at a time per tenant; the local lock is enough.
	return fn(ctx, newServices(pool, cfg, lock.NewLocal(), nil, logger))
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the bonus rule catalog",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load bonus definitions from the built-in or a YAML catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			facility, _ := cmd.Flags().GetString("facility")

			defs, err := loadCatalog(file)
			if err != nil {
				return err
			}
			var facilityID *uuid.UUID
			if facility != "" {
				id, err := uuid.Parse(facility)
				if err != nil {
					return fmt.Errorf("invalid --facility: %w", err)
				}
				facilityID = &id
			}

			return withTenant(cmd, func(ctx context.Context, svc *services) error {
				res, err := svc.bonus.Seed(ctx, defs, facilityID)
				if err != nil {
					return err
				}
				fmt.Printf("Created %d, skipped %d, rejected %d definition(s).\n", res.Created, res.Skipped, res.Invalid)
				return nil
			})
		},
	}
	seedCmd.Flags().String("tenant", "default", "Tenant to seed")
	seedCmd.Flags().String("file", "", "YAML catalog file (default: built-in catalog)")
	seedCmd.Flags().String("facility", "", "Scope the definitions to this facility id")

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Show which catalog definitions apply on a date, without a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			facility, _ := cmd.Flags().GetString("facility")
			insuranceType, _ := cmd.Flags().GetString("insurance-type")
			on, _ := cmd.Flags().GetString("date")
			offset, _ := cmd.Flags().GetInt("timezone-offset")

			defs, err := loadCatalog(file)
			if err != nil {
				return err
			}
			facilityID := uuid.Nil
			if facility != "" {
				if facilityID, err = uuid.Parse(facility); err != nil {
					return fmt.Errorf("invalid --facility: %w", err)
				}
			}
			date := caldate.Of(time.Now(), location(offset))
			if on != "" {
				if date, err = caldate.Parse(on); err != nil {
					return err
				}
			}
			return previewCatalog(cmd.Context(), os.Stdout, defs, facilityID, insuranceType, date, logging.Setup("text"))
		},
	}
	previewCmd.Flags().String("file", "", "YAML catalog file (default: built-in catalog)")
	previewCmd.Flags().String("facility", "", "Treat facility-scoped entries for this id as in scope")
	previewCmd.Flags().String("insurance-type", master.InsuranceCare, "medical or care")
	previewCmd.Flags().String("date", "", "Visit date YYYY-MM-DD (default: today)")
	previewCmd.Flags().Int("timezone-offset", 9, "Hours from UTC used for today's date")

	cmd.AddCommand(seedCmd, previewCmd)
	return cmd
}

// previewCatalog prints the definitions the engine would evaluate for a
// visit on date, one per line, and fails if any of them does not compile.
func previewCatalog(ctx context.Context, w io.Writer, defs []*bonus.Definition, facilityID uuid.UUID,
	insuranceType string, date time.Time, logger zerolog.Logger) error {
	engine := bonus.NewEngine(bonus.StaticSource(defs), logger, nil)
	candidates, err := bonus.StaticSource(defs).ListCandidates(ctx, facilityID, insuranceType, date)
	if err != nil {
		return err
	}
	var invalid int
	for _, d := range bonus.ResolveDefinitions(candidates, facilityID, insuranceType, date) {
		scope := "global"
		if !d.IsGlobal() {
			scope = "facility"
		}
		status := "ok"
		if err := engine.Check(d); err != nil {
			status = "invalid: " + err.Error()
			invalid++
		}
		fmt.Fprintf(w, "%-28s %-8s %-10s %s\n", d.BonusCode, scope, d.PointsType, status)
	}
	if invalid > 0 {
		return fmt.Errorf("%d definition(s) in effect on %s do not compile", invalid, caldate.Format(date))
	}
	return nil
}

func loadCatalog(file string) ([]*bonus.Definition, error) {
	if file == "" {
		return bonus.DefaultCatalog()
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return bonus.LoadCatalog(f)
}

func receiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Monthly receipt batch jobs",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate draft receipts for a facility month",
		RunE: func(cmd *cobra.Command, args []string) error {
			facility, _ := cmd.Flags().GetString("facility")
			year, _ := cmd.Flags().GetInt("year")
			month, _ := cmd.Flags().GetInt("month")
			insuranceType, _ := cmd.Flags().GetString("insurance-type")

			facilityID, err := uuid.Parse(facility)
			if err != nil {
				return fmt.Errorf("invalid --facility: %w", err)
			}

			return withTenant(cmd, func(ctx context.Context, svc *services) error {
				res, err := svc.receipts.GenerateReceiptsForMonth(ctx, facilityID, year, month, insuranceType)
				if err != nil {
					return err
				}
				fmt.Printf("Created %d, updated %d receipt(s); %d skipped.\n", res.Created, res.Updated, len(res.Skipped))
				for _, s := range res.Skipped {
					fmt.Printf("  skipped patient %s: %s\n", s.PatientID, s.Reason)
				}
				return nil
			})
		},
	}
	generateCmd.Flags().String("tenant", "default", "Tenant to run in")
	generateCmd.Flags().String("facility", "", "Facility id")
	generateCmd.Flags().Int("year", 0, "Service year")
	generateCmd.Flags().Int("month", 0, "Service month (1-12)")
	generateCmd.Flags().String("insurance-type", "", "medical or care")
	_ = generateCmd.MarkFlagRequired("facility")
	_ = generateCmd.MarkFlagRequired("year")
	_ = generateCmd.MarkFlagRequired("month")
	_ = generateCmd.MarkFlagRequired("insurance-type")

	cmd.AddCommand(generateCmd)
	return cmd
}
