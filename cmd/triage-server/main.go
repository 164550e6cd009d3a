package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/triage/internal/config"
	"github.com/ehr/triage/internal/domain/triage"
	"github.com/ehr/triage/internal/domain/triage/memstore"
	"github.com/ehr/triage/internal/platform/db"
	"github.com/ehr/triage/internal/platform/middleware"
	"github.com/ehr/triage/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "triage-server",
		Short:        "Clinical triage classification and queueing service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(catalogCmd())
	root.AddCommand(analyzeCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetBool("seed-demo")
			return runServer(seed)
		},
	}
	cmd.Flags().Bool("seed-demo", false, "Seed demo patients and admissions (memory store only)")
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// store bundles the repository and directories of one driver.
type store struct {
	triage     triage.TriageRepository
	admissions triage.AdmissionDirectory
	patients   triage.PatientDirectory
	pinger     db.Pinger
	mem        *memstore.Store
	close      func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		mem := memstore.New()
		return &store{
			triage:     mem.Triage(),
			admissions: mem.Admissions(),
			patients:   mem.Patients(),
			mem:        mem,
			close:      func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		ApplicationName:  "triage-server",
		StatementTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &store{
		triage:     triage.NewTriageRepoPG(pool),
		admissions: triage.NewAdmissionDirectoryPG(pool),
		patients:   triage.NewPatientDirectoryPG(pool),
		pinger:     pool,
		close:      pool.Close,
	}, nil
}

func seedDemo(mem *memstore.Store, now time.Time) {
	birth := func(years int) *time.Time {
		b := now.AddDate(-years, 0, 0)
		return &b
	}
	patients := []*triage.Patient{
		{Ref: "pat-001", Name: "Maria Souza", BirthDate: birth(67)},
		{Ref: "pat-002", Name: "João Lima", BirthDate: birth(34)},
		{Ref: "pat-003", Name: "Ana Costa", BirthDate: birth(8)},
		{Ref: "pat-004", Name: "Carlos Dias"},
	}
	for _, p := range patients {
		mem.PutPatient(p)
	}
	admissions := []*triage.Admission{
		{Ref: "adm-001", PatientRef: "pat-001", Flow: triage.FlowEmergencyUnit, ArrivedAt: now.Add(-20 * time.Minute)},
		{Ref: "adm-002", PatientRef: "pat-002", Flow: triage.FlowEmergencyUnit, ArrivedAt: now.Add(-130 * time.Minute)},
		{Ref: "adm-003", PatientRef: "pat-003", Flow: triage.FlowEmergencyUnit, ArrivedAt: now.Add(-5 * time.Minute)},
		{Ref: "adm-004", PatientRef: "pat-004", Flow: triage.FlowAmbulatory, ArrivedAt: now.Add(-70 * time.Minute)},
	}
	for _, a := range admissions {
		mem.PutAdmission(a)
	}
}

func loadCatalog(path string) (*triage.Catalog, error) {
	catalog, err := triage.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return catalog, nil
}

// configuredCatalog resolves CATALOG_FILE the way serve does, including .env.
// An empty path selects the embedded catalog.
func configuredCatalog() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.CatalogFile, nil
}

// newServer wires middleware, the triage routes, /health and /metrics.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *triage.Service, st *store, reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	httpMetrics := middleware.NewHTTPMetrics(reg)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", db.HealthHandler(cfg.StoreDriver, st.pinger))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"version": version})
	})

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	triage.NewHandler(svc).RegisterRoutes(apiV1)
	return e
}

func buildService(cfg *config.Config, logger zerolog.Logger, st *store, reg prometheus.Registerer) (*triage.Service, error) {
	catalog, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	sla, err := triage.NewSLAEvaluator(catalog.Risk, cfg.SLAGracePercent)
	if err != nil {
		return nil, err
	}
	svc := triage.NewService(catalog, sla, st.triage, st.admissions, st.patients, logger)
	svc.SetMetrics(triage.NewMetrics(reg))
	return svc, nil
}

func runServer(seed bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer st.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	if seed {
		if st.mem == nil {
			return fmt.Errorf("--seed-demo requires STORE_DRIVER=%s", config.StoreDriverMemory)
		}
		seedDemo(st.mem, time.Now())
		logger.Info().Msg("seeded demo admissions")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := buildService(cfg, logger, st, reg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build triage service")
		return err
	}
	logger.Info().
		Int("protocols", len(svc.ListProtocols())).
		Int("sla_grace_percent", cfg.SLAGracePercent).
		Msg("catalog loaded")

	e := newServer(cfg, logger, svc, st, reg)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrations")
		}
		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrations.FS))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
	}
	tw.Flush()
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the protocol catalog",
	}
	cmd.PersistentFlags().String("file", "", "Catalog YAML file (defaults to CATALOG_FILE or the embedded catalog)")

	catalogPath := func(cmd *cobra.Command) (string, error) {
		if f, _ := cmd.Flags().GetString("file"); f != "" {
			return f, nil
		}
		return configuredCatalog()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List risk levels and protocols in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := catalogPath(cmd)
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(path)
			if err != nil {
				return err
			}
			printCatalog(cmd.OutOrStdout(), catalog)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate a catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := catalogPath(cmd)
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d risk levels, %d protocols\n",
				len(catalog.Risk.Levels()), len(catalog.Protocols()))
			return nil
		},
	})
	return cmd
}

func printCatalog(w io.Writer, catalog *triage.Catalog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tLEVEL\tCOLOR\tSLA")
	for _, l := range catalog.Risk.Levels() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%dm\n", l.PriorityRank, l.ID, l.Color, l.SLAMinutes)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "#\tPROTOCOL\tMIN HITS\tLEVEL\tKEYWORDS")
	for i, p := range catalog.Protocols() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", i+1, p.ID, p.MinKeywordHits, p.SuggestedLevel, strings.Join(p.Keywords, ", "))
	}
	tw.Flush()
}

func analyzeCmd() *cobra.Command {
	var (
		bp                 string
		temp               float64
		spo2, hr, rr, pain int
	)
	cmd := &cobra.Command{
		Use:   "analyze <complaint>",
		Short: "Preview the protocol match and vital alerts for a complaint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configuredCatalog()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(path)
			if err != nil {
				return err
			}
			var v triage.VitalSigns
			flags := cmd.Flags()
			if flags.Changed("bp") {
				v.BloodPressure = &bp
			}
			if flags.Changed("temp") {
				v.Temperature = &temp
			}
			if flags.Changed("spo2") {
				v.OxygenSaturation = &spo2
			}
			if flags.Changed("hr") {
				v.HeartRate = &hr
			}
			if flags.Changed("rr") {
				v.RespiratoryRate = &rr
			}
			if flags.Changed("pain") {
				v.PainScale = &pain
			}
			if err := v.Validate(); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(catalog.Analyze(strings.Join(args, " "), v))
		},
	}
	cmd.Flags().StringVar(&bp, "bp", "", "Blood pressure, e.g. 190x130")
	cmd.Flags().Float64Var(&temp, "temp", 0, "Temperature in Celsius")
	cmd.Flags().IntVar(&spo2, "spo2", 0, "Oxygen saturation percent")
	cmd.Flags().IntVar(&hr, "hr", 0, "Heart rate (bpm)")
	cmd.Flags().IntVar(&rr, "rr", 0, "Respiratory rate (breaths/min)")
	cmd.Flags().IntVar(&pain, "pain", 0, "Pain scale 0-10")
	return cmd
}
