package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/archive"
	"github.com/euvatease/api/internal/auth"
	"github.com/euvatease/api/internal/config"
	"github.com/euvatease/api/internal/database"
	"github.com/euvatease/api/internal/handlers/api"
	"github.com/euvatease/api/internal/jobs"
	"github.com/euvatease/api/internal/logger"
	"github.com/euvatease/api/internal/metrics"
	"github.com/euvatease/api/internal/middleware"
	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/services/audit"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/threshold"
	"github.com/euvatease/api/internal/services/validation"
	"github.com/euvatease/api/internal/shoplock"
	"github.com/euvatease/api/internal/storage/memory"
	"github.com/euvatease/api/internal/storage/postgres"
	"github.com/euvatease/api/internal/vat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// repositories groups the storage implementations of one backend.
type repositories struct {
	shops       shop.Repository
	orders      order.Repository
	alerts      alert.Repository
	validations validation.Repository
	thresholds  threshold.Repository
	reports     report.Repository
	rates       vat.RateStore
	ping        func(ctx context.Context) error
	close       func()
}

func openStorage(ctx context.Context, cfg *config.Config, lg *zap.Logger) (*repositories, error) {
	if cfg.Storage == config.StorageMemory {
		lg.Warn("Using in-memory storage, data is lost on restart")
		return &repositories{
			shops:       memory.NewShopRepository(),
			orders:      memory.NewOrderRepository(),
			alerts:      memory.NewAlertRepository(),
			validations: memory.NewValidationRepository(),
			thresholds:  memory.NewThresholdRepository(),
			reports:     memory.NewReportRepository(),
			ping:        func(context.Context) error { return nil },
			close:       func() {},
		}, nil
	}

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	lg.Info("Migrations complete")

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect database")
	}
	lg.Info("Database connected")

	return &repositories{
		shops:       postgres.NewShopRepository(pool),
		orders:      postgres.NewOrderRepository(pool),
		alerts:      postgres.NewAlertRepository(pool),
		validations: postgres.NewValidationRepository(pool),
		thresholds:  postgres.NewThresholdRepository(pool),
		reports:     postgres.NewReportRepository(pool),
		rates:       postgres.NewRateStore(pool),
		ping:        pool.Ping,
		close:       pool.Close,
	}, nil
}

func openLocker(ctx context.Context, cfg *config.Config, lg *zap.Logger) (shoplock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return shoplock.NewLocal(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "ping redis")
	}
	lg.Info("Using Redis shop lock", zap.String("addr", opts.Addr))
	return shoplock.NewRedis(client, time.Minute, lg.Named("shoplock")), func() { _ = client.Close() }, nil
}

func openArchive(ctx context.Context, cfg *config.Config) (archive.Storage, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveLocal:
		return archive.NewLocal(cfg.Archive.LocalPath, strings.TrimSuffix(cfg.Archive.URLPrefix, "/")), nil
	case config.ArchiveS3:
		s3cfg := cfg.Archive.S3
		return archive.NewS3(ctx, archive.S3Config{
			Endpoint:       s3cfg.Endpoint,
			Region:         s3cfg.Region,
			AccessKey:      s3cfg.AccessKey,
			SecretKey:      s3cfg.SecretKey,
			Bucket:         s3cfg.Bucket,
			ForcePathStyle: s3cfg.ForcePathStyle,
		})
	default:
		return nil, nil
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()

	repos, err := openStorage(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer repos.close()

	locker, closeLocker, err := openLocker(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer closeLocker()

	// Rate table and resolver. The table starts empty and is filled by the
	// first sync below.
	table := vat.NewRateTable()
	resolver := vat.NewResolver(table)
	syncer := vat.NewRateSyncer(repos.rates, cfg.VAT.RatesFile, resolver, lg.Named("rates"))

	shops := shop.NewService(repos.shops, lg.Named("shop"))
	alerts := alert.NewService(repos.alerts, lg.Named("alert"), alert.WithRecorder(m))
	tracker := threshold.NewTracker(repos.thresholds, alerts, threshold.Config{
		ThresholdEUR:   decimal.NewFromInt(cfg.OSS.ThresholdEUR),
		WarningPercent: decimal.NewFromInt(cfg.OSS.WarningPercent),
	}, lg.Named("threshold"), threshold.WithRecorder(m))
	orders := order.NewService(repos.orders, lg.Named("order"))

	viesClient := vat.NewVIESClient(cfg.VAT.VIESEndpoint, cfg.VAT.VIESTimeout, lg.Named("vies"))
	validations := validation.NewService(repos.validations, viesClient, alerts, locker, validation.Config{
		MaxAttempts:      cfg.VAT.VIESMaxAttempts,
		InitialBackoff:   cfg.VAT.VIESInitialBackoff,
		MaxBackoff:       cfg.VAT.VIESMaxBackoff,
		CallTimeout:      cfg.VAT.VIESTimeout,
		ReuseWindow:      cfg.VAT.VIESReuseWindow,
		RetryConcurrency: cfg.Scheduler.Workers,
	}, lg.Named("validation"), validation.WithRecorder(m))

	audits := audit.NewService(audit.NewAuditor(resolver), repos.orders, shops, validations, tracker, alerts, locker,
		lg.Named("audit"), audit.WithRecorder(m))

	reportOpts := []report.Option{report.WithRecorder(m), report.WithDeadlineDay(cfg.OSS.DeadlineDay)}
	var archiver *archive.Archiver
	store, err := openArchive(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open archive")
	}
	if store != nil {
		archiver = archive.New(store, shops, cfg.Archive.LinkTTL, lg.Named("archive"))
		reportOpts = append(reportOpts, report.WithArchiver(archiver))
		lg.Info("Report archive enabled", zap.String("backend", cfg.Archive.Backend))
	}
	reports := report.NewService(repos.reports, repos.orders, shops, tracker, alerts, table, locker,
		lg.Named("report"), reportOpts...)

	scheduler := jobs.NewScheduler(jobs.Deps{
		Rates:       syncer,
		Shops:       shops,
		Orders:      repos.orders,
		Thresholds:  tracker,
		Deadlines:   reports,
		Validations: validations,
		Locker:      locker,
	}, jobs.Config{
		VIESSweepInterval: cfg.Scheduler.VIESSweepInterval,
		Workers:           cfg.Scheduler.Workers,
	}, lg.Named("jobs"), jobs.WithRecorder(m))

	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			return errors.Wrap(err, "start scheduler")
		}
		defer scheduler.Stop()
	} else {
		res := syncer.Sync(ctx)
		if res.Error != nil {
			return errors.Wrap(res.Error, "load rate table")
		}
	}

	tokens := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst)
	defer limiter.Stop()
	protected := api.Chain(middleware.RequireShopAuth(tokens), limiter.Middleware)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := repos.ping(r.Context()); err != nil {
			lg.Warn("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, `{"status":"unavailable"}`)
			return
		}
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	mux.Handle("GET /metrics", m.Handler())

	var linker api.ArchiveLinker
	if archiver != nil {
		linker = archiver
	}
	api.Register(mux, protected,
		api.NewOrderHandler(audits, orders, lg.Named("http")),
		api.NewVIESHandler(validations, lg.Named("http")),
		api.NewReportHandler(reports, shops, linker, lg.Named("http")),
		api.NewAlertHandler(alerts, lg.Named("http")),
		api.NewShopHandler(shops, lg.Named("http")),
		api.NewRateHandler(table, lg.Named("http")),
		api.NewDashboardHandler(shops, orders, tracker, alerts, reports, lg.Named("http")),
	)
	if cfg.Archive.Backend == config.ArchiveLocal {
		prefix := strings.TrimSuffix(cfg.Archive.URLPrefix, "/") + "/"
		mux.Handle("GET "+prefix, protected(ownArchiveFiles(prefix, cfg.Archive.LocalPath)))
	}

	var handler http.Handler = mux
	handler = middleware.Metrics(m)(handler)
	handler = middleware.SecurityHeaders(handler)
	handler = middleware.RequestLogger(lg.Named("http"))(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recover(lg)(handler)
	handler = otelhttp.NewHandler(handler, "vatease")

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("API server starting", zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		lg.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "listen")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	lg.Info("Server stopped")
	return nil
}

// ownArchiveFiles serves locally archived reports, restricted to the files
// of the authenticated shop.
func ownArchiveFiles(prefix, dir string) http.Handler {
	files := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := middleware.ShopFromContext(r.Context())
		key := strings.TrimPrefix(r.URL.Path, prefix)
		if !ok || !strings.HasPrefix(key, "reports/"+shopID.String()+"/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
