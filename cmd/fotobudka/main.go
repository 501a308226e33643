package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fotobudka/internal/auth"
	"fotobudka/internal/catalog"
	"fotobudka/internal/gateway"
	"fotobudka/internal/generation"
	"fotobudka/internal/infra"
	"fotobudka/internal/jobs"
	"fotobudka/internal/ledger"
	"fotobudka/internal/metrics"
	"fotobudka/internal/storage"
)

const credentialsFile = "session.json"

// app holds the services of one process. Nothing here is global; every command receives it.
type app struct {
	cfg     *infra.Config
	logger  *infra.Logger
	files   *storage.FileStore
	metrics *metrics.Metrics
	gateway *gateway.Gateway
	session *auth.Session
	ledger  *ledger.Ledger
	gen     *generation.Client
	catalog *catalog.Resolver

	// jobs is opened on first use; only one process may hold the job store at a time.
	jobOpts jobs.Options
	jobs    *jobs.Store
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "fotobudka").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, &logger)
	if err != nil {
		exitWithError(err)
	}

	var metricsServer *infra.HTTPServer
	if cfg.MetricsAddr != "" {
		metricsServer = infra.NewHTTPServer(cfg.MetricsAddr, a.metrics.Handler())
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("fotobudka: metrics server failed")
			}
		}()
	}

	runErr := cmd.run(ctx, a, os.Args[2:])

	if a.jobs != nil {
		if err := a.jobs.Close(); err != nil {
			logger.Warn().Err(err).Msg("fotobudka: close job store")
		}
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	if runErr != nil {
		exitWithError(runErr)
	}
}

// newApp builds the services in dependency order. The gateway exists before the session that
// supplies its token, so the token source is attached afterwards.
func newApp(cfg *infra.Config, logger *infra.Logger) (*app, error) {
	files, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	m := metrics.New()

	gw, err := gateway.New(gateway.Options{
		BaseURL:        cfg.APIBaseURL,
		RequestTimeout: cfg.HTTPTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	led := ledger.New(gw, logger)

	var identity auth.IdentityProvider
	switch cfg.IdentityProvider {
	case infra.IdentityProviderProfile:
		identity = auth.NewProfileIdentity(cfg.ProfilePath)
	default:
		identity = auth.NewInstallIdentity(files)
	}
	session, err := auth.NewSession(auth.Options{
		Backend:  gw,
		Store:    auth.NewFileCredentialStore(filepath.Join(files.BasePath(), credentialsFile)),
		Identity: identity,
		Balance:  led,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	gw.SetTokenSource(session)

	gen, err := generation.NewClient(generation.Options{
		Backend:         gw,
		PollInterval:    cfg.PollInterval,
		MaxPollAttempts: cfg.MaxPollAttempts,
		Metrics:         m,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	resolver, err := catalog.NewResolver(catalog.Options{
		Primary:    catalog.NewHTTPProvider(gw),
		Legacy:     catalog.NewStaticLegacyProvider(cfg.Catalog.Legacy),
		UseLegacy:  cfg.CatalogProvider == infra.CatalogProviderLegacy,
		AllowLists: cfg.Catalog.AllowLists,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		files:   files,
		metrics: m,
		gateway: gw,
		session: session,
		ledger:  led,
		gen:     gen,
		catalog: resolver,
		jobOpts: jobs.Options{
			Files:     files,
			Generator: gen,
			Balance:   led,
			Metrics:   m,
			Logger:    logger,
		},
	}, nil
}

// openJobs opens the job store once per process. Another running fotobudka command holding the
// data directory is reported instead of racing it.
func (a *app) openJobs() (*jobs.Store, error) {
	if a.jobs != nil {
		return a.jobs, nil
	}
	store, err := jobs.Open(a.jobOpts)
	if errors.Is(err, jobs.ErrBusy) {
		return nil, fmt.Errorf("another fotobudka command is using the data directory, wait for it to finish: %w", err)
	}
	if err != nil {
		return nil, err
	}
	a.jobs = store
	return store, nil
}

// authenticate runs the auth bootstrap; commands that only read local state skip it.
func (a *app) authenticate(ctx context.Context) error {
	if a.session.State() == auth.StateAuthenticated {
		return nil
	}
	if err := a.session.Bootstrap(ctx); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	return nil
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "fotobudka: %v\n", err)
	os.Exit(1)
}
