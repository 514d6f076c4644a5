package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"physbib/api"
	"physbib/config"
	"physbib/metrics"
	"physbib/providers/inspire"
	"physbib/repositories"
	"physbib/services"
	"physbib/storage"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogLevel == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	logging, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	store, err := storage.Open(cfg, logging)
	if err != nil {
		logging.Fatal("Failed to open database", zap.Error(err))
	}
	defer store.Close()
	logging.Info("Database opened", zap.String("driver", store.Driver()))

	m := metrics.New(prometheus.DefaultRegisterer)
	store.SetObserver(m)

	// Setup Repositories
	entries := repositories.NewEntries(store, cfg.MaxAuthorNames, logging)
	categories := repositories.NewCategories(store, logging)
	experiments := repositories.NewExperiments(store, logging)
	links := repositories.NewLinks(store, logging)

	// Setup Services
	inspireFetcher := inspire.NewFetcher(cfg, logging)
	normalizer := services.NewRecordNormalizer(cfg, entries, logging)
	reconciler := services.NewReconciler(cfg, entries, inspireFetcher, logging)
	reconciler.Observer = m
	fetchService := services.NewFetchService(cfg, entries, links, normalizer, inspireFetcher, reconciler, logging)

	server := api.New(api.Deps{
		Config:      cfg,
		Store:       store,
		Entries:     entries,
		Categories:  categories,
		Experiments: experiments,
		Links:       links,
		Normalizer:  normalizer,
		Reconciler:  reconciler,
		Integrity:   services.NewIntegrity(store, logging),
		Fetch:       fetchService,
		Replacer:    services.NewReplacer(entries, logging),
	}, logging)
	router := server.Router(promhttp.Handler())

	// Setup Cron
	cronScheduler := cron.New()
	if cfg.SyncCron != "" {
		_, err := cronScheduler.AddFunc(cfg.SyncCron, func() {
			logging.Info("Running scheduled sync job...")
			err := server.StartJob("sync", func(ctx context.Context, p *services.Progress) (any, error) {
				to := time.Now()
				res, err := reconciler.SyncRange(ctx, to.AddDate(0, 0, -1), to, p)
				if err != nil {
					return res, err
				}
				return res, store.Commit()
			})
			if err != nil {
				logging.Warn("Scheduled sync skipped", zap.Error(err))
			}
		})
		if err != nil {
			logging.Fatal("Invalid SYNC_CRON", zap.String("schedule", cfg.SyncCron), zap.Error(err))
		}
	}
	if cfg.BackupCron != "" {
		if err := scheduleBackup(cronScheduler, cfg, server, store, logging); err != nil {
			logging.Fatal("Backup schedule setup failed", zap.Error(err))
		}
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// scheduleBackup sichert die SQLite-Datei regelmäßig nach S3. Der Job hält
// den Datenbank-Lock, gesichert wird der zuletzt committete Stand.
func scheduleBackup(c *cron.Cron, cfg *config.Config, server *api.Server, store *storage.Store, logging *zap.Logger) error {
	if store.Driver() != "sqlite" || !cfg.BackupEnabled() {
		logging.Warn("BACKUP_CRON set but backup is only available for sqlite with S3 credentials")
		return nil
	}
	client, err := storage.NewS3Client(context.Background(), cfg)
	if err != nil {
		return err
	}
	backup := &storage.Backup{
		Client: client,
		Bucket: cfg.S3Bucket,
		Prefix: cfg.S3Prefix,
		Keep:   cfg.BackupKeep,
		Logger: logging,
	}
	_, err = c.AddFunc(cfg.BackupCron, func() {
		err := server.StartJob("backup", func(ctx context.Context, p *services.Progress) (any, error) {
			return backup.Run(ctx, store.Path())
		})
		if err != nil {
			logging.Warn("Scheduled backup skipped", zap.Error(err))
		}
	})
	return err
}
