package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"shuttle-tracker/internal/api"
	"shuttle-tracker/internal/auth"
	"shuttle-tracker/internal/cluster"
	"shuttle-tracker/internal/config"
	"shuttle-tracker/internal/db"
	"shuttle-tracker/internal/fusion"
	"shuttle-tracker/internal/metrics"
	"shuttle-tracker/internal/publisher"
	"shuttle-tracker/internal/schedule"
	"shuttle-tracker/internal/stops"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := openDB(ctx, cfg)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer sqlDB.Close()
	store := db.NewStore(sqlDB, cfg.DBDriver)

	stopList := stops.Default()
	if cfg.StopsFile != "" {
		if stopList, err = stops.LoadFile(cfg.StopsFile); err != nil {
			log.Fatalf("stops file error: %v", err)
		}
	}
	registry, err := stops.New(stopList)
	if err != nil {
		log.Fatalf("stops error: %v", err)
	}
	log.Printf("route loaded stops=%d first=%q last=%q", registry.Len(), registry.First().Name, registry.Last().Name)

	users, err := auth.LoadFile(cfg.UsersFile)
	if err != nil {
		log.Fatalf("users file error: %v", err)
	}
	log.Printf("users loaded count=%d", users.Len())

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.ConfirmQuorum, cfg.StalenessWindow, cfg.ArrivalRadius)
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	opts := []fusion.Option{
		fusion.WithClusterEngine(cluster.New(cluster.Params{MaxRadius: cfg.ClusterRadius, MinPoints: cfg.ClusterMinPoints})),
	}
	if mcol != nil {
		opts = append(opts, fusion.WithMetrics(mcol))
	}

	// NATS event publishing is optional
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		opts = append(opts, fusion.WithPublisher(pub))
		log.Printf("publishing bus events to %s", publisher.Subject(cfg.NATSSubjectPrefix, "<bus>"))
	}

	engine := fusion.New(fusion.Config{
		StalenessWindow:       cfg.StalenessWindow,
		ActiveWindow:          cfg.ActiveWindow,
		ArrivalRadius:         cfg.ArrivalRadius,
		MinReportInterval:     cfg.MinReportInterval,
		Quorum:                cfg.ConfirmQuorum,
		DedupeConfirmations:   cfg.ConfirmDedupe,
		StudentSharingDefault: cfg.StudentSharingDefault,
		FuseStudentClusters:   cfg.FuseStudentClusters,
		ResetOnStart:          cfg.ResetOnStart,
		StoreTimeout:          cfg.DBTimeout,
	}, store, registry, opts...)
	if err := engine.Init(ctx, cfg.BusIDs); err != nil {
		log.Fatalf("engine init error: %v", err)
	}
	log.Printf("tracking buses=%v", engine.BusIDs())

	var daily *schedule.Daily
	if cfg.DailyReset {
		daily = schedule.NewDaily(cfg.Location, engine.ResetAll)
		daily.Start(ctx)
	}

	router := api.NewRouter(api.Deps{
		Tracker:     engine,
		Users:       users,
		DB:          sqlDB,
		Metrics:     observer(mcol),
		CORSOrigins: cfg.CORSOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()
	log.Printf("http listening on %s", cfg.HTTPAddr)

	// Block until context cancelled
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if daily != nil {
		daily.Stop()
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn := cfg.DatabaseURL
	if cfg.DBDriver == db.DriverSQLite {
		var err error
		if dsn, err = db.SQLiteDSN(cfg.SQLitePath); err != nil {
			return nil, err
		}
		log.Printf("using sqlite database path=%s", cfg.SQLitePath)
	} else {
		log.Printf("using postgres database")
	}
	sqlDB, err := db.Open(cfg.DBDriver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.InitSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}

// wrapPublisherMetrics keeps a nil collector from becoming a non-nil interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return c
}

func observer(c *metrics.Collector) api.HTTPObserver {
	if c == nil {
		return nil
	}
	return c
}
