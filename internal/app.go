package internal

import (
	"cloutdash/internal/backup/interfaces"
	"cloutdash/internal/controllers"
	"cloutdash/internal/docstore"
	"cloutdash/internal/localcache"
	"cloutdash/internal/providers"
	"cloutdash/internal/structures"
	"cloutdash/internal/syncer"
	"context"
	"fmt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

type App struct {
	WebServer *http.Server
}

func NewApp(
	healthController *controllers.HealthController,
	orchestrator syncer.OrchestratorInterface,
	importer syncer.ImporterInterface,
	scheduler interfaces.SchedulerInterface,
	store docstore.Store,
	local localcache.Cache,
	conf *structures.Config,
	logger providers.Logger,
	router providers.RouterProviderInterface,
	metrics providers.MetricsProviderInterface,
) (*App, error) {
	// Inner mux: API routes
	apiMux := http.NewServeMux()
	for _, route := range router.GetRoutes() {
		apiMux.Handle(route.Url, route.Handler)
	}

	instrumentedAPI := providers.MetricsMiddleware(metrics, apiMux)

	// Outer mux: infrastructure + instrumented API
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthController.Health)
	if conf.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Handle("/", instrumentedAPI)

	logger.Infof(providers.TypeApp, "Starting %s", conf.AppName)
	orchestrator.Start()
	if err := importer.Init(); err != nil {
		logger.Errorf(providers.TypeApp, "Import inbox disabled: %s", err)
	}
	scheduler.Init()

	app := &App{
		WebServer: &http.Server{
			Addr:        conf.WebServer.Host + ":" + strconv.Itoa(conf.WebServer.Port),
			Handler:     mux,
			ReadTimeout: 15 * time.Second,
			// no WriteTimeout: /clear/ws streams for the whole bulk delete
			IdleTimeout: 60 * time.Second,
		},
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof(providers.TypeApp, "Listening HTTP clients on %s:%d", conf.WebServer.Host, conf.WebServer.Port)
		if err := app.WebServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-stop:
		logger.Infof(providers.TypeApp, "Shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if runErr == nil {
		if err := app.WebServer.Shutdown(ctx); err != nil {
			runErr = err
		}
	}

	scheduler.Stop()
	importer.Stop()
	// drains pending writes before the stores close
	orchestrator.Stop()
	if err := scheduler.Persist(); err != nil {
		logger.Errorf(providers.TypeApp, "Final backup failed: %s", err)
	}
	if err := local.Close(); err != nil {
		logger.Errorf(providers.TypeApp, "Local cache close error: %s", err)
	}
	if err := store.Close(); err != nil {
		logger.Errorf(providers.TypeApp, "Document store close error: %s", err)
	}
	if runErr != nil {
		return nil, runErr
	}
	logger.Infof(providers.TypeApp, "gracefully stopped")
	return app, nil
}
