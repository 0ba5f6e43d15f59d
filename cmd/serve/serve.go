// Package serve implements the serve command, which runs the API server.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	api "github.com/plantakeoff/autocount-go/internal/api/v2"
	"github.com/plantakeoff/autocount-go/internal/conf"
	"github.com/plantakeoff/autocount-go/internal/datastore"
	"github.com/plantakeoff/autocount-go/internal/imagestore"
	"github.com/plantakeoff/autocount-go/internal/logging"
	"github.com/plantakeoff/autocount-go/internal/materialize"
	"github.com/plantakeoff/autocount-go/internal/observability"
	"github.com/plantakeoff/autocount-go/internal/semantic"
	"github.com/plantakeoff/autocount-go/internal/session"
	"github.com/plantakeoff/autocount-go/internal/vision"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the AutoCount API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}
}

func runServer(settings *conf.Settings) error {
	log := logging.ForService("serve")

	ds := datastore.New(settings)
	if ds == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			log.Error("closing datastore", "error", err)
		}
	}()

	images := imagestore.NewFileStore(settings.Pages.Dir, settings.Pages.CacheTTL)

	var semanticMatcher *semantic.Matcher
	if settings.Vision.Enabled && settings.Vision.APIKey != "" {
		model := vision.NewClient(settings.Vision.Endpoint, settings.Vision.APIKey,
			settings.Vision.Model, settings.Vision.Timeout)
		semanticMatcher = semantic.NewMatcher(model)
		log.Info("semantic matching enabled", "model", settings.Vision.Model)
	} else {
		log.Info("semantic matching disabled, geometric only")
	}

	registry := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	engine := session.NewEngine(ds, images, semanticMatcher, settings, metrics)
	materializer := materialize.NewMaterializer(ds, materialize.NewSink(settings), metrics)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Gzip())

	api.New(e, ds, settings, engine, materializer, registry)

	addr := fmt.Sprintf("%s:%d", settings.HTTP.Host, settings.HTTP.Port)
	errChan := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	log.Info("server started", "addr", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	// Let in-flight detection runs finish before stopping the server.
	engine.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
