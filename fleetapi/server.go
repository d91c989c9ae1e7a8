package fleetapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// CreateRouter builds the operator API router over the given fleet.
func CreateRouter(fleet Fleet) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/health", handleHealthCheck)

	newFleetAPI(fleet).Bind(r)
	newNodesAPI(fleet).Bind(r)

	return r
}

func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, &struct {
		Status string
	}{Status: "ok"})
}

// StartServer serves the operator API on bindAddr until the context is
// cancelled.
func StartServer(ctx context.Context, fleet Fleet, logger kitlog.Logger, bindAddr string) error {
	server := &http.Server{
		Addr:    bindAddr,
		Handler: CreateRouter(fleet),
	}

	go func() {
		<-ctx.Done()

		if err := server.Shutdown(context.Background()); err != nil {
			level.Error(logger).Log("msg", "failed to shutdown server", "err", err)
		}
	}()

	level.Info(logger).Log("msg", "serving operator api", "addr", bindAddr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
