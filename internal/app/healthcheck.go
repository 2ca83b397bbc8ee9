package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// healthHandler answers 200 while no entity is Failed and 503 listing the
// failed entities otherwise.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	h := a.manager.Health()
	if h.Healthy {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, "FAILED %s\n", strings.Join(h.FailedIDs(), " "))
}

// statusHandler serves the current snapshot as JSON.
func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.manager.Status()); err != nil {
		a.logger.Error("Failed to encode status.", "error", err)
	}
}

func (a *App) healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/status", a.statusHandler)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

// healthCheckServer configures the health check server. It reports false
// when the server is disabled.
func (a *App) healthCheckServer() bool {
	if a.config.HealthcheckPort <= 0 {
		a.logger.Debug("Health check server not started: disabled.")
		return false
	}
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.HealthcheckPort),
		Handler:           a.healthMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return true
}

// serveHealthCheck blocks until the server is closed.
func (a *App) serveHealthCheck() error {
	a.logger.Info("🩺 Health check server starting.", "address", fmt.Sprintf("http://localhost%s/health", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health check server failed: %w", err)
	}
	return nil
}

func (a *App) closeHealthCheckServer() error {
	if a.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), 5*time.Second)
	defer cancel()

	a.logger.Info("🩺 Shutting down health check server.")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Health check server shutdown failed.", "error", err)
		return err
	}
	return nil
}
