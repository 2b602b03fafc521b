package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"execgateway/internal/api"
	"execgateway/internal/websocket"
	"execgateway/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

// serve запускает REST/WebSocket API до отмены контекста (SIGINT/SIGTERM)
func (a *app) serve(ctx context.Context, args []string) error {
	fs := a.flags("serve")
	addr := fs.String("addr", a.cfg.Server.Addr(), "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hub := websocket.NewHub(a.cfg.Server.AllowedOrigins...)
	hub.SetSnapshot(a.store.ListAll)
	a.store.RegisterUpdateListener(hub)
	go hub.Run()
	defer hub.Stop()

	if a.cfg.Server.APITokenHash == "" {
		utils.Warn("API_TOKEN_HASH is empty, API authentication is disabled")
	}

	server := &http.Server{
		Addr: *addr,
		Handler: api.SetupRoutes(&api.Dependencies{
			OrderService:   a.svc,
			Hub:            hub,
			TokenHash:      a.cfg.Server.APITokenHash,
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second, // больше суммарного времени повторов к бирже
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Info("starting server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	utils.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	utils.Info("server exited")
	return nil
}
