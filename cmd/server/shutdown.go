package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// sessionShutdowner is the part of the session service shutdown needs.
type sessionShutdowner interface {
	InterruptAll()
	Shutdown(ctx context.Context) error
}

// gracefulShutdown stops the server and its sessions. Open SSE streams only
// end once their session does, so sessions are interrupted as soon as the
// listeners close rather than after the HTTP drain. Returns once every
// session has been persisted.
func gracefulShutdown(ctx context.Context, server *http.Server, sessions sessionShutdowner, logger *slog.Logger) error {
	server.RegisterOnShutdown(sessions.InterruptAll)

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := sessions.Shutdown(ctx); err != nil {
		return fmt.Errorf("wait for sessions: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
