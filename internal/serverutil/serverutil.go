package serverutil

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/balticlsc/balticlsc-module/pkg/lg"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig provides default server configuration values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "0.0.0.0:9100",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// RunServer serves handler until ctx is cancelled, then shuts the server
// down gracefully within config.ShutdownTimeout.
func RunServer(ctx context.Context, handler http.Handler, config ServerConfig, log lg.Logger) error {
	ln, err := net.Listen("tcp", config.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, handler, config, log)
}

// Serve is RunServer on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, config ServerConfig, log lg.Logger) error {
	def := DefaultServerConfig()
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return lg.Attach(context.Background(), log) },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", lg.String("addr", ln.Addr().String()))
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("server stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", lg.Err(err))
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
