package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Server owns the HTTP listener serving both the device polling API and the dashboard.
type Server struct {
	httpServer *http.Server
}

const (
	maxHeaderBytes    = 1 << 16 // device reports are small
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		// no WriteTimeout: the dashboard websocket stream is long-lived
		IdleTimeout: idleTimeout,
	}
}

// normalizeAddr accepts "8080" or ":8080" and defaults to :8080.
func normalizeAddr(port string) string {
	switch {
	case port == "":
		return ":8080"
	case strings.HasPrefix(port, ":"), strings.Contains(port, ":"):
		return port
	default:
		return ":" + port
	}
}

// Run blocks serving handler on port. A graceful Shutdown is not reported as an error.
func (s *Server) Run(port string, handler http.Handler) error {
	s.httpServer = newHTTPServer(normalizeAddr(port), handler)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
