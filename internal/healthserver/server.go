// Package healthserver implements the built-in diagnostic worker: a
// plain HTTP server bound to an ephemeral port, used to smoke-test a
// tether deployment end to end without shipping a real worker.
package healthserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type Config struct {
	// Host is the interface to bind. Empty means localhost.
	Host string

	// Port is the port to bind. Zero picks an ephemeral port.
	Port int

	// H2c enables the HTTP/2 cleartext upgrade.
	H2c bool
}

type Server struct {
	server   *http.Server
	listener net.Listener
	started  time.Time
	log      *zap.Logger
}

func New(config Config, log *zap.Logger) *Server {
	s := &Server{
		started: time.Now(),
		log:     log.Named("healthserver"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/info", s.infoHandler)

	var handler http.Handler = mux
	if config.H2c {
		handler = h2c.NewHandler(mux, &http2.Server{})
	}

	host := config.Host
	if host == "" {
		host = "localhost"
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, config.Port),
		Handler: handler,
	}

	return s
}

// Listen binds the server socket and returns the bound host and port.
// Binding before Serve lets the caller publish the actual ephemeral
// port in its handshake.
func (s *Server) Listen(ctx context.Context) (string, int, error) {
	cfg := net.ListenConfig{}

	listener, err := cfg.Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		return "", 0, err
	}

	s.listener = listener

	addr := listener.Addr().(*net.TCPAddr)

	s.log.Info("listening", zap.String("address", addr.String()))

	return addr.IP.String(), addr.Port, nil
}

// Serve blocks serving requests until Shutdown is called.
func (s *Server) Serve() error {
	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		s.log.Error("failed to serve", zap.Error(err))
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Error("failed to shutdown", zap.Error(err))
		return err
	}

	return nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) infoHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]any{
		"pid":     os.Getpid(),
		"started": s.started.Format(time.RFC3339),
		"uptime":  time.Since(s.started).String(),
	})
}
