// Package relay connects the session to the downstream HTTP service.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

const maxBodyBytes = 1 << 20

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string
	Port            int
	Session         domain.Session
	MetricsEndpoint string // empty disables the metrics route
	Logger          *slog.Logger
}

// Server accepts send requests from the downstream service.
type Server struct {
	addr    string
	session domain.Session
	logger  *slog.Logger
	mux     *http.ServeMux
	server  *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	s := &Server{
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		session: cfg.Session,
		logger:  cfg.Logger,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /send", s.handleSend)
	if cfg.MetricsEndpoint != "" {
		s.mux.Handle("GET "+cfg.MetricsEndpoint, metrics.Collector.Handler())
	}
	return s
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("bridge listening", "addr", "http://"+s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) handleSend(rw http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload Payload
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(body, &payload)
	}
	if err != nil || payload.Numero == "" || payload.Mensagem == "" {
		writeStatus(rw, http.StatusBadRequest, statusError, detailMissingFields)
		return
	}

	if !s.session.Ready() {
		writeStatus(rw, http.StatusServiceUnavailable, statusError, detailNotReady)
		return
	}

	req := domain.OutboundRequest{To: domain.ParseAddress(payload.Numero), Body: payload.Mensagem}
	if err := s.session.SendText(r.Context(), req.To, req.Body); err != nil {
		if errors.Is(err, domain.ErrSessionNotReady) {
			writeStatus(rw, http.StatusServiceUnavailable, statusError, detailNotReady)
			return
		}
		s.logger.Error("send through session failed", "to", req.To.String(), "err", err)
		writeStatus(rw, http.StatusInternalServerError, statusError, err.Error())
		return
	}

	s.logger.Info("message sent", "to", req.To.String(), "kind", req.To.Kind.String(), "text_len", len(req.Body))
	writeStatus(rw, http.StatusOK, statusOK, "")
}

func writeStatus(rw http.ResponseWriter, code int, status, detail string) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(StatusResponse{Status: status, Detail: detail})
}
