package relayserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"conclave/internal/domain"
	"conclave/internal/storage/sqlite"
	"conclave/internal/telemetry"
)

// Server wires the HTTP surface to the store and the session registry.
type Server struct {
	cfg       *Config
	log       *zap.Logger
	store     *sqlite.Store
	registry  *Registry
	validator domain.KeyPackageValidator
	http      *http.Server
}

// New builds the server and its routes.
func New(cfg *Config, log *zap.Logger, store *sqlite.Store, registry *Registry, validator domain.KeyPackageValidator) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		store:     store,
		registry:  registry,
		validator: validator,
	}

	mux := http.NewServeMux()
	mux.Handle("POST /v1/keypackages/{client}", telemetry.Instrument("upload_package", http.HandlerFunc(s.handleUploadPackage)))
	mux.Handle("GET /v1/keypackages/{client}", telemetry.Instrument("fetch_package", http.HandlerFunc(s.handleFetchPackage)))
	mux.Handle("POST /v1/messages", telemetry.Instrument("send", http.HandlerFunc(s.handleSend)))
	mux.Handle("GET /v1/messages/{client}", telemetry.Instrument("receive", http.HandlerFunc(s.handleReceive)))
	mux.Handle("GET /metrics", telemetry.MetricsHandler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.accessLog(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops. A clean Shutdown is
// not an error.
func (s *Server) ListenAndServe() error {
	s.log.Info("relay listening", zap.String("addr", s.cfg.Listen))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown ends every live stream and then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.CloseAll()
	return s.http.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// accessLog records method, path, remote, status, bytes and duration
// for each request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", lw.status),
			zap.Int("bytes", lw.bytes),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type loggingWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Flush forwards to the underlying writer so streaming handlers keep
// working behind the wrapper.
func (w *loggingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
