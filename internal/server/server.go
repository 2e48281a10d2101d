// Package server exposes a computed funnel report over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	log "github.com/sirupsen/logrus"

	"funnel/internal/chart"
	"funnel/internal/funnel"
)

const shutdownTimeout = 5 * time.Second

// Server serves one immutable report.
type Server struct {
	report funnel.Report
	chart  chart.Options
	router chi.Router
}

// Bottleneck is the body of GET /api/funnel/bottleneck.
type Bottleneck struct {
	Stage       string  `json:"stage"`
	DropOffRate float64 `json:"drop_off_rate"`
}

// New builds the router for r.
func New(r funnel.Report, opt chart.Options) *Server {
	s := &Server{report: r, chart: opt}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(requestLogger)
	mux.Use(middleware.Recoverer)

	mux.Get("/", s.handleChart)
	mux.Get("/healthz", s.handleHealth)
	mux.Get("/api/funnel", s.handleReport)
	mux.Get("/api/funnel/bottleneck", s.handleBottleneck)
	s.router = mux
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.WithField("addr", ln.Addr().String()).Info("serving funnel report")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := chart.RenderHTML(w, s.report, s.chart); err != nil {
		log.WithError(err).Error("render chart")
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.report)
}

func (s *Server) handleBottleneck(w http.ResponseWriter, r *http.Request) {
	worst, ok := s.report.Bottleneck()
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "fewer than two stages observed"})
		return
	}
	render.JSON(w, r, Bottleneck{Stage: worst.Stage, DropOffRate: worst.DropOffRate})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, "ok")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
