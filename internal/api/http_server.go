package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"beds4crew/internal/config"
	"beds4crew/internal/domain"
	"beds4crew/internal/metrics"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the booking operations as a JSON API.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     domain.BookingService
	auth    *Authenticator
	limiter *rateLimiter
	logger  zerolog.Logger
	server  *http.Server
}

func NewHTTPServer(cfg config.APIConfig, svc domain.BookingService, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:     cfg,
		svc:     svc,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		logger:  zerolog.Nop(),
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv.handle(mux, "GET /api/v1/properties/{id}/availability", srv.handleAvailability)
	srv.handle(mux, "GET /api/v1/properties/{id}/calendar", srv.handleCalendar)
	srv.handle(mux, "GET /api/v1/properties/{id}/export", srv.handleExport)
	srv.handle(mux, "POST /api/v1/properties/{id}/blocks", srv.handleAddBlock)
	srv.handle(mux, "DELETE /api/v1/properties/{id}/blocks/{blockID}", srv.handleRemoveBlock)

	srv.handle(mux, "POST /api/v1/bookings", srv.handleCreateBooking)
	srv.handle(mux, "GET /api/v1/bookings/guest", srv.handleGuestBookings)
	srv.handle(mux, "GET /api/v1/bookings/host", srv.handleHostBookings)
	srv.handle(mux, "GET /api/v1/bookings/unread/count", srv.handleUnreadCount)
	srv.handle(mux, "GET /api/v1/bookings/{id}", srv.handleGetBooking)
	srv.handle(mux, "POST /api/v1/bookings/{id}/confirm", srv.handleConfirm)
	srv.handle(mux, "POST /api/v1/bookings/{id}/reject", srv.handleReject)
	srv.handle(mux, "POST /api/v1/bookings/{id}/cancel", srv.handleCancel)
	srv.handle(mux, "POST /api/v1/bookings/{id}/messages", srv.handleAppendMessage)
	srv.handle(mux, "POST /api/v1/bookings/{id}/read", srv.handleMarkRead)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// handle registers a route behind access logging, rate limiting and authentication.
func (s *HTTPServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.accessLog(pattern, s.limiter.Middleware(s.auth.Middleware(h))))
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) accessLog(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(route)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
