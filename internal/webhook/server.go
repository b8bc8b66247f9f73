package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chimerabot/qqgate/internal/payload"
	"github.com/chimerabot/qqgate/internal/queue"
	"github.com/chimerabot/qqgate/internal/signature"
)

// Server is the platform callback HTTP server.
type Server struct {
	config Config
	sig    *signature.Service
	queue  EventQueuer
	logger *slog.Logger
	server *http.Server
}

// New creates a new callback server instance.
func New(config Config, sig *signature.Service, queue EventQueuer, logger *slog.Logger) *Server {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.CallbackPath == "" {
		config.CallbackPath = DefaultCallbackPath
	}

	return &Server{
		config: config,
		sig:    sig,
		queue:  queue,
		logger: logger,
	}
}

// Start starts the callback HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("callback server starting", "listen", s.config.Listen, "path", s.config.CallbackPath)

	// Run server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("callback server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("callback server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("callback server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post(s.config.CallbackPath, s.handleCallback)

	return r
}

// loggingMiddleware logs HTTP requests (excludes payload contents).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("callback request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleCallback handles every platform POST: challenge, event, or probe.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Read the exact raw bytes first; both verification paths sign over them.
	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	env, err := payload.Parse(body)
	if err != nil {
		s.logger.Warn("malformed callback payload", "error", err)
		s.respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if env.Op == nil {
		// No op code at all. Treat like an unrecognized op: ACK it.
		s.respondEmpty(w, http.StatusOK)
		return
	}

	switch *env.Op {
	case OpCallbackVerify:
		s.handleChallenge(w, env)
	case OpDispatch:
		s.handleEvent(w, r, env, body)
	default:
		// Unrecognized ops are liveness probes; never reject them.
		s.logger.Debug("acknowledging unrecognized op", "op", *env.Op)
		s.respondEmpty(w, http.StatusOK)
	}
}

// handleChallenge answers the callback-URL validation handshake (op=13).
// Absent challenge fields sign as empty strings rather than erroring: the
// platform's verification tooling treats any non-200 as a dead endpoint.
func (s *Server) handleChallenge(w http.ResponseWriter, env *payload.Envelope) {
	c := payload.ParseChallenge(env.D)

	sig := s.sig.SignChallenge(c.EventTS, c.PlainToken)
	s.logger.Info("callback validation challenge answered")

	s.respondJSON(w, http.StatusOK, ChallengeResponse{
		PlainToken: c.PlainToken,
		Signature:  sig,
	})
}

// handleEvent verifies and accepts a signed platform event (op=0).
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request, env *payload.Envelope, body []byte) {
	sigHex := r.Header.Get(HeaderSignature)
	ts := r.Header.Get(HeaderTimestamp)
	if sigHex == "" || ts == "" {
		s.logger.Warn("event missing signature headers")
		s.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := s.sig.VerifyEvent(body, sigHex, ts); err != nil {
		// Bad hex and a failed verify get the same response on purpose.
		s.logger.Warn("event signature verification failed", "error", err)
		s.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if env.T == "" {
		// Verified but typeless; nothing can be routed, so just ACK.
		s.logger.Info("verified event without type acknowledged")
		s.respondEmpty(w, http.StatusOK)
		return
	}

	eventID, err := s.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		EventType:   env.T,
		Payload:     env.D,
		MaxAttempts: s.config.MaxAttempts,
		DedupeKey:   queue.DedupeKey(ts, body),
	})
	if errors.Is(err, queue.ErrDuplicate) {
		// Platform retry of a delivery we already accepted. ACK again.
		s.logger.Info("duplicate event delivery acknowledged", "event_type", env.T)
		s.respondEmpty(w, http.StatusOK)
		return
	}
	if err != nil {
		s.logger.Error("failed to enqueue event",
			"event_type", env.T,
			"error", err,
		)
		s.respondError(w, http.StatusInternalServerError, "failed to accept event")
		return
	}

	s.logger.Info("event accepted",
		"event_type", env.T,
		"event_id", eventID,
	)

	s.respondEmpty(w, http.StatusOK)
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondEmpty sends a status code with no body.
func (s *Server) respondEmpty(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
