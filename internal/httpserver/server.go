package httpserver

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"myaccountapp/account-client/internal/audit"
	"myaccountapp/account-client/internal/auth"
	"myaccountapp/account-client/internal/config"
	"myaccountapp/account-client/internal/session"
)

type Coordinator interface {
	Snapshot() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
	SignIn(ctx context.Context, email, password string) (auth.Session, error)
	Register(ctx context.Context, displayName, email, password string) (auth.Session, error)
	SignOut(ctx context.Context)
	ResetPassword(ctx context.Context, email string) error
	DeleteAccount(ctx context.Context) error
	FetchProfile(ctx context.Context) error
}

type AuditLogger interface {
	Record(e audit.Event) error
}

type Deps struct {
	Coordinator    Coordinator
	Audit          AuditLogger
	Metrics        http.Handler
	Logger         *slog.Logger
	Token          string
	AllowedOrigins []string
	RateLimit      RateLimitConfig
}

type Server struct {
	httpServer *http.Server
	handler    *Handler
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	handler := NewHandler(deps)

	return &Server{
		handler: handler,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.handler.Close()
	return s.httpServer.Shutdown(ctx)
}

// Handler is the bridge's router plus the state stream and rate limiter it
// owns. Close releases both.
type Handler struct {
	router      chi.Router
	hub         *Hub
	limiter     *RateLimiter
	unsubscribe func()
}

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	log := deps.Logger.With("component", "httpserver")

	h := &Handler{
		hub:     NewHub(log, deps.AllowedOrigins),
		limiter: NewRateLimiter(deps.RateLimit),
	}
	if deps.Coordinator != nil {
		h.unsubscribe = deps.Coordinator.Subscribe(h.hub.Publish)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Coordinator == nil {
			writeError(w, http.StatusServiceUnavailable, "coordinator unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Get("/v1/info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "account-client-bridge",
			"version": "0.1.0",
		})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(tokenMiddleware(deps.Token))
		r.Use(requireCoordinator(deps.Coordinator))
		registerSessionHandlers(r, deps, h.limiter)
		r.Get("/v1/session/events", func(w http.ResponseWriter, r *http.Request) {
			h.hub.Serve(w, r, deps.Coordinator.Snapshot)
		})
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.hub.Close()
	h.limiter.Stop()
}

func requireCoordinator(c Coordinator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil {
				writeError(w, http.StatusServiceUnavailable, "coordinator unavailable")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tokenMiddleware checks the bridge token. Browsers cannot set headers on a
// WebSocket handshake, so the token is also accepted as ?token=.
func tokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, err := extractBearerToken(r.Header.Get("Authorization"))
			if err != nil {
				presented = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var errMissingBearer = errors.New("missing bearer token")

func extractBearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errMissingBearer
	}
	return strings.TrimSpace(parts[1]), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID)))
	})
}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey{}).(string); ok {
		return s
	}
	return ""
}

func loggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("request",
				"request_id", requestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func auditOp(a AuditLogger, log *slog.Logger, r *http.Request, operation, subject string, err error) {
	if a == nil {
		return
	}
	e := audit.Event{
		RequestID: requestIDFromContext(r.Context()),
		Client:    clientIP(r),
		Operation: operation,
		Subject:   subject,
		Outcome:   session.Outcome(err),
	}
	if code := auth.CodeOf(err); code != "" {
		e.Detail = string(code)
	}
	if recErr := a.Record(e); recErr != nil {
		log.Warn("audit write failed", "operation", operation, "error", recErr)
	}
}
