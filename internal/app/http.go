package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"parley/api/internal/auth"
	"parley/api/internal/metrics"
	"parley/api/internal/realtime"
	"parley/api/internal/store"
	"parley/api/internal/tenant"
)

// TenantHealth is the manager's view used by the readiness probe.
type TenantHealth interface {
	Cached() []string
	Ping(ctx context.Context) map[string]error
}

type ServerOptions struct {
	Service        *Service
	Hub            *realtime.Hub
	Tenants        TenantHealth
	JWTSecret      []byte
	CORSOrigin     string
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type HTTPServer struct {
	service        *Service
	hub            *realtime.Hub
	tenants        TenantHealth
	secret         []byte
	corsOrigin     string
	requestTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics
	gatherer       prometheus.Gatherer
}

func NewHTTPServer(opts ServerOptions) *HTTPServer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	return &HTTPServer{
		service:        opts.Service,
		hub:            opts.Hub,
		tenants:        opts.Tenants,
		secret:         opts.JWTSecret,
		corsOrigin:     opts.CORSOrigin,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		gatherer:       opts.Gatherer,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument)

	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	conference := router.PathPrefix("/api/conferences/{code}").Subrouter()
	conference.Use(s.authenticate)
	conference.HandleFunc("/ws", s.handleStream).Methods(http.MethodGet)

	api := conference.NewRoute().Subrouter()
	api.Use(s.withTimeout)
	api.HandleFunc("/participants", s.handleListParticipants).Methods(http.MethodGet)
	api.HandleFunc("/participants", s.handleAddParticipant).Methods(http.MethodPost)
	api.HandleFunc("/participants/{id}", s.handleUpdateParticipant).Methods(http.MethodPatch)
	api.HandleFunc("/participants/{id}", s.handleRemoveParticipant).Methods(http.MethodDelete)
	api.HandleFunc("/notes", s.handleListNotes).Methods(http.MethodGet)
	api.HandleFunc("/notes", s.handleCreateNote).Methods(http.MethodPost)
	api.HandleFunc("/notes/pending", s.handleListPending).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}", s.handleGetNote).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}", s.handleDeleteNote).Methods(http.MethodDelete)
	api.HandleFunc("/notes/{id}/lock", s.handleLockNote).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}/unlock", s.handleUnlockNote).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}/approve", s.handleApproveNote).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}/reject", s.handleRejectNote).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(true),
	)(router)
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{s.corsOrigin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
	)(recovered)
	return s.withMiddleware(cors)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	cached := []string{}
	failures := map[string]string{}
	if s.tenants != nil {
		cached = s.tenants.Cached()
		for code, err := range s.tenants.Ping(ctx) {
			failures[code] = err.Error()
		}
	}
	if len(failures) > 0 {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":       len(failures) == 0,
		"status":   status,
		"tenants":  cached,
		"failures": failures,
	})
}

type identityKey struct{}

type requestIDKey struct{}

// authenticate reads the bearer token, falling back to ?access_token= for
// WebSocket clients that cannot set headers.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		claims, err := auth.ParseToken(s.secret, token)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identity(r *http.Request) string {
	email, _ := r.Context().Value(identityKey{}).(string)
	return email
}

// instrument runs after routing so the route template, not the raw path,
// labels the request metrics.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		started := time.Now()
		writer, ok := w.(*statusRecorder)
		if !ok {
			writer = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		}
		next.ServeHTTP(writer, r)
		s.metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(writer.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(started).Seconds())
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("HTTP request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
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

// Hijack lets the WebSocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type recoveryLogger struct {
	logger *zap.Logger
}

func (l recoveryLogger) Println(args ...any) {
	l.logger.Error("Recovered from panic", zap.String("panic", fmt.Sprint(args...)))
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, tenant.ErrInvalidCode):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Conference code is required", nil
	case errors.Is(err, tenant.ErrTenantNotFound):
		return http.StatusNotFound, "TENANT_NOT_FOUND", "Conference not found", nil
	case errors.Is(err, tenant.ErrTenantUnavailable):
		return http.StatusServiceUnavailable, "TENANT_UNAVAILABLE", "Conference is temporarily unavailable", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	case errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired", nil
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
