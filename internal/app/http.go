package app

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"moderator/api/internal/auth"
	"moderator/api/internal/store"
	"moderator/api/internal/updates"
)

// Authenticator resolves an access token to the identity behind it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*updates.Identity, error)
}

type HTTPServer struct {
	service    *Service
	auth       Authenticator
	metrics    http.Handler
	upgrader   websocket.Upgrader
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, authenticator Authenticator, gatherer prometheus.Gatherer, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &HTTPServer{
		service:    service,
		auth:       authenticator,
		metrics:    promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		corsOrigin: corsOrigin,
		logger:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/services/updates/summary" {
		s.handleUpdatesSocket(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	// /services/assignments/{categories|users}/{id}
	if len(parts) == 4 && parts[0] == "services" && parts[1] == "assignments" && r.Method == http.MethodPost {
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		var body struct {
			Data []flexibleID `json:"data"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		switch parts[2] {
		case "categories":
			if err := s.service.SetCategoryModerators(r.Context(), identity, parts[3], idStrings(body.Data)); err != nil {
				s.writeMappedError(w, r, err)
				return
			}
		case "users":
			if err := s.service.AssignComments(r.Context(), identity, parts[3], idStrings(body.Data)); err != nil {
				s.writeMappedError(w, r, err)
				return
			}
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
		return
	}

	// /rest/articles/{id}/relationships/assignedModerators
	if len(parts) == 5 && parts[0] == "rest" && parts[1] == "articles" && parts[3] == "relationships" && parts[4] == "assignedModerators" && r.Method == http.MethodPatch {
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		var body struct {
			Data []struct {
				Type string     `json:"type"`
				ID   flexibleID `json:"id"`
			} `json:"data"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		userIDs := make([]string, 0, len(body.Data))
		for _, item := range body.Data {
			userIDs = append(userIDs, string(item.ID))
		}
		if err := s.service.SetArticleModerators(r.Context(), identity, parts[2], userIDs); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/rest/tags" {
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		var body struct {
			Data struct {
				Type       string    `json:"type"`
				Attributes store.Tag `json:"attributes"`
			} `json:"data"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tag, err := s.service.CreateTag(r.Context(), identity, body.Data.Attributes)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"data": map[string]any{"type": "tags", "id": tag.ID, "attributes": tag},
		})
		return
	}

	if len(parts) == 3 && parts[0] == "rest" && parts[1] == "tags" && r.Method == http.MethodDelete {
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		if err := s.service.DeleteTag(r.Context(), identity, parts[2]); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/services/updates/notify" {
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		var body struct {
			Scopes  []string        `json:"scopes"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Notify(r.Context(), identity, body.Scopes, body.Payload); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// identify returns the caller's identity, or nil for a missing or rejected
// token. Only lookup failures are errors.
func (s *HTTPServer) identify(r *http.Request) (*updates.Identity, error) {
	token := auth.TokenFromRequest(r)
	if token == "" || s.auth == nil {
		return nil, nil
	}
	identity, err := s.auth.Authenticate(r.Context(), token)
	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrInactiveUser):
		return nil, nil
	default:
		return nil, err
	}
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (*updates.Identity, bool) {
	identity, err := s.identify(r)
	if err != nil {
		s.logger.Error("identify request", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return nil, false
	}
	if identity == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return nil, false
	}
	return identity, true
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.corsOrigin
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// flexibleID accepts ids sent as JSON strings or numbers.
type flexibleID string

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*id = flexibleID(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*id = flexibleID(number.String())
	return nil
}

func idStrings(ids []flexibleID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "Record already exists", nil
	}
	if errors.Is(err, store.ErrUnknownRefID) {
		return http.StatusUnprocessableEntity, "UNKNOWN_REFERENCE", "Referenced record does not exist", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, updates.ErrServiceClosed) {
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Update service is shutting down", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
