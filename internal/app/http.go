package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paperai/api/internal/ai"
	"paperai/api/internal/auth"
	"paperai/api/internal/kv"
	"paperai/api/internal/ratelimit"
)

type HTTPServer struct {
	service    *ai.Service
	store      kv.Store
	jwtSecret  string
	corsOrigin string
}

func NewHTTPServer(service *ai.Service, store kv.Store, jwtSecret, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		store:      store,
		jwtSecret:  jwtSecret,
		corsOrigin: corsOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// aiRequest is the inbound body shared by the text operations. Template
// generation sends `type` instead of `text`.
type aiRequest struct {
	Text    string     `json:"text"`
	Type    string     `json:"type"`
	UserID  string     `json:"userId"`
	Context ai.Context `json:"context"`
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
		// Check key-value store connectivity
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}

		if err := s.store.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
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

	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/ai/") {
		s.handleAIOperation(w, r, strings.TrimPrefix(r.URL.Path, "/api/ai/"))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ai/usage" {
		s.handleUsage(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ai/metrics" {
		s.handleMetrics(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// operations maps URL suffixes to service calls. Template generation is
// handled separately because its input is a document type, not text.
var operations = map[string]func(*ai.Service, context.Context, string, string, ai.Context) (ai.Result, error){
	"grammar":     (*ai.Service).CheckGrammar,
	"style":       (*ai.Service).ImproveStyle,
	"summarize":   (*ai.Service).Summarize,
	"expand":      (*ai.Service).Expand,
	"suggestions": (*ai.Service).Suggest,
}

func (s *HTTPServer) handleAIOperation(w http.ResponseWriter, r *http.Request, name string) {
	var body aiRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	userID, err := s.resolveUserID(r, body.UserID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	var input string
	var call func(*ai.Service, context.Context, string, string, ai.Context) (ai.Result, error)
	if name == "template" {
		input = strings.TrimSpace(body.Type)
		call = (*ai.Service).GenerateTemplate
		if input == "" {
			writeError(w, http.StatusBadRequest, "MISSING_TYPE", "Field 'type' is required", nil)
			return
		}
	} else {
		op, ok := operations[name]
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown AI operation", nil)
			return
		}
		input = body.Text
		call = op
		if strings.TrimSpace(input) == "" {
			writeError(w, http.StatusBadRequest, "MISSING_TEXT", "Field 'text' is required", nil)
			return
		}
	}

	result, err := call(s.service, r.Context(), userID, input, body.Context)
	if err != nil {
		var limitErr *ratelimit.LimitError
		if errors.As(err, &limitErr) {
			w.Header().Set("Retry-After", strconv.FormatInt(limitErr.RetryAfterSeconds, 10))
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	response := map[string]any{
		"content": result.Content,
		"cached":  result.Cached,
	}
	if result.Structured != nil {
		response["structuredResponse"] = result.Structured
		if result.Structured.Analysis != nil {
			response["analysis"] = result.Structured.Analysis
		}
		if result.Structured.Template != nil {
			response["template"] = result.Structured.Template
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := s.resolveUserID(r, r.URL.Query().Get("userId"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	usage, err := s.service.Limiter().UsageFor(r.Context(), userID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ENDPOINT", "Query parameter 'endpoint' is required", nil)
		return
	}

	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 30 {
			writeError(w, http.StatusBadRequest, "INVALID_DAYS", "Query parameter 'days' must be between 1 and 30", nil)
			return
		}
		days = parsed
	}

	metrics, err := s.service.Monitor().PerformanceMetrics(r.Context(), endpoint, days)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	response := map[string]any{"endpoint": endpoint, "metrics": metrics}
	if record, err := s.service.Monitor().ErrorMetrics(r.Context(), endpoint); err == nil && record != nil {
		response["lastError"] = record
	}
	writeJSON(w, http.StatusOK, response)
}

// resolveUserID returns the verified identity when token auth is
// configured, otherwise the caller-supplied userId (local development).
func (s *HTTPServer) resolveUserID(r *http.Request, fromRequest string) (string, error) {
	if s.jwtSecret != "" {
		token := bearerToken(r)
		if token == "" {
			return "", domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token", nil)
		}
		claims, err := auth.ParseToken([]byte(s.jwtSecret), token)
		if err != nil {
			return "", err
		}
		return claims.Sub, nil
	}
	userID := strings.TrimSpace(fromRequest)
	if userID == "" {
		return "", domainError(http.StatusBadRequest, "MISSING_USER_ID", "Field 'userId' is required", nil)
	}
	return userID, nil
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
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
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

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		return http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded", map[string]any{
			"scope":             limitErr.Scope,
			"retryAfterSeconds": limitErr.RetryAfterSeconds,
		}
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, ai.ErrOperationFailed) {
		return http.StatusInternalServerError, "AI_REQUEST_FAILED", "AI request failed", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
