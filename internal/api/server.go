package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"classroomhub/internal/assignment"
	"classroomhub/internal/auth"
	"classroomhub/internal/logging"
	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

// Joiner places users into sessions.
type Joiner interface {
	Join(ctx context.Context, req assignment.JoinRequest) (*assignment.JoinResult, error)
}

// Classrooms lists classroom definitions.
type Classrooms interface {
	List(ctx context.Context) ([]*types.Classroom, error)
}

// Sessions reads stored sessions.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*types.Session, error)
}

// Scores reads a session's scores.
type Scores interface {
	ScoresForSession(ctx context.Context, sessionID string) (types.SessionScores, error)
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	LiveUsers(sessionID string) []string
	Stats() map[string]int
}

// HealthChecker reports storage health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the collaborators the HTTP layer serves.
type Dependencies struct {
	Joiner     Joiner
	Classrooms Classrooms
	Sessions   Sessions
	Scores     Scores
	Registry   Registry
	Store      HealthChecker
	Validator  interfaces.TokenValidator
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type claimsKey struct{}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Dependencies
	router  *http.ServeMux
	logger  *slog.Logger
	started time.Time
}

// NewServer creates the HTTP API and sets up its routes.
// FUNCTIONAL DISCOVERY: Dependency injection pattern maintains architectural boundaries
func NewServer(deps Dependencies, logger *slog.Logger) *Server {
	s := &Server{
		deps:    deps,
		router:  http.NewServeMux(),
		logger:  logging.OrDiscard(logger),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: CORS and JSON middleware applied to all API routes
// for web client compatibility; classroom and session routes also require a token
func (s *Server) setupRoutes() {
	s.router.Handle("/api/classrooms", s.api(s.authMiddleware(http.HandlerFunc(s.handleClassrooms))))
	s.router.Handle("/api/classrooms/join", s.api(s.authMiddleware(http.HandlerFunc(s.handleJoin))))
	s.router.Handle("/api/sessions/", s.api(s.authMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/api/auth/validate", s.api(http.HandlerFunc(s.handleValidate)))
	s.router.Handle("/health", s.api(http.HandlerFunc(s.healthCheck)))
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics)
	}
}

// Handle mounts an additional handler, such as the WebSocket endpoint.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.router.Handle(pattern, handler)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) api(next http.Handler) http.Handler {
	return s.corsMiddleware(s.jsonMiddleware(next))
}

// JoinRequest is the body of POST /api/classrooms/join.
type JoinRequest struct {
	ClassroomID string `json:"classroomId"`
	BookingID   string `json:"bookingId,omitempty"`
}

// JoinResponse is the session a user was placed into.
type JoinResponse struct {
	Session   *types.Session      `json:"session"`
	Scores    types.SessionScores `json:"scores"`
	Sections  []types.Section     `json:"sections"`
	StartTime time.Time           `json:"startTime"`
	Created   bool                `json:"created"`
}

type ListClassroomsResponse struct {
	Classrooms []*types.Classroom `json:"classrooms"`
}

type SessionResponse struct {
	Session   *types.Session      `json:"session"`
	Scores    types.SessionScores `json:"scores"`
	LiveUsers []string            `json:"liveUsers"`
}

type ValidateResponse struct {
	Valid   bool          `json:"valid"`
	Payload *types.Claims `json:"payload,omitempty"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	System      map[string]any `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /api/classrooms - List classroom definitions
func (s *Server) handleClassrooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	classrooms, err := s.deps.Classrooms.List(r.Context())
	if err != nil {
		s.sendDomainError(w, r, "list classrooms", err)
		return
	}
	if classrooms == nil {
		classrooms = []*types.Classroom{}
	}
	s.sendJSON(w, http.StatusOK, ListClassroomsResponse{Classrooms: classrooms})
}

// FUNCTIONAL DISCOVERY: POST /api/classrooms/join - Place the caller into a session.
// The user always comes from the token, never from the body
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := claimsFrom(r.Context())

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ClassroomID == "" {
		s.sendError(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	result, err := s.deps.Joiner.Join(r.Context(), assignment.JoinRequest{
		ClassroomID: req.ClassroomID,
		UserID:      claims.ID,
		BookingID:   req.BookingID,
	})
	if err != nil {
		s.sendDomainError(w, r, "join classroom", err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	s.sendJSON(w, status, JoinResponse{
		Session:   result.Session,
		Scores:    result.Scores,
		Sections:  result.Sections,
		StartTime: result.StartTime,
		Created:   result.Created,
	})
}

// FUNCTIONAL DISCOVERY: GET /api/sessions/{id} - Session details with scores and live users
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")[0]
	if sessionID == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.deps.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.sendDomainError(w, r, "get session", err)
		return
	}
	scores, err := s.deps.Scores.ScoresForSession(r.Context(), sessionID)
	if err != nil {
		s.sendDomainError(w, r, "get session scores", err)
		return
	}
	live := s.deps.Registry.LiveUsers(sessionID)
	if live == nil {
		live = []string{}
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: session, Scores: scores, LiveUsers: live})
}

// FUNCTIONAL DISCOVERY: GET /api/auth/validate - Report whether the bearer token is valid
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok, err := auth.Authenticate(r, s.deps.Validator)
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		s.sendError(w, "No token found", http.StatusBadRequest)
	case err != nil:
		s.sendDomainError(w, r, "validate token", err)
	case !ok:
		s.sendJSON(w, http.StatusOK, ValidateResponse{Valid: false})
	default:
		s.sendJSON(w, http.StatusOK, ValidateResponse{Valid: true, Payload: claims})
	}
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.deps.Registry.Stats(),
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

// sendDomainError maps err through the shared error taxonomy. Internal causes are
// logged, never returned to the client.
func (s *Server) sendDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := types.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
	}
	s.sendError(w, types.Reason(err), code)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// authMiddleware rejects requests without a valid token and carries the
// claims in the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok, err := auth.Authenticate(r, s.deps.Validator)
		if err != nil && !errors.Is(err, auth.ErrMissingToken) {
			s.sendDomainError(w, r, "authenticate", err)
			return
		}
		if err != nil || !ok || claims == nil {
			s.sendError(w, "Invalid or missing token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, *claims)))
	})
}

func claimsFrom(ctx context.Context) types.Claims {
	claims, _ := ctx.Value(claimsKey{}).(types.Claims)
	return claims
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
