package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/models"
)

type contextKey string

const AgentContextKey contextKey = "agent"

// AgentLookup finds the agent owning an API key hash.
type AgentLookup interface {
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (*models.Agent, error)
}

// AuthMiddleware authenticates requests by bearer API key.
type AuthMiddleware struct {
	agents AgentLookup
	appURL string
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware. appURL is used in the
// claim hint returned to unclaimed agents.
func NewAuthMiddleware(agents AgentLookup, appURL string, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{agents: agents, appURL: appURL, logger: logger}
}

// RequireAgent accepts any registered agent, claimed or not.
func (m *AuthMiddleware) RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent, ok := m.authenticate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AgentContextKey, agent)))
	})
}

// RequireClaimed accepts only claimed agents.
func (m *AuthMiddleware) RequireClaimed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent, ok := m.authenticate(w, r)
		if !ok {
			return
		}

		switch agent.Status {
		case models.StatusPendingClaim:
			hint := ""
			if agent.ClaimCode != nil {
				hint = "Complete the claim process at: " + m.appURL + "/claim/" + *agent.ClaimCode
			}
			WriteError(w, http.StatusForbidden, "Agent not yet claimed", "NOT_CLAIMED", hint)
			return
		case models.StatusSuspended:
			WriteError(w, http.StatusForbidden, "Agent is suspended", "SUSPENDED", "")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AgentContextKey, agent)))
	})
}

func (m *AuthMiddleware) authenticate(w http.ResponseWriter, r *http.Request) (*models.Agent, bool) {
	key := APIKey(r)
	if key == "" {
		WriteError(w, http.StatusUnauthorized, "Missing or invalid Authorization header", "UNAUTHORIZED",
			"Use: Authorization: Bearer YOUR_API_KEY")
		return nil, false
	}

	agent, err := m.agents.GetAgentByAPIKeyHash(r.Context(), crypto.HashAPIKey(key))
	if err != nil {
		m.logger.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("api key lookup failed")
		WriteError(w, http.StatusInternalServerError, "Authentication failed", "INTERNAL_ERROR", "")
		return nil, false
	}
	if agent == nil {
		WriteError(w, http.StatusUnauthorized, "Invalid API key", "UNAUTHORIZED", "")
		return nil, false
	}
	return agent, true
}

// APIKey returns the bearer token of a request, or "".
func APIKey(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// ErrorBody is the failure envelope of every API response.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Hint    string `json:"hint,omitempty"`
}

// WriteError sends a failure envelope.
func WriteError(w http.ResponseWriter, status int, message, code, hint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorBody{Error: message, Code: code, Hint: hint})
}

// GetAgentFromContext retrieves the authenticated agent from the request context.
func GetAgentFromContext(ctx context.Context) *models.Agent {
	agent, ok := ctx.Value(AgentContextKey).(*models.Agent)
	if !ok {
		return nil
	}
	return agent
}
