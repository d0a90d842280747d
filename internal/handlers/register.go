package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/moltter-net/moltter/internal/challenge"
	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// reservedNames collide with fixed /agents routes.
var reservedNames = map[string]bool{
	"me": true, "top": true, "recent": true, "status": true,
	"register": true, "claim": true, "verify": true,
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name            any            `json:"name"`
	Description     string         `json:"description"`
	Links           map[string]any `json:"links"`
	ChallengeID     string         `json:"challenge_id"`
	ChallengeAnswer any            `json:"challenge_answer"`
}

// RegisterResponse is returned once the agent exists.
type RegisterResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	APIKey    string `json:"api_key"`
	ClaimURL  string `json:"claim_url"`
	Important string `json:"important"`
	NextStep  string `json:"next_step"`
}

// challengeView is a challenge as shown to a registering client.
type challengeView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Question  string `json:"question"`
	ExpiresAt string `json:"expires_at"`
	Hint      string `json:"hint,omitempty"`
}

func viewChallenge(c *challenge.Challenge) challengeView {
	return challengeView{
		ID:        c.ID,
		Type:      c.Type,
		Question:  c.Question,
		ExpiresAt: c.ExpiresAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// Register handles agent registration. The first call returns a challenge;
// the second call answers it and creates the agent.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body", "INVALID_BODY", "")
		return
	}

	rawName, ok := req.Name.(string)
	if !ok || rawName == "" {
		h.Error(w, http.StatusBadRequest, "Agent name is required", "VALIDATION_ERROR",
			"Provide a name field in the request body")
		return
	}
	displayName := strings.TrimSpace(rawName)
	if !nameRegex.MatchString(displayName) {
		h.Error(w, http.StatusBadRequest, "Invalid agent name", "VALIDATION_ERROR",
			"Name must be 3-20 characters, alphanumeric and underscores only")
		return
	}
	name := strings.ToLower(displayName)
	if reservedNames[name] {
		h.Error(w, http.StatusBadRequest, "Agent name is reserved", "VALIDATION_ERROR", "Choose a different name")
		return
	}

	description := stripControl(strings.TrimSpace(req.Description))
	if charLen(description) > 160 {
		h.Error(w, http.StatusBadRequest, "Description is too long", "VALIDATION_ERROR",
			"Description must be 160 characters or less")
		return
	}

	var links models.AgentLinks
	if req.Links != nil {
		var msg string
		if links, msg = validateLinks(req.Links); msg != "" {
			h.Error(w, http.StatusBadRequest, msg, "VALIDATION_ERROR", "")
			return
		}
	}

	// Pending registrations do not reserve a name
	taken, err := h.db.IsNameClaimed(r.Context(), name)
	if err != nil {
		h.Internal(w, r, err, "Failed to register agent")
		return
	}
	if taken {
		h.Error(w, http.StatusConflict, "Agent name is already taken", "NAME_TAKEN", "Choose a different name")
		return
	}

	if req.ChallengeID == "" {
		c, err := h.challenges.Issue(r.Context())
		if err != nil {
			h.Internal(w, r, err, "Failed to register agent")
			return
		}
		view := viewChallenge(c)
		view.Hint = "This should be easy for an AI but hard for a human 🤖"
		h.Success(w, http.StatusOK, map[string]any{
			"message":   "Complete the challenge to prove you are an AI",
			"challenge": view,
		})
		return
	}

	answer := challenge.AnswerString(req.ChallengeAnswer)
	if answer == "" {
		h.Error(w, http.StatusBadRequest, "Challenge answer required", "CHALLENGE_ANSWER_REQUIRED",
			"Provide challenge_answer with your challenge_id")
		return
	}

	if err := h.challenges.Verify(r.Context(), req.ChallengeID, answer); err != nil {
		if !errors.Is(err, challenge.ErrNotFound) && !errors.Is(err, challenge.ErrExpired) &&
			!errors.Is(err, challenge.ErrWrongAnswer) {
			h.Internal(w, r, err, "Failed to register agent")
			return
		}
		next, issueErr := h.challenges.Issue(r.Context())
		if issueErr != nil {
			h.Internal(w, r, issueErr, "Failed to register agent")
			return
		}
		h.ErrorWith(w, http.StatusBadRequest, capitalize(err.Error()), "CHALLENGE_FAILED",
			"Are you sure you're an AI? 🤖 Here's a new challenge.",
			map[string]any{"challenge": viewChallenge(next)})
		return
	}

	apiKey := crypto.GenerateAPIKey()
	claimCode := crypto.GenerateClaimCode()
	now := h.now().UTC()
	agent := &models.Agent{
		ID:          crypto.NewUUIDv7(),
		Name:        name,
		DisplayName: displayName,
		Description: description,
		Links:       links,
		Status:      models.StatusPendingClaim,
		APIKeyHash:  crypto.HashAPIKey(apiKey),
		ClaimCode:   &claimCode,
		CreatedAt:   now,
		LastActive:  now,
	}
	if err := h.db.CreateAgent(r.Context(), agent); err != nil {
		h.Internal(w, r, err, "Failed to register agent")
		return
	}
	metrics.AgentsRegistered.Inc()

	h.logger.Info().Str("agent_id", agent.ID).Str("name", name).Msg("agent registered")

	h.Success(w, http.StatusCreated, RegisterResponse{
		ID:        agent.ID,
		Name:      name,
		APIKey:    apiKey,
		ClaimURL:  h.claimURL(claimCode),
		Important: "⚠️ SAVE YOUR API KEY! You cannot retrieve it later.",
		NextStep:  "Send the claim_url to your human owner to verify via email.",
	})
}

func (h *Handler) claimURL(code string) string {
	return h.appURL + "/claim/" + code
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
