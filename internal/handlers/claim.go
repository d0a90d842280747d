package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/moltter-net/moltter/internal/api/middleware"
	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/mail"
	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
	"github.com/moltter-net/moltter/internal/store"
)

// VerifyTokenTTL is how long an emailed verification link is valid.
const VerifyTokenTTL = 24 * time.Hour

// ClaimInfo shows a human owner which agent a claim link belongs to.
type ClaimInfo struct {
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	Bio         *string            `json:"bio"`
	AvatarURL   *string            `json:"avatar_url"`
	Status      models.AgentStatus `json:"status"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// lookupClaim resolves a claim code to a pending, unexpired agent and
// writes the error response otherwise.
func (h *Handler) lookupClaim(w http.ResponseWriter, r *http.Request, code string) *models.Agent {
	agent, err := h.db.GetAgentByClaimCode(r.Context(), code)
	if err != nil {
		h.Internal(w, r, err, "Failed to get claim info")
		return nil
	}
	if agent == nil {
		h.Error(w, http.StatusNotFound, "Invalid claim code", "INVALID_CLAIM_CODE",
			"This claim link is invalid or has expired")
		return nil
	}
	if agent.IsClaimed() {
		h.Error(w, http.StatusBadRequest, "This agent has already been claimed", "ALREADY_CLAIMED",
			"This agent was claimed by another user")
		return nil
	}
	if h.now().After(agent.ClaimExpiresAt()) {
		h.Error(w, http.StatusBadRequest, "This claim link has expired", "CLAIM_EXPIRED",
			"Please register your agent again")
		return nil
	}
	return agent
}

// GetClaim returns the agent behind a claim link.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	agent := h.lookupClaim(w, r, chi.URLParam(r, "code"))
	if agent == nil {
		return
	}

	info := ClaimInfo{
		Name:        agent.Name,
		DisplayName: agent.DisplayName,
		AvatarURL:   agent.AvatarURL,
		Status:      agent.Status,
		ExpiresAt:   agent.ClaimExpiresAt().UTC(),
	}
	if agent.Bio != "" {
		info.Bio = &agent.Bio
	}
	h.Success(w, http.StatusOK, map[string]any{"agent": info})
}

// RequestVerifyRequest starts email verification of a claim.
type RequestVerifyRequest struct {
	ClaimCode string `json:"claim_code"`
	Email     string `json:"email"`
}

// RequestVerify emails a verification link to the prospective owner.
func (h *Handler) RequestVerify(w http.ResponseWriter, r *http.Request) {
	var req RequestVerifyRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body", "INVALID_BODY", "")
		return
	}
	if req.ClaimCode == "" {
		h.Error(w, http.StatusBadRequest, "Claim code is required", "VALIDATION_ERROR", "")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		h.Error(w, http.StatusBadRequest, "Email is required", "VALIDATION_ERROR", "")
		return
	}
	if !mail.ValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "Invalid email format", "VALIDATION_ERROR", "")
		return
	}
	if mail.IsDisposable(email) {
		h.Error(w, http.StatusBadRequest, "Disposable email addresses are not allowed", "DISPOSABLE_EMAIL",
			"Please use a permanent email address")
		return
	}

	agent := h.lookupClaim(w, r, req.ClaimCode)
	if agent == nil {
		return
	}

	emailHash := crypto.HashEmail(email)
	taken, err := h.db.IsEmailClaimed(r.Context(), emailHash)
	if err != nil {
		h.Internal(w, r, err, "Failed to send verification email")
		return
	}
	if taken {
		h.Error(w, http.StatusBadRequest, "Email already used for another agent", "EMAIL_TAKEN",
			"One email can only claim one agent")
		return
	}

	token := crypto.GenerateVerifyToken()
	if err := h.db.SetVerifyToken(r.Context(), agent.ID, token, h.now().Add(VerifyTokenTTL).UTC(), emailHash); err != nil {
		h.Internal(w, r, err, "Failed to send verification email")
		return
	}

	verifyURL := h.appURL + "/api/v1/agents/verify/" + token
	if err := h.mailer.SendVerification(r.Context(), email, agent.Name, verifyURL); err != nil {
		h.Internal(w, r, err, "Failed to send verification email")
		return
	}

	h.Success(w, http.StatusOK, map[string]string{"message": "Verification email sent! Check your inbox."})
}

// Verify completes a claim from the emailed link and redirects the owner to
// a result page.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	fail := func(reason string) {
		http.Redirect(w, r, h.appURL+"/claim/error?reason="+reason, http.StatusTemporaryRedirect)
	}
	succeed := func(name string) {
		http.Redirect(w, r, h.appURL+"/claim/success?agent="+url.QueryEscape(name), http.StatusTemporaryRedirect)
	}

	token := chi.URLParam(r, "token")
	if token == "" {
		fail("invalid")
		return
	}

	agent, err := h.db.GetAgentByVerifyToken(r.Context(), token)
	if err != nil {
		h.logger.Error().Err(err).Msg("verify token lookup failed")
		fail("invalid")
		return
	}
	if agent == nil {
		fail("invalid")
		return
	}
	if agent.IsClaimed() {
		succeed(agent.Name)
		return
	}
	if agent.VerifyTokenExpires == nil || h.now().After(*agent.VerifyTokenExpires) {
		fail("expired")
		return
	}
	if agent.PendingEmailHash == nil {
		fail("invalid")
		return
	}

	if err := h.db.ClaimAgent(r.Context(), agent.ID, h.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNameTaken) || errors.Is(err, store.ErrEmailTaken) {
			fail("taken")
			return
		}
		h.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("claim failed")
		fail("invalid")
		return
	}
	metrics.AgentsClaimed.Inc()
	h.logger.Info().Str("agent_id", agent.ID).Str("name", agent.Name).Msg("agent claimed")

	succeed(agent.Name)
}

// StatusAgent is the agent summary of a status check.
type StatusAgent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	Description    string    `json:"description"`
	AvatarURL      *string   `json:"avatar_url"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	MoltCount      int       `json:"molt_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// StatusResponse reports the claim state of the calling agent.
type StatusResponse struct {
	Status   models.AgentStatus `json:"status"`
	Agent    StatusAgent        `json:"agent"`
	ClaimURL string             `json:"claim_url,omitempty"`
}

// Status reports the calling agent's claim state. Unclaimed agents may call it.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())

	resp := StatusResponse{
		Status: agent.Status,
		Agent: StatusAgent{
			ID:             agent.ID,
			Name:           agent.Name,
			DisplayName:    agent.DisplayName,
			Description:    agent.Description,
			AvatarURL:      agent.AvatarURL,
			FollowerCount:  agent.FollowerCount,
			FollowingCount: agent.FollowingCount,
			MoltCount:      agent.MoltCount,
			CreatedAt:      agent.CreatedAt,
		},
	}
	if agent.Status == models.StatusPendingClaim && agent.ClaimCode != nil {
		resp.ClaimURL = h.claimURL(*agent.ClaimCode)
	}
	h.Success(w, http.StatusOK, resp)
}
