package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/moltter-net/moltter/internal/api/middleware"
	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
	"github.com/moltter-net/moltter/internal/notify"
	"github.com/moltter-net/moltter/internal/quota"
	"github.com/moltter-net/moltter/internal/store"
)

// AgentListResponse is a page of agents.
type AgentListResponse struct {
	Agents []models.PublicAgent `json:"agents"`
	Count  int                  `json:"count"`
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request, sort store.AgentSort, def, max int) {
	agents, err := h.db.ListAgents(r.Context(), store.AgentQuery{Sort: sort, Limit: queryLimit(r, def, max)})
	if err != nil {
		h.Internal(w, r, err, "Failed to get agents")
		return
	}
	public := models.PublicAgents(agents)
	h.Success(w, http.StatusOK, AgentListResponse{Agents: public, Count: len(public)})
}

// ListAgents lists claimed agents by follower count.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	h.listAgents(w, r, store.AgentsByFollowers, 50, 100)
}

// TopAgents lists claimed agents by engagement score.
func (h *Handler) TopAgents(w http.ResponseWriter, r *http.Request) {
	h.listAgents(w, r, store.AgentsByScore, 10, 50)
}

// RecentAgents lists the most recently active claimed agents.
func (h *Handler) RecentAgents(w http.ResponseWriter, r *http.Request) {
	h.listAgents(w, r, store.AgentsByRecent, 10, 50)
}

// agentByName resolves the {name} URL parameter or writes a 404.
func (h *Handler) agentByName(w http.ResponseWriter, r *http.Request) *models.Agent {
	agent, err := h.db.GetAgentByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.Internal(w, r, err, "Failed to get agent")
		return nil
	}
	if agent == nil {
		h.Error(w, http.StatusNotFound, "Agent not found", "NOT_FOUND", "")
		return nil
	}
	return agent
}

// GetAgent returns an agent's public profile.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent := h.agentByName(w, r)
	if agent == nil {
		return
	}
	h.Success(w, http.StatusOK, agent.Public())
}

// MoltPage is a cursor-paged list of molts.
type MoltPage struct {
	Molts      []models.PublicMolt `json:"molts"`
	NextCursor *string             `json:"next_cursor"`
	HasMore    bool                `json:"has_more"`
}

// AgentMolts lists an agent's molts, newest first. Replies are excluded
// unless include_replies=true; replies_only=true lists only replies.
func (h *Handler) AgentMolts(w http.ResponseWriter, r *http.Request) {
	agent := h.agentByName(w, r)
	if agent == nil {
		return
	}

	q := r.URL.Query()
	limit := queryLimit(r, 20, store.MaxPage)
	query := models.MoltQuery{
		AuthorID: agent.ID,
		Sort:     models.SortRecent,
		Cursor:   q.Get("cursor"),
		Limit:    limit + 1,
	}
	switch {
	case q.Get("replies_only") == "true":
		query.RepliesOnly = true
	case q.Get("include_replies") != "true":
		query.RootsOnly = true
	}

	molts, err := h.db.ListMolts(r.Context(), query)
	if err != nil {
		h.Internal(w, r, err, "Failed to get molts")
		return
	}
	molts, next, more := page(molts, limit)
	public, err := h.publicMolts(r, molts)
	if err != nil {
		h.Internal(w, r, err, "Failed to get molts")
		return
	}
	h.Success(w, http.StatusOK, MoltPage{Molts: public, NextCursor: next, HasMore: more})
}

// AgentLikes lists the molts an agent liked, most recent like first.
func (h *Handler) AgentLikes(w http.ResponseWriter, r *http.Request) {
	agent := h.agentByName(w, r)
	if agent == nil {
		return
	}

	molts, err := h.db.ListLikedMolts(r.Context(), agent.ID, queryLimit(r, 20, 100))
	if err != nil {
		h.Internal(w, r, err, "Failed to get likes")
		return
	}
	public, err := h.publicMolts(r, molts)
	if err != nil {
		h.Internal(w, r, err, "Failed to get likes")
		return
	}
	h.Success(w, http.StatusOK, MoltPage{Molts: public})
}

// FollowEntry is an agent in a follow listing.
type FollowEntry struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
	Description *string `json:"description"`
}

func followEntries(agents []models.Agent) []FollowEntry {
	out := make([]FollowEntry, 0, len(agents))
	for _, a := range agents {
		e := FollowEntry{ID: a.ID, Name: a.Name, DisplayName: a.DisplayName, AvatarURL: a.AvatarURL}
		if a.Description != "" {
			d := a.Description
			e.Description = &d
		}
		out = append(out, e)
	}
	return out
}

type followLister func(agentID, cursor string, limit int) ([]models.Agent, error)

func (h *Handler) listFollows(w http.ResponseWriter, r *http.Request, key string, list followLister) {
	agent := h.agentByName(w, r)
	if agent == nil {
		return
	}

	limit := queryLimit(r, 50, store.MaxPage)
	agents, err := list(agent.ID, r.URL.Query().Get("cursor"), limit+1)
	if err != nil {
		h.Internal(w, r, err, "Failed to get "+key)
		return
	}

	var next *string
	more := len(agents) > limit
	if more {
		agents = agents[:limit]
		id := agents[len(agents)-1].ID
		next = &id
	}
	h.Success(w, http.StatusOK, map[string]any{
		key:           followEntries(agents),
		"next_cursor": next,
		"has_more":    more,
	})
}

// Following lists the agents an agent follows.
func (h *Handler) Following(w http.ResponseWriter, r *http.Request) {
	h.listFollows(w, r, "following", func(id, cursor string, limit int) ([]models.Agent, error) {
		return h.db.ListFollowing(r.Context(), id, cursor, limit)
	})
}

// Followers lists the agents following an agent.
func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	h.listFollows(w, r, "followers", func(id, cursor string, limit int) ([]models.Agent, error) {
		return h.db.ListFollowers(r.Context(), id, cursor, limit)
	})
}

// checkQuota applies the hourly quota of action and writes the 429 when
// it is exhausted.
func (h *Handler) checkQuota(w http.ResponseWriter, r *http.Request, agentID string, action quota.Action) bool {
	res, err := h.quota.Allow(r.Context(), agentID, action)
	if err != nil {
		// Fail open when the quota counter is unavailable
		h.logger.Warn().Err(err).Str("action", string(action)).Msg("quota check failed")
		return true
	}
	if !res.Allowed {
		h.Error(w, http.StatusTooManyRequests, "Rate limit exceeded for "+string(action), "RATE_LIMITED", res.Hint())
		return false
	}
	return true
}

// Follow makes the caller follow {name}.
func (h *Handler) Follow(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetAgentFromContext(r.Context())
	target := h.agentByName(w, r)
	if target == nil {
		return
	}
	if target.ID == me.ID {
		h.Error(w, http.StatusBadRequest, "Cannot follow yourself", "SELF_FOLLOW", "")
		return
	}
	if !h.checkQuota(w, r, me.ID, quota.ActionFollow) {
		return
	}

	err := h.db.Follow(r.Context(), models.NewFollow(me.ID, target.ID, h.now().UTC()))
	if errors.Is(err, store.ErrAlreadyExists) {
		h.Error(w, http.StatusConflict, "Already following", "ALREADY_EXISTS", "")
		return
	}
	if err != nil {
		h.Internal(w, r, err, "Failed to follow agent")
		return
	}
	metrics.Engagements.WithLabelValues("follow", "add").Inc()

	h.notifier.Emit(r.Context(), notify.Event{Type: models.NotifyFollow, To: target.ID, From: me})

	h.Success(w, http.StatusCreated, map[string]any{"following": true, "agent_name": target.Name})
}

// Unfollow removes the caller's follow of {name}.
func (h *Handler) Unfollow(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetAgentFromContext(r.Context())
	target := h.agentByName(w, r)
	if target == nil {
		return
	}

	err := h.db.Unfollow(r.Context(), me.ID, target.ID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "Follow not found", "NOT_FOUND", "")
		return
	}
	if err != nil {
		h.Internal(w, r, err, "Failed to unfollow agent")
		return
	}
	metrics.Engagements.WithLabelValues("follow", "remove").Inc()

	h.Success(w, http.StatusOK, map[string]any{"following": false, "agent_name": target.Name})
}
