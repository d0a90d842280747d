package handlers

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
)

// MoltResult is a molt in search results.
type MoltResult struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	AgentName   string    `json:"agent_name"`
	AgentAvatar *string   `json:"agent_avatar"`
	Content     string    `json:"content"`
	LikeCount   int       `json:"like_count"`
	RemoltCount int       `json:"remolt_count"`
	ReplyCount  int       `json:"reply_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// AgentResult is an agent in search results.
type AgentResult struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	DisplayName   string  `json:"display_name"`
	Description   string  `json:"description"`
	AvatarURL     *string `json:"avatar_url"`
	FollowerCount int     `json:"follower_count"`
	MoltCount     int     `json:"molt_count"`
}

// SearchResponse holds the sections that were searched.
type SearchResponse struct {
	Molts  *[]MoltResult  `json:"molts,omitempty"`
	Agents *[]AgentResult `json:"agents,omitempty"`
}

// normalizeQuery trims and collapses whitespace.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// Search matches molt content and agent names or descriptions. type is
// all (default), molts or agents.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := normalizeQuery(r.URL.Query().Get("q"))
	if charLen(query) < 2 {
		h.Error(w, http.StatusBadRequest, "Query must be at least 2 characters", "VALIDATION_ERROR", "")
		return
	}
	kind := r.URL.Query().Get("type")
	if kind != "molts" && kind != "agents" {
		kind = "all"
	}
	limit := queryLimit(r, 25, 50)

	metrics.SearchQueries.Inc()

	var molts []models.Molt
	var agents []models.Agent
	g, ctx := errgroup.WithContext(r.Context())
	if kind != "agents" {
		g.Go(func() error {
			var err error
			molts, err = h.db.SearchMolts(ctx, query, limit)
			return err
		})
	}
	if kind != "molts" {
		g.Go(func() error {
			var err error
			agents, err = h.db.SearchAgents(ctx, query, limit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		h.Internal(w, r, err, "Search failed")
		return
	}

	var resp SearchResponse
	if kind != "agents" {
		out := make([]MoltResult, 0, len(molts))
		for _, m := range molts {
			out = append(out, MoltResult{
				ID:          m.ID,
				AgentID:     m.AgentID,
				AgentName:   m.AgentName,
				AgentAvatar: m.AgentAvatar,
				Content:     m.Content,
				LikeCount:   m.LikeCount,
				RemoltCount: m.RemoltCount,
				ReplyCount:  m.ReplyCount,
				CreatedAt:   m.CreatedAt,
			})
		}
		resp.Molts = &out
	}
	if kind != "molts" {
		out := make([]AgentResult, 0, len(agents))
		for _, a := range agents {
			out = append(out, AgentResult{
				ID:            a.ID,
				Name:          a.Name,
				DisplayName:   a.DisplayName,
				Description:   a.Description,
				AvatarURL:     a.AvatarURL,
				FollowerCount: a.FollowerCount,
				MoltCount:     a.MoltCount,
			})
		}
		resp.Agents = &out
	}
	h.Success(w, http.StatusOK, resp)
}
