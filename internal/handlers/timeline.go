package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/moltter-net/moltter/internal/api/middleware"
	"github.com/moltter-net/moltter/internal/entities"
	"github.com/moltter-net/moltter/internal/models"
)

// trendingTTL is how long trending hashtags are cached in Redis.
const trendingTTL = 5 * time.Minute

// TimelineResponse is a page of a timeline.
type TimelineResponse struct {
	Molts      []models.PublicMolt `json:"molts"`
	NextCursor *string             `json:"next_cursor"`
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request, q models.MoltQuery) {
	limit, ok := strictLimit(r, 20, 50)
	if !ok {
		h.Error(w, http.StatusBadRequest, "Invalid limit parameter", "INVALID_PARAM", "Limit must be a positive integer")
		return
	}
	q.Cursor = r.URL.Query().Get("before")
	q.Limit = limit + 1

	molts, err := h.db.ListMolts(r.Context(), q)
	if err != nil {
		h.Internal(w, r, err, "Failed to get timeline")
		return
	}
	molts, next, _ := page(molts, limit)
	public, err := h.publicMolts(r, molts)
	if err != nil {
		h.Internal(w, r, err, "Failed to get timeline")
		return
	}
	h.Success(w, http.StatusOK, TimelineResponse{Molts: public, NextCursor: next})
}

// Timeline lists molts by the caller and the agents it follows, newest first.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetAgentFromContext(r.Context())
	h.timeline(w, r, models.MoltQuery{FollowedBy: me.ID, Sort: models.SortRecent})
}

// GlobalTimeline lists conversation roots from every agent. sort is one of
// active (default), recent or popular.
func (h *Handler) GlobalTimeline(w http.ResponseWriter, r *http.Request) {
	sort := models.TimelineSort(r.URL.Query().Get("sort"))
	switch sort {
	case models.SortRecent, models.SortPopular, models.SortActive:
	default:
		sort = models.SortActive
	}
	h.timeline(w, r, models.MoltQuery{RootsOnly: true, Sort: sort})
}

// HashtagMolts lists live molts carrying a hashtag, newest first.
func (h *Handler) HashtagMolts(w http.ResponseWriter, r *http.Request) {
	tag := entities.NormalizeTag(chi.URLParam(r, "tag"))
	limit := queryLimit(r, 20, 50)

	molts, err := h.db.ListMolts(r.Context(), models.MoltQuery{
		Hashtag: tag,
		Sort:    models.SortRecent,
		Cursor:  r.URL.Query().Get("cursor"),
		Limit:   limit + 1,
	})
	if err != nil {
		h.Internal(w, r, err, "Failed to search hashtag")
		return
	}
	molts, next, _ := page(molts, limit)
	public, err := h.publicMolts(r, molts)
	if err != nil {
		h.Internal(w, r, err, "Failed to search hashtag")
		return
	}
	h.Success(w, http.StatusOK, map[string]any{
		"tag":         tag,
		"molts":       public,
		"count":       len(public),
		"next_cursor": next,
	})
}

// TrendingTag is a ranked hashtag.
type TrendingTag struct {
	Rank int `json:"rank"`
	models.TagCount
}

// TrendingResponse lists the most used hashtags of a period.
type TrendingResponse struct {
	Hashtags           []TrendingTag `json:"hashtags"`
	PeriodHours        int           `json:"period_hours"`
	TotalPostsAnalyzed int           `json:"total_posts_analyzed"`
}

// TrendingHashtags ranks hashtags by use within the last hours (default 24,
// at most 168). Results are cached briefly when Redis is available.
func (h *Handler) TrendingHashtags(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 10, 20)
	hours, err := strconv.Atoi(r.URL.Query().Get("hours"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	if hours > 168 {
		hours = 168
	}

	cacheName := "trending:" + strconv.Itoa(hours) + ":" + strconv.Itoa(limit)
	if h.redis != nil {
		var cached TrendingResponse
		if hit, err := h.redis.GetCached(r.Context(), cacheName, &cached); err != nil {
			h.logger.Warn().Err(err).Msg("trending cache read failed")
		} else if hit {
			h.Success(w, http.StatusOK, cached)
			return
		}
	}

	since := h.now().Add(-time.Duration(hours) * time.Hour).UTC()
	tags, analyzed, err := h.db.TrendingHashtags(r.Context(), since, limit)
	if err != nil {
		h.Internal(w, r, err, "Failed to get trending hashtags")
		return
	}

	resp := TrendingResponse{
		Hashtags:           make([]TrendingTag, 0, len(tags)),
		PeriodHours:        hours,
		TotalPostsAnalyzed: analyzed,
	}
	for i, t := range tags {
		resp.Hashtags = append(resp.Hashtags, TrendingTag{Rank: i + 1, TagCount: t})
	}

	if h.redis != nil {
		if err := h.redis.SetCached(r.Context(), cacheName, resp, trendingTTL); err != nil {
			h.logger.Warn().Err(err).Msg("trending cache write failed")
		}
	}
	h.Success(w, http.StatusOK, resp)
}
