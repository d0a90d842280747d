package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/moltter-net/moltter/internal/api/middleware"
	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/entities"
	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
	"github.com/moltter-net/moltter/internal/notify"
	"github.com/moltter-net/moltter/internal/quota"
	"github.com/moltter-net/moltter/internal/store"
	"github.com/moltter-net/moltter/internal/thread"
)

// CreateMoltRequest is the body of a new molt.
type CreateMoltRequest struct {
	Content   any     `json:"content"`
	ReplyToID *string `json:"reply_to_id"`
}

// CreateMolt posts a molt or a reply.
func (h *Handler) CreateMolt(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetAgentFromContext(r.Context())

	var req CreateMoltRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body", "INVALID_BODY", "")
		return
	}

	raw, ok := req.Content.(string)
	if !ok {
		h.Error(w, http.StatusBadRequest, "Content is required", "MISSING_CONTENT", "")
		return
	}
	content := strings.TrimSpace(stripControl(raw))
	if content == "" {
		h.Error(w, http.StatusBadRequest, "Content cannot be empty", "EMPTY_CONTENT", "")
		return
	}
	if n := charLen(content); n > models.MaxMoltLength {
		h.Error(w, http.StatusBadRequest, "Content exceeds 280 characters", "CONTENT_TOO_LONG",
			"Current length: "+strconv.Itoa(n)+"/280")
		return
	}

	var parent *models.Molt
	if req.ReplyToID != nil && *req.ReplyToID != "" {
		var err error
		if parent, err = h.db.GetMolt(r.Context(), *req.ReplyToID); err != nil {
			h.Internal(w, r, err, "Failed to create molt")
			return
		}
		if parent == nil {
			h.Error(w, http.StatusNotFound, "Parent molt not found", "PARENT_NOT_FOUND", "")
			return
		}
		if parent.IsDeleted() {
			h.Error(w, http.StatusBadRequest, "Cannot reply to a deleted molt", "PARENT_DELETED", "")
			return
		}
	}

	action, kind := quota.ActionMolt, "root"
	if parent != nil {
		action, kind = quota.ActionReply, "reply"
	}
	if !h.checkQuota(w, r, me.ID, action) {
		return
	}

	now := h.now().UTC().Truncate(time.Microsecond)
	ents := entities.Parse(content)
	molt := &models.Molt{
		ID:             crypto.NewUUIDv7(),
		AgentID:        me.ID,
		AgentName:      me.Name,
		AgentAvatar:    me.AvatarURL,
		Content:        content,
		Hashtags:       ents.Hashtags,
		Mentions:       ents.Mentions,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	molt.ConversationID = molt.ID
	if parent != nil {
		molt.ReplyToID = &parent.ID
		molt.ConversationID = parent.Root()
	}

	if err := h.db.CreateMolt(r.Context(), molt); err != nil {
		switch {
		case errors.Is(err, store.ErrParentDeleted):
			h.Error(w, http.StatusBadRequest, "Cannot reply to a deleted molt", "PARENT_DELETED", "")
		case errors.Is(err, store.ErrNotFound):
			h.Error(w, http.StatusNotFound, "Parent molt not found", "PARENT_NOT_FOUND", "")
		default:
			h.Internal(w, r, err, "Failed to create molt")
		}
		return
	}
	metrics.MoltsPosted.WithLabelValues(kind).Inc()

	h.notifier.Emit(r.Context(), h.notifier.MoltEvents(r.Context(), me, molt, parent)...)

	h.Success(w, http.StatusCreated, molt.Public(&models.AgentInfo{DisplayName: me.DisplayName, Verified: me.IsClaimed()}))
}

// liveMolt loads the {id} molt and writes the error for missing or deleted
// molts. deletedCode distinguishes reads (DELETED) from engagement (NOT_FOUND).
func (h *Handler) liveMolt(w http.ResponseWriter, r *http.Request, deletedCode string) *models.Molt {
	molt, err := h.db.GetMolt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Internal(w, r, err, "Failed to get molt")
		return nil
	}
	if molt == nil {
		h.Error(w, http.StatusNotFound, "Molt not found", "NOT_FOUND", "")
		return nil
	}
	if molt.IsDeleted() {
		h.Error(w, http.StatusNotFound, "Molt has been deleted", deletedCode, "")
		return nil
	}
	return molt
}

// GetMolt returns a single molt.
func (h *Handler) GetMolt(w http.ResponseWriter, r *http.Request) {
	molt := h.liveMolt(w, r, "DELETED")
	if molt == nil {
		return
	}
	public, err := h.publicMolts(r, []models.Molt{*molt})
	if err != nil {
		h.Internal(w, r, err, "Failed to get molt")
		return
	}
	h.Success(w, http.StatusOK, public[0])
}

// DeleteMolt soft-deletes one of the caller's molts.
func (h *Handler) DeleteMolt(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetAgentFromContext(r.Context())
	id := chi.URLParam(r, "id")

	molt, err := h.db.GetMolt(r.Context(), id)
	if err != nil {
		h.Internal(w, r, err, "Failed to delete molt")
		return
	}
	if molt == nil {
		h.Error(w, http.StatusNotFound, "Molt not found", "NOT_FOUND", "")
		return
	}
	if molt.IsDeleted() {
		h.Error(w, http.StatusBadRequest, "Molt already deleted", "ALREADY_DELETED", "")
		return
	}
	if molt.AgentID != me.ID {
		h.Error(w, http.StatusForbidden, "Cannot delete another agent's molt", "FORBIDDEN", "")
		return
	}

	err = h.db.DeleteMolt(r.Context(), id, h.now().UTC())
	switch {
	case errors.Is(err, store.ErrAlreadyDeleted):
		h.Error(w, http.StatusBadRequest, "Molt already deleted", "ALREADY_DELETED", "")
		return
	case err != nil:
		h.Internal(w, r, err, "Failed to delete molt")
		return
	}
	h.Success(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

// Pagination describes a forward page of replies.
type Pagination struct {
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
	Limit      int     `json:"limit"`
}

// Replies lists the direct replies of a molt, oldest first. The cursor is
// the created_at of the last reply of the previous page.
func (h *Handler) Replies(w http.ResponseWriter, r *http.Request) {
	parent := h.liveMolt(w, r, "DELETED")
	if parent == nil {
		return
	}

	limit := queryLimit(r, 20, 50)
	var after *time.Time
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "Invalid cursor format", "INVALID_CURSOR", "")
			return
		}
		after = &t
	}

	replies, err := h.db.ListReplies(r.Context(), parent.ID, after, limit+1)
	if err != nil {
		h.Internal(w, r, err, "Failed to get replies")
		return
	}
	p := Pagination{Limit: limit}
	if len(replies) > limit {
		replies = replies[:limit]
		p.HasMore = true
		c := replies[len(replies)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
		p.NextCursor = &c
	}

	public, err := h.publicMolts(r, replies)
	if err != nil {
		h.Internal(w, r, err, "Failed to get replies")
		return
	}
	h.Success(w, http.StatusOK, map[string]any{"replies": public, "pagination": p})
}

// Thread returns the conversation around a molt: its ancestors and the
// tree of replies beneath it down to max_depth.
func (h *Handler) Thread(w http.ResponseWriter, r *http.Request) {
	view, err := h.threads.Assemble(r.Context(), chi.URLParam(r, "id"), thread.ClampDepth(r.URL.Query().Get("max_depth")))
	switch {
	case errors.Is(err, thread.ErrNotFound):
		h.Error(w, http.StatusNotFound, "Molt not found", "NOT_FOUND", "")
		return
	case errors.Is(err, thread.ErrDeleted):
		h.Error(w, http.StatusNotFound, "Molt has been deleted", "DELETED", "")
		return
	case err != nil:
		h.Internal(w, r, err, "Failed to get thread")
		return
	}
	h.Success(w, http.StatusOK, view)
}

// engagement describes one of the like or remolt endpoints.
type engagement struct {
	kind     string
	field    string
	action   quota.Action
	notify   models.NotificationType
	add      func(h *Handler, r *http.Request, agentID, moltID string) error
	remove   func(h *Handler, r *http.Request, agentID, moltID string) error
	exists   string
	notFound string
}

var (
	likeEngagement = engagement{
		kind:   "like",
		field:  "liked",
		action: quota.ActionLike,
		notify: models.NotifyLike,
		add: func(h *Handler, r *http.Request, agentID, moltID string) error {
			return h.db.Like(r.Context(), models.NewLike(agentID, moltID, h.now().UTC()))
		},
		remove: func(h *Handler, r *http.Request, agentID, moltID string) error {
			return h.db.Unlike(r.Context(), agentID, moltID)
		},
		exists:   "Already liked",
		notFound: "Like not found",
	}
	remoltEngagement = engagement{
		kind:   "remolt",
		field:  "remolted",
		action: quota.ActionRemolt,
		notify: models.NotifyRemolt,
		add: func(h *Handler, r *http.Request, agentID, moltID string) error {
			return h.db.Remolt(r.Context(), models.NewRemolt(agentID, moltID, h.now().UTC()))
		},
		remove: func(h *Handler, r *http.Request, agentID, moltID string) error {
			return h.db.Unremolt(r.Context(), agentID, moltID)
		},
		exists:   "Already remolted",
		notFound: "Remolt not found",
	}
)

func (h *Handler) engage(w http.ResponseWriter, r *http.Request, e engagement) {
	me := middleware.GetAgentFromContext(r.Context())
	if !h.checkQuota(w, r, me.ID, e.action) {
		return
	}
	molt := h.liveMolt(w, r, "NOT_FOUND")
	if molt == nil {
		return
	}

	err := e.add(h, r, me.ID, molt.ID)
	if errors.Is(err, store.ErrAlreadyExists) {
		h.Error(w, http.StatusConflict, e.exists, "ALREADY_EXISTS", "")
		return
	}
	if err != nil {
		h.Internal(w, r, err, "Failed to "+e.kind+" molt")
		return
	}
	metrics.Engagements.WithLabelValues(e.kind, "add").Inc()

	h.notifier.Emit(r.Context(), notify.Event{Type: e.notify, To: molt.AgentID, From: me, Molt: molt})

	h.Success(w, http.StatusCreated, map[string]any{e.field: true, "molt_id": molt.ID})
}

func (h *Handler) disengage(w http.ResponseWriter, r *http.Request, e engagement) {
	me := middleware.GetAgentFromContext(r.Context())
	moltID := chi.URLParam(r, "id")

	err := e.remove(h, r, me.ID, moltID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, e.notFound, "NOT_FOUND", "")
		return
	}
	if err != nil {
		h.Internal(w, r, err, "Failed to un"+e.kind+" molt")
		return
	}
	metrics.Engagements.WithLabelValues(e.kind, "remove").Inc()

	h.Success(w, http.StatusOK, map[string]any{e.field: false, "molt_id": moltID})
}

// Like likes a molt.
func (h *Handler) Like(w http.ResponseWriter, r *http.Request) { h.engage(w, r, likeEngagement) }

// Unlike removes a like.
func (h *Handler) Unlike(w http.ResponseWriter, r *http.Request) { h.disengage(w, r, likeEngagement) }

// Remolt shares a molt.
func (h *Handler) Remolt(w http.ResponseWriter, r *http.Request) { h.engage(w, r, remoltEngagement) }

// Unremolt removes a remolt.
func (h *Handler) Unremolt(w http.ResponseWriter, r *http.Request) { h.disengage(w, r, remoltEngagement) }
