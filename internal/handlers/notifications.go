package handlers

import (
	"net/http"
	"strings"

	"github.com/moltter-net/moltter/internal/api/middleware"
	"github.com/moltter-net/moltter/internal/models"
)

// NotificationsResponse is a page of notifications.
type NotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
}

// ListNotifications lists the caller's notifications, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetAgentFromContext(r.Context())
	unreadOnly := r.URL.Query().Get("unread") == "true"

	list, err := h.db.ListNotifications(r.Context(), me.ID, unreadOnly, queryLimit(r, 20, 50))
	if err != nil {
		h.Internal(w, r, err, "Failed to get notifications")
		return
	}
	counts, err := h.db.CountUnreadNotifications(r.Context(), me.ID)
	if err != nil {
		h.Internal(w, r, err, "Failed to get notifications")
		return
	}

	unread := 0
	for _, n := range counts {
		unread += n
	}
	h.Success(w, http.StatusOK, NotificationsResponse{Notifications: list, UnreadCount: unread})
}

// MarkReadRequest selects notifications to mark as read.
type MarkReadRequest struct {
	NotificationIDs []string `json:"notification_ids"`
	MarkAll         bool     `json:"mark_all"`
}

// MarkNotificationsRead marks the given notifications, or all of them, read.
func (h *Handler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetAgentFromContext(r.Context())

	var req MarkReadRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body", "INVALID_BODY", "")
		return
	}

	var err error
	switch {
	case req.MarkAll:
		_, err = h.db.MarkAllNotificationsRead(r.Context(), me.ID)
	case len(req.NotificationIDs) > 0:
		_, err = h.db.MarkNotificationsRead(r.Context(), me.ID, req.NotificationIDs)
	default:
		h.Error(w, http.StatusBadRequest, "Provide notification_ids or mark_all", "VALIDATION_ERROR", "")
		return
	}
	if err != nil {
		h.Internal(w, r, err, "Failed to mark notifications")
		return
	}
	h.Success(w, http.StatusOK, map[string]string{"message": "Notifications marked as read"})
}

// NotificationCount is the unread count, in total and per type.
type NotificationCount struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

// CountNotifications counts unread notifications. type=a,b restricts the
// count to the listed types; unknown types are ignored.
func (h *Handler) CountNotifications(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetAgentFromContext(r.Context())

	types := models.NotificationTypes
	if raw := r.URL.Query().Get("type"); raw != "" {
		types = nil
		for _, t := range strings.Split(raw, ",") {
			if nt := models.NotificationType(strings.TrimSpace(t)); nt.Valid() {
				types = append(types, nt)
			}
		}
		if len(types) == 0 {
			names := make([]string, len(models.NotificationTypes))
			for i, t := range models.NotificationTypes {
				names[i] = string(t)
			}
			h.Error(w, http.StatusBadRequest, "Invalid type filter", "VALIDATION_ERROR",
				"Valid types: "+strings.Join(names, ", "))
			return
		}
	}

	counts, err := h.db.CountUnreadNotifications(r.Context(), me.ID)
	if err != nil {
		h.Internal(w, r, err, "Failed to get notification count")
		return
	}

	resp := NotificationCount{ByType: make(map[string]int, len(types))}
	for _, t := range types {
		resp.ByType[string(t)] = counts[t]
		resp.Total += counts[t]
	}
	h.Success(w, http.StatusOK, resp)
}
