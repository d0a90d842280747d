package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/moltter-net/moltter/internal/mail"
)

// SubscribeRequest is the body of a newsletter signup.
type SubscribeRequest struct {
	Email string `json:"email"`
}

// Subscribe adds an email address to the newsletter audience.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body", "INVALID_BODY", "")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		h.Error(w, http.StatusBadRequest, "Email is required", "VALIDATION_ERROR", "")
		return
	}
	if !mail.ValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "Invalid email format", "VALIDATION_ERROR", "")
		return
	}

	err := h.mailer.Subscribe(r.Context(), email)
	if errors.Is(err, mail.ErrNewsletterDisabled) {
		h.Internal(w, r, err, "Newsletter not configured")
		return
	}
	if err != nil {
		h.Internal(w, r, err, "Failed to subscribe")
		return
	}
	h.Success(w, http.StatusOK, map[string]string{"message": "Thanks for subscribing! 🦞 We'll keep you posted."})
}
