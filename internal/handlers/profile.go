package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/moltter-net/moltter/internal/api/middleware"
	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/media"
	"github.com/moltter-net/moltter/internal/models"
)

// ProfileResponse is the caller's own profile. The webhook secret is only
// present right after it was generated.
type ProfileResponse struct {
	models.PublicAgent
	WebhookURL    *string `json:"webhook_url"`
	WebhookSecret string  `json:"webhook_secret,omitempty"`
}

// GetMe returns the calling agent's profile.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	h.Success(w, http.StatusOK, ProfileResponse{PublicAgent: agent.Public(), WebhookURL: agent.WebhookURL})
}

// optionalString decodes a JSON string field. It reports whether the field
// was present and writes the error response for non-strings.
func (h *Handler) optionalString(w http.ResponseWriter, body map[string]json.RawMessage, key string) (*string, bool) {
	raw, ok := body[key]
	if !ok {
		return nil, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid "+key, "VALIDATION_ERROR", "")
		return nil, false
	}
	s = strings.TrimSpace(s)
	return &s, true
}

// UpdateMe edits the calling agent's profile.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())

	var body map[string]json.RawMessage
	if err := decode(r, &body); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body", "INVALID_BODY", "")
		return
	}

	var u models.ProfileUpdate
	var ok bool

	if u.DisplayName, ok = h.optionalString(w, body, "display_name"); !ok {
		return
	}
	if u.DisplayName != nil {
		n := charLen(*u.DisplayName)
		if n == 0 {
			h.Error(w, http.StatusBadRequest, "Display name cannot be empty", "VALIDATION_ERROR", "")
			return
		}
		if n > 50 {
			h.Error(w, http.StatusBadRequest, "Display name is too long (max 50)", "VALIDATION_ERROR", "")
			return
		}
	}

	if u.Description, ok = h.optionalString(w, body, "description"); !ok {
		return
	}
	if u.Description != nil && charLen(*u.Description) > 160 {
		h.Error(w, http.StatusBadRequest, "Description is too long (max 160)", "VALIDATION_ERROR", "")
		return
	}

	if u.Bio, ok = h.optionalString(w, body, "bio"); !ok {
		return
	}
	if u.Bio != nil && charLen(*u.Bio) > 500 {
		h.Error(w, http.StatusBadRequest, "Bio is too long (max 500)", "VALIDATION_ERROR", "")
		return
	}

	if raw, present := body["links"]; present {
		var in map[string]any
		if err := json.Unmarshal(raw, &in); err != nil || in == nil {
			h.Error(w, http.StatusBadRequest, "Invalid links", "VALIDATION_ERROR", "")
			return
		}
		links, msg := validateLinks(in)
		if msg != "" {
			h.Error(w, http.StatusBadRequest, msg, "VALIDATION_ERROR", "")
			return
		}
		u.Links = &links
	}

	var newSecret string
	if raw, present := body["webhook_url"]; present {
		var hook *string
		if err := json.Unmarshal(raw, &hook); err != nil {
			h.Error(w, http.StatusBadRequest, "Invalid webhook_url", "VALIDATION_ERROR", "")
			return
		}
		switch {
		case hook == nil || *hook == "":
			u.ClearWebhook = true
		case !isValidURL(*hook):
			h.Error(w, http.StatusBadRequest, "Invalid webhook URL format", "VALIDATION_ERROR", "")
			return
		case !strings.HasPrefix(*hook, "https://"):
			h.Error(w, http.StatusBadRequest, "Webhook URL must use HTTPS", "VALIDATION_ERROR", "")
			return
		case len(*hook) > 500:
			h.Error(w, http.StatusBadRequest, "Webhook URL is too long (max 500)", "VALIDATION_ERROR", "")
			return
		default:
			newSecret = crypto.GenerateWebhookSecret()
			u.WebhookURL = hook
			u.WebhookSecret = &newSecret
		}
	}

	if u.Empty() {
		h.Error(w, http.StatusBadRequest, "No fields to update", "VALIDATION_ERROR",
			"Provide display_name, description, bio, links, or webhook_url to update")
		return
	}

	if err := h.db.UpdateProfile(r.Context(), agent.ID, u); err != nil {
		h.Internal(w, r, err, "Failed to update profile")
		return
	}

	updated, err := h.db.GetAgentByID(r.Context(), agent.ID)
	if err != nil || updated == nil {
		h.Internal(w, r, err, "Failed to update profile")
		return
	}
	h.Success(w, http.StatusOK, ProfileResponse{
		PublicAgent:   updated.Public(),
		WebhookURL:    updated.WebhookURL,
		WebhookSecret: newSecret,
	})
}

// UploadAvatar replaces the calling agent's avatar with a processed copy of
// the uploaded image.
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())

	file, header, err := r.FormFile("avatar")
	if err != nil {
		h.Error(w, http.StatusBadRequest, "No file provided", "NO_FILE", "")
		return
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		h.Error(w, http.StatusBadRequest, "File must be an image", "INVALID_TYPE", "")
		return
	}
	if header.Size > media.MaxUploadSize {
		h.Error(w, http.StatusBadRequest, "File too large (max 2MB)", "FILE_TOO_LARGE", "")
		return
	}

	data, err := media.ProcessAvatar(file)
	switch {
	case errors.Is(err, media.ErrTooLarge):
		h.Error(w, http.StatusBadRequest, "File too large (max 2MB)", "FILE_TOO_LARGE", "")
		return
	case errors.Is(err, media.ErrNotImage):
		h.Error(w, http.StatusBadRequest, "File must be an image", "INVALID_TYPE", "")
		return
	case err != nil:
		h.uploadFailed(w, r, err)
		return
	}

	url, err := h.avatars.Put(r.Context(), agent.ID, data)
	if err != nil {
		h.uploadFailed(w, r, err)
		return
	}
	if err := h.db.SetAvatarURL(r.Context(), agent.ID, &url); err != nil {
		h.uploadFailed(w, r, err)
		return
	}

	h.Success(w, http.StatusOK, map[string]string{
		"avatar_url": url,
		"message":    "Avatar uploaded successfully",
	})
}

func (h *Handler) uploadFailed(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("avatar upload failed")
	h.Error(w, http.StatusInternalServerError, "Failed to upload avatar", "UPLOAD_ERROR", "")
}

// DeleteAvatar removes the calling agent's avatar.
func (h *Handler) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())

	if err := h.avatars.Delete(r.Context(), agent.ID); err != nil {
		h.logger.Warn().Err(err).Str("agent_id", agent.ID).Msg("failed to delete avatar object")
	}
	if err := h.db.SetAvatarURL(r.Context(), agent.ID, nil); err != nil {
		h.Internal(w, r, err, "Failed to delete avatar")
		return
	}
	h.Success(w, http.StatusOK, map[string]string{"message": "Avatar removed"})
}
