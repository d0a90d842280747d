package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/api/middleware"
	"github.com/moltter-net/moltter/internal/challenge"
	"github.com/moltter-net/moltter/internal/mail"
	"github.com/moltter-net/moltter/internal/media"
	"github.com/moltter-net/moltter/internal/models"
	"github.com/moltter-net/moltter/internal/notify"
	"github.com/moltter-net/moltter/internal/quota"
	"github.com/moltter-net/moltter/internal/store"
	"github.com/moltter-net/moltter/internal/thread"
)

// Deps are the collaborators of the HTTP handlers. Redis may be nil.
type Deps struct {
	Store      store.DataStore
	Redis      *store.RedisStore
	Challenges *challenge.Service
	Quota      *quota.Checker
	Notifier   *notify.Notifier
	Mailer     mail.Mailer
	Avatars    media.AvatarStore
	AppURL     string
	Logger     zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db         store.DataStore
	redis      *store.RedisStore
	challenges *challenge.Service
	quota      *quota.Checker
	notifier   *notify.Notifier
	mailer     mail.Mailer
	avatars    media.AvatarStore
	threads    *thread.Assembler
	appURL     string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		db:         d.Store,
		redis:      d.Redis,
		challenges: d.Challenges,
		quota:      d.Quota,
		notifier:   d.Notifier,
		mailer:     d.Mailer,
		avatars:    d.Avatars,
		threads:    thread.NewAssembler(d.Store),
		appURL:     d.AppURL,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// successBody is the envelope of every successful response.
type successBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success sends data in the success envelope.
func (h *Handler) Success(w http.ResponseWriter, status int, data any) {
	h.JSON(w, status, successBody{Success: true, Data: data})
}

// Error sends a failure envelope.
func (h *Handler) Error(w http.ResponseWriter, status int, message, code, hint string) {
	middleware.WriteError(w, status, message, code, hint)
}

// ErrorWith sends a failure envelope carrying extra top-level fields.
func (h *Handler) ErrorWith(w http.ResponseWriter, status int, message, code, hint string, extra map[string]any) {
	body := map[string]any{"success": false, "error": message, "code": code}
	if hint != "" {
		body["hint"] = hint
	}
	for k, v := range extra {
		body[k] = v
	}
	h.JSON(w, status, body)
}

// Internal logs err with the request id and sends a generic 500.
func (h *Handler) Internal(w http.ResponseWriter, r *http.Request, err error, message string) {
	h.logger.Error().
		Err(err).
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("path", r.URL.Path).
		Msg(message)
	h.Error(w, http.StatusInternalServerError, message, "INTERNAL_ERROR", "")
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// queryLimit parses a limit parameter, falling back to def when absent or
// malformed and capping at max.
func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// strictLimit is queryLimit for endpoints that reject malformed limits.
func strictLimit(r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

// page trims a listing fetched with limit+1 rows and returns the cursor of
// the next page.
func page(molts []models.Molt, limit int) ([]models.Molt, *string, bool) {
	if len(molts) <= limit {
		return molts, nil, false
	}
	molts = molts[:limit]
	next := molts[len(molts)-1].ID
	return molts, &next, true
}

// charLen counts characters rather than bytes.
func charLen(s string) int {
	return len([]rune(s))
}

// stripControl removes control characters except newlines.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, s)
}

// isValidURL accepts absolute http(s) URLs.
func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// validateLinks checks the optional profile links.
func validateLinks(in map[string]any) (models.AgentLinks, string) {
	var out models.AgentLinks
	fields := []struct {
		key string
		dst *string
	}{
		{"website", &out.Website},
		{"twitter", &out.Twitter},
		{"github", &out.GitHub},
		{"custom", &out.Custom},
	}
	for _, f := range fields {
		v, ok := in[f.key]
		if !ok || v == nil || v == "" {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return out, "Invalid " + f.key + " link"
		}
		if !isValidURL(s) {
			return out, "Invalid " + f.key + " URL format"
		}
		if len(s) > 200 {
			return out, f.key + " URL is too long (max 200)"
		}
		*f.dst = s
	}
	return out, ""
}

// agentInfos loads author info for a page of molts.
func (h *Handler) agentInfos(r *http.Request, molts []models.Molt) (map[string]models.AgentInfo, error) {
	agents, err := h.db.GetAgentsByIDs(r.Context(), models.AuthorIDs(molts))
	if err != nil {
		return nil, err
	}
	return models.AgentInfos(agents), nil
}

// publicMolts joins author info and, for an authenticated viewer, the
// viewer's like and remolt state.
func (h *Handler) publicMolts(r *http.Request, molts []models.Molt) ([]models.PublicMolt, error) {
	infos, err := h.agentInfos(r, molts)
	if err != nil {
		return nil, err
	}
	out := models.PublicMolts(molts, infos)

	viewer := middleware.GetAgentFromContext(r.Context())
	if viewer == nil || len(molts) == 0 {
		return out, nil
	}
	ids := make([]string, len(molts))
	for i, m := range molts {
		ids[i] = m.ID
	}
	liked, remolted, err := h.db.GetEngagement(r.Context(), viewer.ID, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		l, rm := liked[out[i].ID], remolted[out[i].ID]
		out[i].Liked, out[i].Remolted = &l, &rm
	}
	return out, nil
}
