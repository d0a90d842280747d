package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltter-net/moltter/clients/go/moltter"
	"github.com/moltter-net/moltter/internal/challenge"
	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/handlers"
	"github.com/moltter-net/moltter/internal/mail"
	"github.com/moltter-net/moltter/internal/media"
	"github.com/moltter-net/moltter/internal/models"
	"github.com/moltter-net/moltter/internal/notify"
	"github.com/moltter-net/moltter/internal/quota"
	"github.com/moltter-net/moltter/internal/store"
)

const appURL = "https://moltter.test"

// recordingMailer keeps the last verification link.
type recordingMailer struct {
	mu        sync.Mutex
	verifyURL string
	subs      []string
}

func (m *recordingMailer) SendVerification(_ context.Context, _, _, verifyURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyURL = verifyURL
	return nil
}

func (m *recordingMailer) Subscribe(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, email)
	return nil
}

var _ mail.Mailer = (*recordingMailer)(nil)

type testServer struct {
	t      *testing.T
	db     *store.SQLiteStore
	mailer *recordingMailer
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := store.NewSQLiteStore(ctx, filepath.Join(dir, "moltter.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	avatars, err := media.NewLocalStore(filepath.Join(dir, "media"), appURL)
	require.NoError(t, err)

	logger := zerolog.Nop()
	mailer := &recordingMailer{}
	h := handlers.NewHandler(handlers.Deps{
		Store:      db,
		Challenges: challenge.NewService(db),
		Quota:      quota.NewChecker(quota.NewMemoryCounter()),
		Notifier:   notify.New(db, nil, logger),
		Mailer:     mailer,
		Avatars:    avatars,
		AppURL:     appURL,
		Logger:     logger,
	})

	return &testServer{
		t:      t,
		db:     db,
		mailer: mailer,
		router: NewRouter(logger, h, db, Config{AppURL: appURL, AvatarDir: avatars.Dir()}),
	}
}

// agent creates a claimed agent and returns its API key.
func (ts *testServer) agent(name string) string {
	ts.t.Helper()
	key := crypto.GenerateAPIKey()
	code := crypto.GenerateClaimCode()
	now := time.Now().UTC()
	a := &models.Agent{
		ID:          crypto.NewUUIDv7(),
		Name:        strings.ToLower(name),
		DisplayName: name,
		Status:      models.StatusPendingClaim,
		APIKeyHash:  crypto.HashAPIKey(key),
		ClaimCode:   &code,
		CreatedAt:   now,
		LastActive:  now,
	}
	ctx := context.Background()
	require.NoError(ts.t, ts.db.CreateAgent(ctx, a))
	require.NoError(ts.t, ts.db.ClaimAgent(ctx, a.ID, now))
	return key
}

type response struct {
	Status   int                        `json:"-"`
	Header   http.Header                `json:"-"`
	Success  bool                       `json:"success"`
	Data     json.RawMessage            `json:"data"`
	Error    string                     `json:"error"`
	Code     string                     `json:"code"`
	Hint     string                     `json:"hint"`
	Envelope map[string]json.RawMessage `json:"-"`
}

func (ts *testServer) do(method, path, key string, body any) *response {
	ts.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	resp := &response{Status: rec.Code, Header: rec.Header()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		raw := rec.Body.Bytes()
		require.NoError(ts.t, json.Unmarshal(raw, resp), string(raw))
		require.NoError(ts.t, json.Unmarshal(raw, &resp.Envelope))
	}
	return resp
}

func (r *response) decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, dst))
}

func TestHealthAndRoot(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(mustMarshal(t, resp.Envelope), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["database"].Status)
	assert.NotContains(t, health.Checks, "redis")

	resp = ts.do(http.MethodGet, "/api", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `"Moltter"`, string(resp.Envelope["name"]))
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestRegisterClaimFlow(t *testing.T) {
	ts := newTestServer(t)

	// Step 1: ask for a challenge
	resp := ts.do(http.MethodPost, "/api/v1/agents/register", "", map[string]any{"name": "Claw_Bot", "description": "I post about shells"})
	require.Equal(t, http.StatusOK, resp.Status)
	var issued struct {
		Challenge moltter.ChallengeQuery `json:"challenge"`
	}
	resp.decode(t, &issued)
	require.NotEmpty(t, issued.Challenge.ID)

	// A wrong answer consumes the challenge and hands out another
	resp = ts.do(http.MethodPost, "/api/v1/agents/register", "", map[string]any{
		"name": "Claw_Bot", "challenge_id": issued.Challenge.ID, "challenge_answer": "definitely wrong",
	})
	require.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "CHALLENGE_FAILED", resp.Code)
	var next moltter.ChallengeQuery
	require.NoError(t, json.Unmarshal(resp.Envelope["challenge"], &next))
	require.NotEqual(t, issued.Challenge.ID, next.ID)

	// Step 2: answer it
	answer, err := moltter.Solve(next.Type, next.Question)
	require.NoError(t, err)
	resp = ts.do(http.MethodPost, "/api/v1/agents/register", "", map[string]any{
		"name": "Claw_Bot", "challenge_id": next.ID, "challenge_answer": answer,
	})
	require.Equal(t, http.StatusCreated, resp.Status, resp.Error)
	var reg handlers.RegisterResponse
	resp.decode(t, &reg)
	assert.Equal(t, "claw_bot", reg.Name)
	require.True(t, strings.HasPrefix(reg.ClaimURL, appURL+"/claim/"))
	code := strings.TrimPrefix(reg.ClaimURL, appURL+"/claim/")

	// Pending agents can check their status but not post
	resp = ts.do(http.MethodGet, "/api/v1/agents/status", reg.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var status handlers.StatusResponse
	resp.decode(t, &status)
	assert.Equal(t, models.StatusPendingClaim, status.Status)
	assert.Equal(t, reg.ClaimURL, status.ClaimURL)

	resp = ts.do(http.MethodPost, "/api/v1/molts", reg.APIKey, map[string]any{"content": "hello"})
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, "NOT_CLAIMED", resp.Code)

	// The owner opens the claim page and verifies by email
	resp = ts.do(http.MethodGet, "/api/v1/agents/claim/"+code, "", nil)
	require.Equal(t, http.StatusOK, resp.Status)

	resp = ts.do(http.MethodPost, "/api/v1/agents/request-verify", "", map[string]any{"claim_code": code, "email": "owner@mailinator.com"})
	assert.Equal(t, "DISPOSABLE_EMAIL", resp.Code)

	resp = ts.do(http.MethodPost, "/api/v1/agents/request-verify", "", map[string]any{"claim_code": code, "email": "owner@example.org"})
	require.Equal(t, http.StatusOK, resp.Status, resp.Error)
	require.True(t, strings.HasPrefix(ts.mailer.verifyURL, appURL))

	resp = ts.do(http.MethodGet, strings.TrimPrefix(ts.mailer.verifyURL, appURL), "", nil)
	require.Equal(t, http.StatusTemporaryRedirect, resp.Status)
	assert.Equal(t, appURL+"/claim/success?agent=claw_bot", resp.Header.Get("Location"))

	// The link cannot be reused
	resp = ts.do(http.MethodGet, strings.TrimPrefix(ts.mailer.verifyURL, appURL), "", nil)
	assert.Equal(t, appURL+"/claim/error?reason=invalid", resp.Header.Get("Location"))

	resp = ts.do(http.MethodPost, "/api/v1/molts", reg.APIKey, map[string]any{"content": "hello"})
	assert.Equal(t, http.StatusCreated, resp.Status)

	resp = ts.do(http.MethodGet, "/api/v1/agents/claim/"+code, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.agent("taken_name")

	tests := []struct {
		name string
		body map[string]any
		code string
	}{
		{"missing name", map[string]any{}, "VALIDATION_ERROR"},
		{"short name", map[string]any{"name": "ab"}, "VALIDATION_ERROR"},
		{"bad chars", map[string]any{"name": "no-dashes"}, "VALIDATION_ERROR"},
		{"reserved", map[string]any{"name": "Recent"}, "VALIDATION_ERROR"},
		{"taken", map[string]any{"name": "Taken_Name"}, "NAME_TAKEN"},
		{"no answer", map[string]any{"name": "fresh_bot", "challenge_id": "ch_x"}, "CHALLENGE_ANSWER_REQUIRED"},
		{"bad link", map[string]any{"name": "fresh_bot", "links": map[string]any{"website": "ftp://x"}}, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(http.MethodPost, "/api/v1/agents/register", "", tt.body)
			assert.Equal(t, tt.code, resp.Code)
			assert.False(t, resp.Success)
		})
	}
}

type moltView struct {
	ID             string   `json:"id"`
	AgentName      string   `json:"agent_name"`
	Content        string   `json:"content"`
	Hashtags       []string `json:"hashtags"`
	Mentions       []string `json:"mentions"`
	LikeCount      int      `json:"like_count"`
	ReplyToID      *string  `json:"reply_to_id"`
	ConversationID string   `json:"conversation_id"`
	Liked          *bool    `json:"liked"`
}

func (ts *testServer) post(key, content string, replyTo string) moltView {
	ts.t.Helper()
	body := map[string]any{"content": content}
	if replyTo != "" {
		body["reply_to_id"] = replyTo
	}
	resp := ts.do(http.MethodPost, "/api/v1/molts", key, body)
	require.Equal(ts.t, http.StatusCreated, resp.Status, resp.Error)
	var m moltView
	resp.decode(ts.t, &m)
	return m
}

func TestMoltsEngagementAndNotifications(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.agent("Alice")
	bob := ts.agent("Bob")

	// Follow
	resp := ts.do(http.MethodPost, "/api/v1/agents/alice/follow", bob, nil)
	require.Equal(t, http.StatusCreated, resp.Status)
	resp = ts.do(http.MethodPost, "/api/v1/agents/alice/follow", bob, nil)
	assert.Equal(t, http.StatusConflict, resp.Status)
	resp = ts.do(http.MethodPost, "/api/v1/agents/bob/follow", bob, nil)
	assert.Equal(t, "SELF_FOLLOW", resp.Code)

	// Post, reply
	root := ts.post(alice, "Shipping a new shell today #Golang @bob", "")
	assert.Equal(t, []string{"golang"}, root.Hashtags)
	assert.Equal(t, []string{"bob"}, root.Mentions)
	assert.Equal(t, root.ID, root.ConversationID)

	reply := ts.post(bob, "Congrats!", root.ID)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, root.ID, *reply.ReplyToID)
	assert.Equal(t, root.ID, reply.ConversationID)

	// Like
	resp = ts.do(http.MethodPost, "/api/v1/molts/"+root.ID+"/like", bob, nil)
	require.Equal(t, http.StatusCreated, resp.Status)
	resp = ts.do(http.MethodPost, "/api/v1/molts/"+root.ID+"/like", bob, nil)
	assert.Equal(t, http.StatusConflict, resp.Status)

	resp = ts.do(http.MethodGet, "/api/v1/molts/"+root.ID, bob, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var got moltView
	resp.decode(t, &got)
	assert.Equal(t, 1, got.LikeCount)

	// Thread
	resp = ts.do(http.MethodGet, "/api/v1/molts/"+reply.ID+"/thread", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var view struct {
		Ancestors []moltView `json:"ancestors"`
		Main      moltView   `json:"main"`
	}
	resp.decode(t, &view)
	require.Len(t, view.Ancestors, 1)
	assert.Equal(t, root.ID, view.Ancestors[0].ID)
	assert.Equal(t, reply.ID, view.Main.ID)

	// Replies
	resp = ts.do(http.MethodGet, "/api/v1/molts/"+root.ID+"/replies", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var replies struct {
		Replies []moltView `json:"replies"`
	}
	resp.decode(t, &replies)
	require.Len(t, replies.Replies, 1)
	assert.Equal(t, reply.ID, replies.Replies[0].ID)

	resp = ts.do(http.MethodGet, "/api/v1/molts/"+root.ID+"/replies?cursor=yesterday", "", nil)
	assert.Equal(t, "INVALID_CURSOR", resp.Code)

	// Notifications: follow, reply and like for alice; mention for bob
	resp = ts.do(http.MethodGet, "/api/v1/notifications/count", alice, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var count handlers.NotificationCount
	resp.decode(t, &count)
	assert.Equal(t, 3, count.Total)
	assert.Equal(t, 1, count.ByType["like"])
	assert.Equal(t, 1, count.ByType["reply"])
	assert.Equal(t, 1, count.ByType["follow"])

	resp = ts.do(http.MethodGet, "/api/v1/notifications/count?type=mention", bob, nil)
	resp.decode(t, &count)
	assert.Equal(t, 1, count.Total)

	resp = ts.do(http.MethodGet, "/api/v1/notifications/count?type=bogus", bob, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	resp = ts.do(http.MethodPatch, "/api/v1/notifications", alice, map[string]any{"mark_all": true})
	require.Equal(t, http.StatusOK, resp.Status)
	resp = ts.do(http.MethodGet, "/api/v1/notifications", alice, nil)
	var list handlers.NotificationsResponse
	resp.decode(t, &list)
	assert.Len(t, list.Notifications, 3)
	assert.Zero(t, list.UnreadCount)

	resp = ts.do(http.MethodPatch, "/api/v1/notifications", alice, map[string]any{})
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)

	// Unlike
	resp = ts.do(http.MethodDelete, "/api/v1/molts/"+root.ID+"/like", bob, nil)
	assert.Equal(t, http.StatusOK, resp.Status)
	resp = ts.do(http.MethodDelete, "/api/v1/molts/"+root.ID+"/like", bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	// Delete
	resp = ts.do(http.MethodDelete, "/api/v1/molts/"+root.ID, bob, nil)
	assert.Equal(t, "FORBIDDEN", resp.Code)
	resp = ts.do(http.MethodDelete, "/api/v1/molts/"+root.ID, alice, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	resp = ts.do(http.MethodDelete, "/api/v1/molts/"+root.ID, alice, nil)
	assert.Equal(t, "ALREADY_DELETED", resp.Code)
	resp = ts.do(http.MethodGet, "/api/v1/molts/"+root.ID, "", nil)
	assert.Equal(t, "DELETED", resp.Code)
	resp = ts.do(http.MethodPost, "/api/v1/molts", bob, map[string]any{"content": "late reply", "reply_to_id": root.ID})
	assert.Equal(t, "PARENT_DELETED", resp.Code)
}

func TestCreateMoltValidation(t *testing.T) {
	ts := newTestServer(t)
	key := ts.agent("writer")

	tests := []struct {
		name string
		body map[string]any
		code string
	}{
		{"missing", map[string]any{}, "MISSING_CONTENT"},
		{"not a string", map[string]any{"content": 42}, "MISSING_CONTENT"},
		{"blank", map[string]any{"content": "   \t "}, "EMPTY_CONTENT"},
		{"too long", map[string]any{"content": strings.Repeat("🦞", 281)}, "CONTENT_TOO_LONG"},
		{"no parent", map[string]any{"content": "hi", "reply_to_id": "missing"}, "PARENT_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(http.MethodPost, "/api/v1/molts", key, tt.body)
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	// 280 characters is fine even when they are multi-byte
	ts.post(key, strings.Repeat("🦞", 280), "")
}

func TestMoltQuota(t *testing.T) {
	ts := newTestServer(t)
	key := ts.agent("chatty")

	for i := 0; i < quota.Limits[quota.ActionMolt]; i++ {
		ts.post(key, fmt.Sprintf("molt number %d", i), "")
	}
	resp := ts.do(http.MethodPost, "/api/v1/molts", key, map[string]any{"content": "one too many"})
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, "RATE_LIMITED", resp.Code)
	assert.Contains(t, resp.Hint, "Limit: 10/hour")
}

func TestTimelinesSearchAndHashtags(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.agent("alice")
	bob := ts.agent("bob")
	carol := ts.agent("carol")

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/v1/agents/alice/follow", bob, nil).Status)

	a1 := ts.post(alice, "Deep sea thoughts #ocean", "")
	ts.post(carol, "Unrelated #ocean musings", "")
	ts.post(bob, "My own note", "")
	ts.post(carol, "Replying", a1.ID)

	type page struct {
		Molts      []moltView `json:"molts"`
		NextCursor *string    `json:"next_cursor"`
	}

	// Home timeline: bob and the agents bob follows
	resp := ts.do(http.MethodGet, "/api/v1/timeline", bob, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var home page
	resp.decode(t, &home)
	names := map[string]bool{}
	for _, m := range home.Molts {
		names[m.AgentName] = true
		require.NotNil(t, m.Liked)
	}
	assert.Equal(t, map[string]bool{"alice": true, "bob": true}, names)

	resp = ts.do(http.MethodGet, "/api/v1/timeline?limit=abc", bob, nil)
	assert.Equal(t, "INVALID_PARAM", resp.Code)

	// Global timeline: roots only, paged
	resp = ts.do(http.MethodGet, "/api/v1/timeline/global?sort=recent&limit=2", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var global page
	resp.decode(t, &global)
	require.Len(t, global.Molts, 2)
	require.NotNil(t, global.NextCursor)

	resp = ts.do(http.MethodGet, "/api/v1/timeline/global?sort=recent&limit=2&before="+*global.NextCursor, "", nil)
	var rest page
	resp.decode(t, &rest)
	require.Len(t, rest.Molts, 1)
	assert.Nil(t, rest.NextCursor)
	for _, m := range append(global.Molts, rest.Molts...) {
		assert.Nil(t, m.ReplyToID)
	}

	// Hashtags
	resp = ts.do(http.MethodGet, "/api/v1/hashtags/OCEAN", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var tagged struct {
		Tag   string     `json:"tag"`
		Count int        `json:"count"`
		Molts []moltView `json:"molts"`
	}
	resp.decode(t, &tagged)
	assert.Equal(t, "ocean", tagged.Tag)
	assert.Equal(t, 2, tagged.Count)

	resp = ts.do(http.MethodGet, "/api/v1/hashtags/trending", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var trending handlers.TrendingResponse
	resp.decode(t, &trending)
	require.NotEmpty(t, trending.Hashtags)
	assert.Equal(t, 1, trending.Hashtags[0].Rank)
	assert.Equal(t, "ocean", trending.Hashtags[0].Tag)
	assert.Equal(t, 2, trending.Hashtags[0].Count)
	assert.Equal(t, 24, trending.PeriodHours)

	// Search
	resp = ts.do(http.MethodGet, "/api/v1/search?q=deep+sea", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var found struct {
		Molts  []moltView        `json:"molts"`
		Agents []json.RawMessage `json:"agents"`
	}
	resp.decode(t, &found)
	require.Len(t, found.Molts, 1)
	assert.Equal(t, a1.ID, found.Molts[0].ID)
	assert.NotNil(t, found.Agents)

	resp = ts.do(http.MethodGet, "/api/v1/search?q=carol&type=agents", "", nil)
	var agentsOnly map[string]json.RawMessage
	resp.decode(t, &agentsOnly)
	assert.NotContains(t, agentsOnly, "molts")
	assert.Contains(t, string(agentsOnly["agents"]), `"carol"`)

	resp = ts.do(http.MethodGet, "/api/v1/search?q=x", "", nil)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)

	resp = ts.do(http.MethodGet, "/api/v1/search?q=wait...", "", nil)
	assert.Equal(t, http.StatusOK, resp.Status, resp.Error)
}

func TestAgentProfiles(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.agent("Alice")
	bob := ts.agent("bob")
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/v1/agents/alice/follow", bob, nil).Status)
	root := ts.post(alice, "root", "")
	ts.post(alice, "reply to self", root.ID)

	resp := ts.do(http.MethodGet, "/api/v1/agents/ALICE", "", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var profile models.PublicAgent
	resp.decode(t, &profile)
	assert.Equal(t, "alice", profile.Name)
	assert.Equal(t, "Alice", profile.DisplayName)
	assert.Equal(t, 1, profile.FollowerCount)

	resp = ts.do(http.MethodGet, "/api/v1/agents/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	var molts handlers.MoltPage
	ts.do(http.MethodGet, "/api/v1/agents/alice/molts", "", nil).decode(t, &molts)
	assert.Len(t, molts.Molts, 1)
	ts.do(http.MethodGet, "/api/v1/agents/alice/molts?include_replies=true", "", nil).decode(t, &molts)
	assert.Len(t, molts.Molts, 2)
	ts.do(http.MethodGet, "/api/v1/agents/alice/molts?replies_only=true", "", nil).decode(t, &molts)
	assert.Len(t, molts.Molts, 1)

	var followers struct {
		Followers []handlers.FollowEntry `json:"followers"`
		HasMore   bool                   `json:"has_more"`
	}
	ts.do(http.MethodGet, "/api/v1/agents/alice/followers", "", nil).decode(t, &followers)
	require.Len(t, followers.Followers, 1)
	assert.Equal(t, "bob", followers.Followers[0].Name)
	assert.False(t, followers.HasMore)

	var list handlers.AgentListResponse
	ts.do(http.MethodGet, "/api/v1/agents/top", "", nil).decode(t, &list)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "alice", list.Agents[0].Name)

	// Profile edits
	resp = ts.do(http.MethodPatch, "/api/v1/agents/me", alice, map[string]any{
		"display_name": "Alice the Crab",
		"bio":          "Sideways since 2026",
		"links":        map[string]any{"website": "https://alice.example.org"},
		"webhook_url":  "https://alice.example.org/hook",
	})
	require.Equal(t, http.StatusOK, resp.Status, resp.Error)
	var me handlers.ProfileResponse
	resp.decode(t, &me)
	assert.Equal(t, "Alice the Crab", me.DisplayName)
	assert.Equal(t, "https://alice.example.org", me.Links.Website)
	assert.NotEmpty(t, me.WebhookSecret)

	resp = ts.do(http.MethodPatch, "/api/v1/agents/me", alice, map[string]any{"webhook_url": "http://insecure.example.org"})
	assert.Equal(t, "Webhook URL must use HTTPS", resp.Error)

	resp = ts.do(http.MethodPatch, "/api/v1/agents/me", alice, map[string]any{"webhook_url": nil})
	require.Equal(t, http.StatusOK, resp.Status)
	var cleared handlers.ProfileResponse
	resp.decode(t, &cleared)
	assert.Nil(t, cleared.WebhookURL)
	assert.Empty(t, cleared.WebhookSecret)
	assert.NotContains(t, string(resp.Data), "webhook_secret")

	resp = ts.do(http.MethodPatch, "/api/v1/agents/me", alice, map[string]any{})
	assert.Equal(t, "No fields to update", resp.Error)

	resp = ts.do(http.MethodPatch, "/api/v1/agents/me", alice, map[string]any{"display_name": strings.Repeat("a", 51)})
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
}

func TestNewsletter(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/v1/newsletter/subscribe", "", map[string]any{"email": "reader@example.org"})
	require.Equal(t, http.StatusOK, resp.Status, resp.Error)
	assert.Equal(t, []string{"reader@example.org"}, ts.mailer.subs)

	resp = ts.do(http.MethodPost, "/api/v1/newsletter/subscribe", "", map[string]any{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestUnknownAndUnauthenticated(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/api/v1/timeline", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "UNAUTHORIZED", resp.Code)

	resp = ts.do(http.MethodGet, "/api/v1/molts/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	resp = ts.do(http.MethodGet, "/api/v1/molts/nope/thread", "", nil)
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

func TestAvatarUploadAndServe(t *testing.T) {
	ts := newTestServer(t)
	key := ts.agent("painter")

	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	for x := 0; x < 300; x++ {
		for y := 0; y < 200; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, img))

	upload := func(contentType string, data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="avatar"; filename="me.png"`)
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		part.Write(data)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/me/avatar", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+key)
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)
		return rec
	}

	rec := upload("text/plain", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TYPE")

	rec = upload("image/png", []byte("not really a png"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TYPE")

	rec = upload("image/png", encoded.Bytes())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data struct {
			AvatarURL string `json:"avatar_url"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.Data.AvatarURL, appURL+"/avatars/"), resp.Data.AvatarURL)

	// The stored avatar is served as a square JPEG
	served := httptest.NewRecorder()
	ts.router.ServeHTTP(served, httptest.NewRequest(http.MethodGet, strings.TrimPrefix(resp.Data.AvatarURL, appURL), nil))
	require.Equal(t, http.StatusOK, served.Code)
	cfg, format, err := image.DecodeConfig(served.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, media.AvatarSize, cfg.Width)
	assert.Equal(t, media.AvatarSize, cfg.Height)

	var me handlers.ProfileResponse
	ts.do(http.MethodGet, "/api/v1/agents/me", key, nil).decode(t, &me)
	require.NotNil(t, me.AvatarURL)
	assert.Equal(t, resp.Data.AvatarURL, *me.AvatarURL)

	dr := ts.do(http.MethodDelete, "/api/v1/agents/me/avatar", key, nil)
	require.Equal(t, http.StatusOK, dr.Status)
	ts.do(http.MethodGet, "/api/v1/agents/me", key, nil).decode(t, &me)
	assert.Nil(t, me.AvatarURL)
}
