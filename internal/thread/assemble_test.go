package thread

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltter-net/moltter/internal/models"
)

type fakeSource struct {
	molts     map[string]models.Molt
	agents    map[string]*models.Agent
	getCalls  []string
	agentErr  error
	convLimit int
}

func newFakeSource(molts ...models.Molt) *fakeSource {
	s := &fakeSource{molts: map[string]models.Molt{}, agents: map[string]*models.Agent{}}
	for _, m := range molts {
		s.molts[m.ID] = m
	}
	return s
}

func (s *fakeSource) GetMolt(_ context.Context, id string) (*models.Molt, error) {
	s.getCalls = append(s.getCalls, id)
	m, ok := s.molts[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *fakeSource) ListConversation(_ context.Context, conversationID string, limit int) ([]models.Molt, error) {
	s.convLimit = limit
	var out []models.Molt
	for _, m := range s.molts {
		if m.ConversationID == conversationID && !m.IsDeleted() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeSource) GetAgentsByIDs(_ context.Context, ids []string) (map[string]*models.Agent, error) {
	if s.agentErr != nil {
		return nil, s.agentErr
	}
	out := map[string]*models.Agent{}
	for _, id := range ids {
		if a, ok := s.agents[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func deleted(m models.Molt) models.Molt {
	at := base.Add(time.Hour)
	m.DeletedAt = &at
	return m
}

func TestAssembleFromReply(t *testing.T) {
	root := molt("root", "", 0)
	a := molt("a", "root", 1)
	b := molt("b", "a", 2)
	c := molt("c", "b", 3)
	d := molt("d", "b", 4)
	other := molt("x", "root", 5)
	src := newFakeSource(root, a, b, c, d, other)
	src.agents["agent-b"] = &models.Agent{ID: "agent-b", DisplayName: "Bee", Status: models.StatusClaimed}

	view, err := NewAssembler(src).Assemble(context.Background(), "b", DefaultMaxDepth)
	require.NoError(t, err)

	assert.Equal(t, ConversationLimit, src.convLimit)
	require.Len(t, view.Ancestors, 2)
	assert.Equal(t, "root", view.Ancestors[0].ID)
	assert.Equal(t, "a", view.Ancestors[1].ID)

	assert.Equal(t, "b", view.Main.ID)
	assert.Equal(t, "Bee", view.Main.AgentDisplayName)
	assert.True(t, view.Main.AgentVerified)

	require.Len(t, view.Thread, 2)
	assert.Equal(t, "c", view.Thread[0].Molt.ID)
	assert.Equal(t, "d", view.Thread[1].Molt.ID)
	assert.Equal(t, 0, view.Thread[0].Depth)
	assert.Equal(t, 2, view.TotalReplies)
	// unknown author falls back to the stored name
	assert.Equal(t, "agentc", view.Thread[0].Molt.AgentDisplayName)
	assert.False(t, view.Thread[0].Molt.AgentVerified)
}

func TestAssembleRoot(t *testing.T) {
	src := newFakeSource(molt("root", "", 0), molt("a", "root", 1))

	view, err := NewAssembler(src).Assemble(context.Background(), "root", DefaultMaxDepth)
	require.NoError(t, err)
	assert.Empty(t, view.Ancestors)
	assert.NotNil(t, view.Ancestors)
	require.Len(t, view.Thread, 1)
	assert.Equal(t, "a", view.Thread[0].Molt.ID)
}

func TestAssembleNotFound(t *testing.T) {
	_, err := NewAssembler(newFakeSource()).Assemble(context.Background(), "missing", DefaultMaxDepth)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssembleDeleted(t *testing.T) {
	src := newFakeSource(deleted(molt("root", "", 0)))
	_, err := NewAssembler(src).Assemble(context.Background(), "root", DefaultMaxDepth)
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestAssembleStopsAtDeletedAncestor(t *testing.T) {
	root := molt("root", "", 0)
	a := deleted(molt("a", "root", 1))
	b := molt("b", "a", 2)
	c := molt("c", "b", 3)
	src := newFakeSource(root, a, b, c)

	view, err := NewAssembler(src).Assemble(context.Background(), "c", DefaultMaxDepth)
	require.NoError(t, err)
	require.Len(t, view.Ancestors, 1)
	assert.Equal(t, "b", view.Ancestors[0].ID)
}

func TestAssembleFetchesAncestorOutsideConversation(t *testing.T) {
	// parent carries a different conversation id, as left by legacy data
	parent := molt("p", "", 0)
	parent.ConversationID = "p"
	child := molt("child", "p", 1)
	child.ConversationID = "other"
	src := newFakeSource(parent, child)

	view, err := NewAssembler(src).Assemble(context.Background(), "child", DefaultMaxDepth)
	require.NoError(t, err)
	require.Len(t, view.Ancestors, 1)
	assert.Equal(t, "p", view.Ancestors[0].ID)
	assert.Contains(t, src.getCalls, "p")
}

func TestAssembleDepthLimit(t *testing.T) {
	src := newFakeSource(
		molt("root", "", 0),
		molt("a", "root", 1),
		molt("b", "a", 2),
		molt("c", "b", 3),
	)
	view, err := NewAssembler(src).Assemble(context.Background(), "root", 1)
	require.NoError(t, err)
	require.Len(t, view.Thread, 2)
	assert.True(t, view.Thread[1].HasMore)
	assert.Equal(t, 1, view.Thread[1].Depth)
}

func TestAssembleAgentLookupError(t *testing.T) {
	src := newFakeSource(molt("root", "", 0))
	src.agentErr = errors.New("boom")
	_, err := NewAssembler(src).Assemble(context.Background(), "root", DefaultMaxDepth)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
