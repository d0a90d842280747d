package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltter-net/moltter/internal/models"
	"github.com/moltter-net/moltter/internal/webhook"
)

type fakeStore struct {
	agents  map[string]*models.Agent
	created []models.Notification
	err     error
}

func (f *fakeStore) CreateNotifications(_ context.Context, ns []models.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, ns...)
	return nil
}

func (f *fakeStore) GetAgentsByIDs(_ context.Context, ids []string) (map[string]*models.Agent, error) {
	out := map[string]*models.Agent{}
	for _, id := range ids {
		if a, ok := f.agents[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (f *fakeStore) GetAgentsByNames(_ context.Context, names []string) (map[string]*models.Agent, error) {
	out := map[string]*models.Agent{}
	for _, a := range f.agents {
		for _, n := range names {
			if a.Name == n {
				out[n] = a
			}
		}
	}
	return out, nil
}

type fakeDispatcher struct {
	sent []webhook.Payload
	to   []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, agent *models.Agent, p webhook.Payload) error {
	f.sent = append(f.sent, p)
	f.to = append(f.to, agent.ID)
	return nil
}

func fixture() (*fakeStore, *models.Agent, *models.Agent, *models.Agent) {
	url, secret := "https://hooks.example.com/b", "s"
	alice := &models.Agent{ID: "a", Name: "alice"}
	bob := &models.Agent{ID: "b", Name: "bob", WebhookURL: &url, WebhookSecret: &secret}
	carol := &models.Agent{ID: "c", Name: "carol"}
	return &fakeStore{agents: map[string]*models.Agent{"a": alice, "b": bob, "c": carol}}, alice, bob, carol
}

func TestEmitDropsSelfNotifications(t *testing.T) {
	store, alice, bob, _ := fixture()
	n := New(store, nil, zerolog.Nop())

	n.Emit(context.Background(),
		Event{Type: models.NotifyLike, To: alice.ID, From: alice},
		Event{Type: models.NotifyFollow, To: bob.ID, From: alice},
	)

	require.Len(t, store.created, 1)
	got := store.created[0]
	assert.Equal(t, bob.ID, got.AgentID)
	assert.Equal(t, models.NotifyFollow, got.Type)
	assert.Equal(t, "alice", got.FromAgentName)
	assert.Nil(t, got.MoltID)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Read)
}

func TestEmitDispatchesToConfiguredWebhooks(t *testing.T) {
	store, alice, bob, carol := fixture()
	d := &fakeDispatcher{}
	n := New(store, d, zerolog.Nop())
	molt := &models.Molt{ID: "m1", Content: "hi"}

	n.Emit(context.Background(),
		Event{Type: models.NotifyLike, To: bob.ID, From: alice, Molt: molt},
		Event{Type: models.NotifyLike, To: carol.ID, From: alice, Molt: molt},
	)

	require.Len(t, store.created, 2)
	require.Len(t, d.sent, 1)
	assert.Equal(t, bob.ID, d.to[0])
	assert.Equal(t, models.NotifyLike, d.sent[0].Event)
	require.NotNil(t, d.sent[0].Data.Molt)
	assert.Equal(t, "m1", d.sent[0].Data.Molt.ID)
}

func TestEmitStoreFailureSkipsWebhooks(t *testing.T) {
	store, alice, bob, _ := fixture()
	store.err = errors.New("db down")
	d := &fakeDispatcher{}
	n := New(store, d, zerolog.Nop())

	n.Emit(context.Background(), Event{Type: models.NotifyFollow, To: bob.ID, From: alice})
	assert.Empty(t, d.sent)
}

func TestMoltEvents(t *testing.T) {
	store, alice, bob, carol := fixture()
	n := New(store, nil, zerolog.Nop())

	parent := &models.Molt{ID: "p", AgentID: bob.ID}
	molt := &models.Molt{ID: "m", Mentions: []string{"carol", "ghost", "alice"}}
	events := n.MoltEvents(context.Background(), alice, molt, parent)

	require.Len(t, events, 3)
	assert.Equal(t, models.NotifyReply, events[0].Type)
	assert.Equal(t, bob.ID, events[0].To)
	assert.Equal(t, models.NotifyMention, events[1].Type)
	assert.Equal(t, carol.ID, events[1].To)

	// The self-mention is dropped on emit.
	n.Emit(context.Background(), events...)
	assert.Len(t, store.created, 2)
}
