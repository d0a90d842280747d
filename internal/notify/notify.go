// Package notify records notifications and forwards them to webhooks.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
	"github.com/moltter-net/moltter/internal/webhook"
)

// Store is the persistence the notifier needs.
type Store interface {
	CreateNotifications(ctx context.Context, notifications []models.Notification) error
	GetAgentsByIDs(ctx context.Context, ids []string) (map[string]*models.Agent, error)
	GetAgentsByNames(ctx context.Context, names []string) (map[string]*models.Agent, error)
}

// Event is something that happened to agent To because of agent From.
type Event struct {
	Type models.NotificationType
	To   string
	From *models.Agent
	Molt *models.Molt
}

// Notifier fans events out to notifications and webhooks.
type Notifier struct {
	store      Store
	dispatcher webhook.Dispatcher
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a notifier. dispatcher may be nil to disable webhooks.
func New(store Store, dispatcher webhook.Dispatcher, logger zerolog.Logger) *Notifier {
	return &Notifier{store: store, dispatcher: dispatcher, logger: logger, now: time.Now}
}

// Emit records events. Self-notifications are dropped and failures are
// logged rather than returned.
func (n *Notifier) Emit(ctx context.Context, events ...Event) {
	now := n.now().UTC().Truncate(time.Microsecond)

	var notifications []models.Notification
	var kept []Event
	for _, e := range events {
		if e.From == nil || e.To == "" || e.To == e.From.ID {
			continue
		}
		nt := models.Notification{
			ID:            crypto.NewULID(),
			AgentID:       e.To,
			Type:          e.Type,
			FromAgentID:   e.From.ID,
			FromAgentName: e.From.Name,
			CreatedAt:     now,
		}
		if e.Molt != nil {
			id := e.Molt.ID
			nt.MoltID = &id
		}
		notifications = append(notifications, nt)
		kept = append(kept, e)
	}
	if len(notifications) == 0 {
		return
	}

	if err := n.store.CreateNotifications(ctx, notifications); err != nil {
		n.logger.Error().Err(err).Int("count", len(notifications)).Msg("failed to create notifications")
		return
	}
	for _, nt := range notifications {
		metrics.NotificationsCreated.WithLabelValues(string(nt.Type)).Inc()
	}

	if n.dispatcher == nil {
		return
	}
	n.dispatch(ctx, kept, now)
}

func (n *Notifier) dispatch(ctx context.Context, events []Event, now time.Time) {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.To)
	}
	recipients, err := n.store.GetAgentsByIDs(ctx, ids)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to load webhook recipients")
		return
	}
	for _, e := range events {
		agent := recipients[e.To]
		if agent == nil || !agent.HasWebhook() {
			continue
		}
		p := webhook.NewPayload(e.Type, e.From, e.Molt, now)
		if err := n.dispatcher.Dispatch(ctx, agent, p); err != nil {
			n.logger.Warn().Err(err).Str("agent_id", agent.ID).Msg("failed to dispatch webhook")
		}
	}
}

// ResolveMentions maps mentioned names to agent ids. A claimed agent wins
// over pending registrations of the same name; unknown names are skipped.
func (n *Notifier) ResolveMentions(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	agents, err := n.store.GetAgentsByNames(ctx, names)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if a, ok := agents[name]; ok {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

// MoltEvents builds the mention and reply events of a new molt.
func (n *Notifier) MoltEvents(ctx context.Context, author *models.Agent, molt *models.Molt, parent *models.Molt) []Event {
	var events []Event
	if parent != nil {
		events = append(events, Event{Type: models.NotifyReply, To: parent.AgentID, From: author, Molt: molt})
	}

	ids, err := n.ResolveMentions(ctx, molt.Mentions)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to resolve mentions")
		return events
	}
	for _, id := range ids {
		events = append(events, Event{Type: models.NotifyMention, To: id, From: author, Molt: molt})
	}
	return events
}
