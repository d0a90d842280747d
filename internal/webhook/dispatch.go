package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
)

// TaskDeliver is the asynq task type of a queued delivery.
const TaskDeliver = "webhook:deliver"

// MaxRetry is how often a queued delivery is retried.
const MaxRetry = 5

// InlineDispatcher delivers in a background goroutine with a single attempt.
type InlineDispatcher struct {
	sender *Sender
	logger zerolog.Logger
}

// NewInlineDispatcher creates a fire-and-forget dispatcher.
func NewInlineDispatcher(sender *Sender, logger zerolog.Logger) *InlineDispatcher {
	return &InlineDispatcher{sender: sender, logger: logger}
}

// Dispatch starts delivery and returns immediately.
func (d *InlineDispatcher) Dispatch(ctx context.Context, agent *models.Agent, p Payload) error {
	if !agent.HasWebhook() {
		return nil
	}
	url, secret := *agent.WebhookURL, *agent.WebhookSecret
	go func() {
		// The request context ends with the response; delivery outlives it.
		ctx := context.WithoutCancel(ctx)
		if err := d.sender.Send(ctx, url, secret, p); err != nil {
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			d.logger.Debug().Err(err).Str("agent_id", agent.ID).Str("event", string(p.Event)).Msg("webhook delivery failed")
			return
		}
		metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	}()
	return nil
}

// deliverTask is the queued form of a delivery. The endpoint is resolved
// when the task runs so that configuration changes apply to retries.
type deliverTask struct {
	AgentID string  `json:"agent_id"`
	Payload Payload `json:"payload"`
}

// Enqueuer is the part of asynq.Client used for queueing.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher enqueues deliveries for the worker.
type QueueDispatcher struct {
	client  Enqueuer
	timeout time.Duration
}

// NewQueueDispatcher creates a dispatcher backed by an asynq client.
func NewQueueDispatcher(client Enqueuer, timeout time.Duration) *QueueDispatcher {
	return &QueueDispatcher{client: client, timeout: timeout}
}

// NewAsynqClient connects an asynq client to redisURL.
func NewAsynqClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// Dispatch enqueues a delivery task.
func (d *QueueDispatcher) Dispatch(ctx context.Context, agent *models.Agent, p Payload) error {
	if !agent.HasWebhook() {
		return nil
	}
	body, err := json.Marshal(deliverTask{AgentID: agent.ID, Payload: p})
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, asynq.NewTask(TaskDeliver, body),
		asynq.MaxRetry(MaxRetry),
		asynq.Timeout(d.timeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue webhook: %w", err)
	}
	metrics.WebhookDeliveries.WithLabelValues("enqueued").Inc()
	return nil
}

// AgentGetter looks agents up by id.
type AgentGetter interface {
	GetAgentByID(ctx context.Context, id string) (*models.Agent, error)
}

// DeliveryHandler processes queued deliveries.
type DeliveryHandler struct {
	agents AgentGetter
	sender *Sender
	logger zerolog.Logger
}

// NewDeliveryHandler creates the worker-side handler.
func NewDeliveryHandler(agents AgentGetter, sender *Sender, logger zerolog.Logger) *DeliveryHandler {
	return &DeliveryHandler{agents: agents, sender: sender, logger: logger}
}

// ProcessTask delivers one task. Returned errors make asynq retry.
func (h *DeliveryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task deliverTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("decode task: %v: %w", err, asynq.SkipRetry)
	}

	agent, err := h.agents.GetAgentByID(ctx, task.AgentID)
	if err != nil {
		return fmt.Errorf("get agent: %w", err)
	}
	if agent == nil || !agent.HasWebhook() {
		h.logger.Debug().Str("agent_id", task.AgentID).Msg("webhook no longer configured, dropping")
		return nil
	}

	if err := h.sender.Send(ctx, *agent.WebhookURL, *agent.WebhookSecret, task.Payload); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		return err
	}
	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	return nil
}
