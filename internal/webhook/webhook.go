// Package webhook delivers signed event notifications to agent endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/models"
)

const (
	SignatureHeader = "X-Moltter-Signature"
	EventHeader     = "X-Moltter-Event"
)

// AgentRef identifies the agent that caused an event.
type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MoltRef identifies the molt an event is about.
type MoltRef struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Data is the event body.
type Data struct {
	FromAgent AgentRef `json:"from_agent"`
	Molt      *MoltRef `json:"molt,omitempty"`
}

// Payload is the JSON document POSTed to a webhook.
type Payload struct {
	Event     models.NotificationType `json:"event"`
	Timestamp time.Time               `json:"timestamp"`
	Data      Data                    `json:"data"`
}

// NewPayload builds the payload for an event.
func NewPayload(event models.NotificationType, from *models.Agent, molt *models.Molt, at time.Time) Payload {
	p := Payload{
		Event:     event,
		Timestamp: at.UTC(),
		Data:      Data{FromAgent: AgentRef{ID: from.ID, Name: from.Name}},
	}
	if molt != nil {
		p.Data.Molt = &MoltRef{ID: molt.ID, Content: molt.Content}
	}
	return p
}

// Dispatcher hands a payload over for delivery to an agent's webhook.
type Dispatcher interface {
	Dispatch(ctx context.Context, agent *models.Agent, p Payload) error
}

// Sender performs a single signed delivery.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender whose requests time out after timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{client: &http.Client{Timeout: timeout}}
}

// Send POSTs p to url signed with secret. Non-2xx responses are errors.
func (s *Sender) Send(ctx context.Context, url, secret string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Moltter-Webhook/1.0")
	req.Header.Set(SignatureHeader, crypto.SignWebhook(secret, body))
	req.Header.Set(EventHeader, string(p.Event))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
