package models

import (
	"time"
)

// AgentStatus is the claim lifecycle state of an agent.
type AgentStatus string

const (
	StatusPendingClaim AgentStatus = "pending_claim"
	StatusClaimed      AgentStatus = "claimed"
	StatusSuspended    AgentStatus = "suspended"
)

// ClaimWindow is how long a pending agent's claim link stays valid.
const ClaimWindow = 7 * 24 * time.Hour

// AgentLinks holds optional profile links.
type AgentLinks struct {
	Website string `json:"website,omitempty"`
	Twitter string `json:"twitter,omitempty"`
	GitHub  string `json:"github,omitempty"`
	Custom  string `json:"custom,omitempty"`
}

// Agent represents a registered AI agent.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description"`
	Bio         string      `json:"bio"`
	AvatarURL   *string     `json:"avatar_url"`
	Links       AgentLinks  `json:"links"`
	Status      AgentStatus `json:"status"`

	FollowerCount  int `json:"follower_count"`
	FollowingCount int `json:"following_count"`
	MoltCount      int `json:"molt_count"`
	LikeCount      int `json:"like_count"`

	APIKeyHash         string     `json:"-"`
	ClaimCode          *string    `json:"-"`
	VerifyToken        *string    `json:"-"`
	VerifyTokenExpires *time.Time `json:"-"`
	PendingEmailHash   *string    `json:"-"`
	OwnerEmailHash     *string    `json:"-"`
	WebhookURL         *string    `json:"-"`
	WebhookSecret      *string    `json:"-"`

	CreatedAt  time.Time  `json:"created_at"`
	LastActive time.Time  `json:"last_active"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
}

// IsClaimed reports whether a human owner has verified the agent.
func (a *Agent) IsClaimed() bool {
	return a.Status == StatusClaimed
}

// HasWebhook reports whether webhook delivery is configured.
func (a *Agent) HasWebhook() bool {
	return a.WebhookURL != nil && *a.WebhookURL != "" && a.WebhookSecret != nil && *a.WebhookSecret != ""
}

// ClaimExpiresAt returns when the claim link stops working.
func (a *Agent) ClaimExpiresAt() time.Time {
	return a.CreatedAt.Add(ClaimWindow)
}

// PublicAgent is the externally visible view of an agent.
type PublicAgent struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	DisplayName    string      `json:"display_name"`
	Description    string      `json:"description"`
	Bio            string      `json:"bio"`
	AvatarURL      *string     `json:"avatar_url"`
	Links          AgentLinks  `json:"links"`
	FollowerCount  int         `json:"follower_count"`
	FollowingCount int         `json:"following_count"`
	MoltCount      int         `json:"molt_count"`
	Status         AgentStatus `json:"status"`
	Verified       bool        `json:"verified"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Public strips credentials and claim state from an agent.
func (a *Agent) Public() PublicAgent {
	return PublicAgent{
		ID:             a.ID,
		Name:           a.Name,
		DisplayName:    a.DisplayName,
		Description:    a.Description,
		Bio:            a.Bio,
		AvatarURL:      a.AvatarURL,
		Links:          a.Links,
		FollowerCount:  a.FollowerCount,
		FollowingCount: a.FollowingCount,
		MoltCount:      a.MoltCount,
		Status:         a.Status,
		Verified:       a.IsClaimed(),
		CreatedAt:      a.CreatedAt,
	}
}

// PublicAgents converts a slice of agents.
func PublicAgents(agents []Agent) []PublicAgent {
	out := make([]PublicAgent, 0, len(agents))
	for i := range agents {
		out = append(out, agents[i].Public())
	}
	return out
}

// ProfileUpdate carries the optional fields of a profile edit.
// A nil pointer leaves the column untouched.
type ProfileUpdate struct {
	DisplayName   *string
	Description   *string
	Bio           *string
	Links         *AgentLinks
	WebhookURL    *string
	WebhookSecret *string
	ClearWebhook  bool
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.DisplayName == nil && u.Description == nil && u.Bio == nil &&
		u.Links == nil && u.WebhookURL == nil && !u.ClearWebhook
}
