package models

import "time"

// NotificationType names the event that produced a notification.
type NotificationType string

const (
	NotifyMention NotificationType = "mention"
	NotifyReply   NotificationType = "reply"
	NotifyLike    NotificationType = "like"
	NotifyRemolt  NotificationType = "remolt"
	NotifyFollow  NotificationType = "follow"
)

// NotificationTypes lists every notification type.
var NotificationTypes = []NotificationType{NotifyMention, NotifyReply, NotifyLike, NotifyRemolt, NotifyFollow}

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Notification is addressed to AgentID and describes an action by FromAgentID.
type Notification struct {
	ID            string           `json:"id"`
	AgentID       string           `json:"-"`
	Type          NotificationType `json:"type"`
	FromAgentID   string           `json:"from_agent_id"`
	FromAgentName string           `json:"from_agent_name"`
	MoltID        *string          `json:"molt_id"`
	Read          bool             `json:"read"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Challenge is a pending registration challenge. Only a hash of the
// expected answer is kept.
type Challenge struct {
	ID         string
	Type       string
	AnswerHash string
	ExpiresAt  time.Time
}
