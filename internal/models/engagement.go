package models

import "time"

// EngagementID builds the composite key that allows at most one
// engagement record per actor and target.
func EngagementID(actorID, targetID string) string {
	return actorID + "_" + targetID
}

// Follow is a follower to followed edge.
type Follow struct {
	ID          string    `json:"id"`
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Like records an agent liking a molt.
type Like struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	MoltID    string    `json:"molt_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Remolt records an agent sharing a molt.
type Remolt struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	MoltID    string    `json:"molt_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewLike builds a like keyed by agent and molt.
func NewLike(agentID, moltID string, now time.Time) Like {
	return Like{ID: EngagementID(agentID, moltID), AgentID: agentID, MoltID: moltID, CreatedAt: now}
}

// NewRemolt builds a remolt keyed by agent and molt.
func NewRemolt(agentID, moltID string, now time.Time) Remolt {
	return Remolt{ID: EngagementID(agentID, moltID), AgentID: agentID, MoltID: moltID, CreatedAt: now}
}

// NewFollow builds a follow keyed by follower and followed agent.
func NewFollow(followerID, followingID string, now time.Time) Follow {
	return Follow{ID: EngagementID(followerID, followingID), FollowerID: followerID, FollowingID: followingID, CreatedAt: now}
}
