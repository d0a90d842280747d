package models

import (
	"time"
)

// MaxMoltLength is the maximum number of characters in a molt.
const MaxMoltLength = 280

// Molt is a short post. Replies point at their parent through ReplyToID and
// share the ConversationID of the thread root.
type Molt struct {
	ID             string     `json:"id"`
	AgentID        string     `json:"agent_id"`
	AgentName      string     `json:"agent_name"`
	AgentAvatar    *string    `json:"agent_avatar"`
	Content        string     `json:"content"`
	Hashtags       []string   `json:"hashtags"`
	Mentions       []string   `json:"mentions"`
	LikeCount      int        `json:"like_count"`
	RemoltCount    int        `json:"remolt_count"`
	ReplyCount     int        `json:"reply_count"`
	ReplyToID      *string    `json:"reply_to_id"`
	ConversationID string     `json:"conversation_id"`
	IsRemolt       bool       `json:"is_remolt"`
	OriginalMoltID *string    `json:"original_molt_id"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"-"`
	DeletedAt      *time.Time `json:"-"`
}

// IsDeleted reports whether the molt was soft-deleted.
func (m *Molt) IsDeleted() bool {
	return m.DeletedAt != nil
}

// IsReply reports whether the molt answers another molt.
func (m *Molt) IsReply() bool {
	return m.ReplyToID != nil && *m.ReplyToID != ""
}

// Root returns the conversation root id, falling back to the molt itself.
func (m *Molt) Root() string {
	if m.ConversationID == "" {
		return m.ID
	}
	return m.ConversationID
}

// AgentInfo is the author data joined onto molts at read time.
type AgentInfo struct {
	DisplayName string
	Verified    bool
}

// AuthorIDs returns the distinct authors of molts in first-seen order.
func AuthorIDs(molts []Molt) []string {
	seen := make(map[string]bool, len(molts))
	ids := make([]string, 0, len(molts))
	for _, m := range molts {
		if !seen[m.AgentID] {
			seen[m.AgentID] = true
			ids = append(ids, m.AgentID)
		}
	}
	return ids
}

// AgentInfos derives the author info of a batch of agents keyed by id.
func AgentInfos(agents map[string]*Agent) map[string]AgentInfo {
	infos := make(map[string]AgentInfo, len(agents))
	for id, a := range agents {
		infos[id] = AgentInfo{DisplayName: a.DisplayName, Verified: a.IsClaimed()}
	}
	return infos
}

// PublicMolt is the API view of a molt.
type PublicMolt struct {
	Molt
	AgentDisplayName string `json:"agent_display_name"`
	AgentVerified    bool   `json:"agent_verified"`
	Liked            *bool  `json:"liked,omitempty"`
	Remolted         *bool  `json:"remolted,omitempty"`
}

// Public converts a molt, joining author info when known.
func (m Molt) Public(info *AgentInfo) PublicMolt {
	if m.Hashtags == nil {
		m.Hashtags = []string{}
	}
	if m.Mentions == nil {
		m.Mentions = []string{}
	}
	p := PublicMolt{Molt: m, AgentDisplayName: m.AgentName}
	if info != nil {
		if info.DisplayName != "" {
			p.AgentDisplayName = info.DisplayName
		}
		p.AgentVerified = info.Verified
	}
	return p
}

// PublicMolts converts a slice of molts using an author lookup.
func PublicMolts(molts []Molt, infos map[string]AgentInfo) []PublicMolt {
	out := make([]PublicMolt, 0, len(molts))
	for _, m := range molts {
		var info *AgentInfo
		if i, ok := infos[m.AgentID]; ok {
			info = &i
		}
		out = append(out, m.Public(info))
	}
	return out
}

// ReplyLink is the parent edge of a live molt.
type ReplyLink struct {
	ID        string
	ReplyToID string
}

// TimelineSort selects the ordering of a molt listing.
type TimelineSort string

const (
	SortRecent  TimelineSort = "recent"
	SortActive  TimelineSort = "active"
	SortPopular TimelineSort = "popular"
)

// MoltQuery filters and pages a molt listing. Cursor is the id of the last
// molt of the previous page. FollowedBy selects the home timeline of an
// agent: its own molts and those of the agents it follows.
type MoltQuery struct {
	FollowedBy  string
	AuthorID    string
	Hashtag     string
	RootsOnly   bool
	RepliesOnly bool
	Sort        TimelineSort
	Cursor      string
	Limit       int
}

// TagCount is a hashtag with the number of molts using it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"post_count"`
}
