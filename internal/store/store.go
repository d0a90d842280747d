package store

import (
	"context"
	"errors"
	"time"

	"github.com/moltter-net/moltter/internal/models"
)

var (
	// ErrNotFound is returned when a row to change does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when an engagement record is repeated.
	ErrAlreadyExists = errors.New("already exists")
	// ErrAlreadyDeleted is returned when deleting a deleted molt.
	ErrAlreadyDeleted = errors.New("already deleted")
	// ErrParentDeleted is returned when replying to a molt deleted in the
	// meantime.
	ErrParentDeleted = errors.New("parent deleted")
	// ErrNameTaken is returned when a claimed agent already has the name.
	ErrNameTaken = errors.New("name taken")
	// ErrEmailTaken is returned when an owner email already claimed an agent.
	ErrEmailTaken = errors.New("email taken")
)

// AgentSort selects the ordering of an agent listing.
type AgentSort string

const (
	AgentsByFollowers AgentSort = "followers"
	AgentsByRecent    AgentSort = "recent"
	// AgentsByScore ranks by followers × (1 + likes per molt / 10).
	AgentsByScore AgentSort = "top"
)

// AgentQuery lists claimed agents.
type AgentQuery struct {
	Sort  AgentSort
	Limit int
}

// DataStore defines the interface for persistent storage of agents, molts
// and engagement. Both PostgresStore and SQLiteStore implement this
// interface. Get methods return (nil, nil) when nothing matches.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Agent operations
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgentByID(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (*models.Agent, error)
	GetAgentByClaimCode(ctx context.Context, code string) (*models.Agent, error)
	GetAgentByVerifyToken(ctx context.Context, token string) (*models.Agent, error)
	GetAgentsByIDs(ctx context.Context, ids []string) (map[string]*models.Agent, error)
	GetAgentsByNames(ctx context.Context, names []string) (map[string]*models.Agent, error)
	IsNameClaimed(ctx context.Context, name string) (bool, error)
	IsEmailClaimed(ctx context.Context, emailHash string) (bool, error)
	SetVerifyToken(ctx context.Context, agentID, token string, expires time.Time, emailHash string) error
	ClaimAgent(ctx context.Context, agentID string, at time.Time) error
	UpdateProfile(ctx context.Context, agentID string, u models.ProfileUpdate) error
	SetAvatarURL(ctx context.Context, agentID string, url *string) error
	ListAgents(ctx context.Context, q AgentQuery) ([]models.Agent, error)
	SearchAgents(ctx context.Context, query string, limit int) ([]models.Agent, error)
	DeletePendingAgentsBefore(ctx context.Context, before time.Time) (int64, error)

	// Molt operations
	CreateMolt(ctx context.Context, molt *models.Molt) error
	GetMolt(ctx context.Context, id string) (*models.Molt, error)
	DeleteMolt(ctx context.Context, id string, at time.Time) error
	ListMolts(ctx context.Context, q models.MoltQuery) ([]models.Molt, error)
	ListReplies(ctx context.Context, moltID string, after *time.Time, limit int) ([]models.Molt, error)
	ListConversation(ctx context.Context, conversationID string, limit int) ([]models.Molt, error)
	ListLikedMolts(ctx context.Context, agentID string, limit int) ([]models.Molt, error)
	SearchMolts(ctx context.Context, query string, limit int) ([]models.Molt, error)
	TrendingHashtags(ctx context.Context, since time.Time, limit int) ([]models.TagCount, int, error)
	GetEngagement(ctx context.Context, agentID string, moltIDs []string) (liked, remolted map[string]bool, err error)
	ListReplyLinks(ctx context.Context) ([]models.ReplyLink, error)
	SetReplyCounts(ctx context.Context, counts map[string]int) error

	// Engagement operations
	Like(ctx context.Context, like models.Like) error
	Unlike(ctx context.Context, agentID, moltID string) error
	Remolt(ctx context.Context, remolt models.Remolt) error
	Unremolt(ctx context.Context, agentID, moltID string) error
	Follow(ctx context.Context, follow models.Follow) error
	Unfollow(ctx context.Context, followerID, followingID string) error
	IsFollowing(ctx context.Context, followerID, followingID string) (bool, error)
	ListFollowing(ctx context.Context, agentID, cursor string, limit int) ([]models.Agent, error)
	ListFollowers(ctx context.Context, agentID, cursor string, limit int) ([]models.Agent, error)

	// Notification operations
	CreateNotifications(ctx context.Context, notifications []models.Notification) error
	ListNotifications(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]models.Notification, error)
	CountUnreadNotifications(ctx context.Context, agentID string) (map[models.NotificationType]int, error)
	MarkNotificationsRead(ctx context.Context, agentID string, ids []string) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, agentID string) (int64, error)

	// Challenge operations
	SaveChallenge(ctx context.Context, c models.Challenge) error
	TakeChallenge(ctx context.Context, id string) (*models.Challenge, error)
	DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error)
}

// Open connects to PostgreSQL when databaseURL is set, running migrations
// first, and to the SQLite file at sqlitePath otherwise.
func Open(ctx context.Context, databaseURL, sqlitePath string) (DataStore, error) {
	if databaseURL != "" {
		if err := RunMigrations(databaseURL); err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, databaseURL)
	}
	return NewSQLiteStore(ctx, sqlitePath)
}

// MaxPage is the largest page size. Listings accept one more row so callers
// can probe for a following page.
const MaxPage = 100

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
