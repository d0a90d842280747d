package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moltter-net/moltter/internal/models"
)

// Like records a like and bumps the like counters of the molt and its author.
func (s *SQLiteStore) Like(ctx context.Context, l models.Like) error {
	return s.tx(ctx, "like", func(tx *sql.Tx) error {
		if err := insertEngagement(ctx, tx, "likes", l.ID, l.AgentID, l.MoltID, l.CreatedAt); err != nil {
			return err
		}
		return bumpSQLiteMoltCounter(ctx, tx, "like_count", l.MoltID, 1, true)
	})
}

// Unlike removes a like and reverses its counters.
func (s *SQLiteStore) Unlike(ctx context.Context, agentID, moltID string) error {
	return s.tx(ctx, "unlike", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM likes WHERE id = ?1`, models.EngagementID(agentID, moltID))
		if err := affectedOrNotFound(res, err); err != nil {
			return err
		}
		return bumpSQLiteMoltCounter(ctx, tx, "like_count", moltID, -1, true)
	})
}

// Remolt records a remolt and bumps the molt's remolt count.
func (s *SQLiteStore) Remolt(ctx context.Context, r models.Remolt) error {
	return s.tx(ctx, "remolt", func(tx *sql.Tx) error {
		if err := insertEngagement(ctx, tx, "remolts", r.ID, r.AgentID, r.MoltID, r.CreatedAt); err != nil {
			return err
		}
		return bumpSQLiteMoltCounter(ctx, tx, "remolt_count", r.MoltID, 1, false)
	})
}

// Unremolt removes a remolt and reverses its counter.
func (s *SQLiteStore) Unremolt(ctx context.Context, agentID, moltID string) error {
	return s.tx(ctx, "unremolt", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM remolts WHERE id = ?1`, models.EngagementID(agentID, moltID))
		if err := affectedOrNotFound(res, err); err != nil {
			return err
		}
		return bumpSQLiteMoltCounter(ctx, tx, "remolt_count", moltID, -1, false)
	})
}

func insertEngagement(ctx context.Context, tx *sql.Tx, table, id, agentID, moltID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO `+table+` (id, agent_id, molt_id, created_at) VALUES (?1, ?2, ?3, ?4)
		ON CONFLICT (id) DO NOTHING
	`, id, agentID, moltID, formatTime(at))
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func bumpSQLiteMoltCounter(ctx context.Context, tx *sql.Tx, column, moltID string, delta int, author bool) error {
	var agentID string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE molts SET %[1]s = MAX(%[1]s + ?2, 0) WHERE id = ?1 RETURNING agent_id
	`, column), moltID, delta).Scan(&agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update molt: %w", err)
	}
	if !author {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET like_count = MAX(like_count + ?2, 0) WHERE id = ?1
	`, agentID, delta); err != nil {
		return fmt.Errorf("update author: %w", err)
	}
	return nil
}

// Follow records a follow and bumps both agents' counters.
func (s *SQLiteStore) Follow(ctx context.Context, f models.Follow) error {
	return s.tx(ctx, "follow", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO follows (id, follower_id, following_id, created_at) VALUES (?1, ?2, ?3, ?4)
			ON CONFLICT (id) DO NOTHING
		`, f.ID, f.FollowerID, f.FollowingID, formatTime(f.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert follow: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrAlreadyExists
		}
		return bumpSQLiteFollowCounters(ctx, tx, f.FollowerID, f.FollowingID, 1)
	})
}

// Unfollow removes a follow and reverses its counters.
func (s *SQLiteStore) Unfollow(ctx context.Context, followerID, followingID string) error {
	return s.tx(ctx, "unfollow", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM follows WHERE id = ?1`, models.EngagementID(followerID, followingID))
		if err := affectedOrNotFound(res, err); err != nil {
			return err
		}
		return bumpSQLiteFollowCounters(ctx, tx, followerID, followingID, -1)
	})
}

func bumpSQLiteFollowCounters(ctx context.Context, tx *sql.Tx, followerID, followingID string, delta int) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET following_count = MAX(following_count + ?2, 0) WHERE id = ?1
	`, followerID, delta); err != nil {
		return fmt.Errorf("update follower: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET follower_count = MAX(follower_count + ?2, 0) WHERE id = ?1
	`, followingID, delta); err != nil {
		return fmt.Errorf("update followed: %w", err)
	}
	return nil
}

// IsFollowing reports whether followerID follows followingID.
func (s *SQLiteStore) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM follows WHERE id = ?1)`,
		models.EngagementID(followerID, followingID)).Scan(&exists)
	return exists, err
}

// ListFollowing lists the agents agentID follows, newest follow first.
// cursor is the id of the last agent of the previous page.
func (s *SQLiteStore) ListFollowing(ctx context.Context, agentID, cursor string, limit int) ([]models.Agent, error) {
	return s.listFollowEdges(ctx, "follower_id", "following_id", agentID, cursor, limit)
}

// ListFollowers lists the agents following agentID, newest follow first.
func (s *SQLiteStore) ListFollowers(ctx context.Context, agentID, cursor string, limit int) ([]models.Agent, error) {
	return s.listFollowEdges(ctx, "following_id", "follower_id", agentID, cursor, limit)
}

func (s *SQLiteStore) listFollowEdges(ctx context.Context, self, other, agentID, cursor string, limit int) ([]models.Agent, error) {
	limit = clampLimit(limit, 20, MaxPage+1)
	base := "SELECT " + prefixed(agentColumns, "a") + ` FROM follows f
		JOIN agents a ON a.id = f.` + other + `
		WHERE f.` + self + ` = ?1`

	if cursor != "" {
		var at string
		err := s.db.QueryRowContext(ctx, `SELECT created_at FROM follows WHERE `+self+` = ?1 AND `+other+` = ?2`,
			agentID, cursor).Scan(&at)
		switch {
		case err == nil:
			return s.queryAgents(ctx, base+`
				AND (f.created_at, f.`+other+`) < (?2, ?3)
				ORDER BY f.created_at DESC, f.`+other+` DESC LIMIT ?4`, agentID, at, cursor, limit)
		case !errors.Is(err, sql.ErrNoRows):
			return nil, err
		}
	}
	return s.queryAgents(ctx, base+`
		ORDER BY f.created_at DESC, f.`+other+` DESC LIMIT ?2`, agentID, limit)
}

// CreateNotifications inserts notifications in one transaction.
func (s *SQLiteStore) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return s.tx(ctx, "create_notifications", func(tx *sql.Tx) error {
		for _, n := range notifications {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO notifications (id, agent_id, type, from_agent_id, from_agent_name, molt_id, read, created_at)
				VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)
			`, n.ID, n.AgentID, string(n.Type), n.FromAgentID, n.FromAgentName, n.MoltID, n.Read, formatTime(n.CreatedAt)); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
		}
		return nil
	})
}

// ListNotifications lists an agent's notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `SELECT id, agent_id, type, from_agent_id, from_agent_name, molt_id, read, created_at
		FROM notifications WHERE agent_id = ?1`
	if unreadOnly {
		query += " AND read = 0"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?2"

	rows, err := s.db.QueryContext(ctx, query, agentID, clampLimit(limit, 20, 50))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var kind, createdAt string
		if err := rows.Scan(&n.ID, &n.AgentID, &kind, &n.FromAgentID, &n.FromAgentName, &n.MoltID, &n.Read, &createdAt); err != nil {
			return nil, err
		}
		n.Type = models.NotificationType(kind)
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountUnreadNotifications counts unread notifications per type.
func (s *SQLiteStore) CountUnreadNotifications(ctx context.Context, agentID string) (map[models.NotificationType]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM notifications WHERE agent_id = ?1 AND read = 0 GROUP BY type
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.NotificationType]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[models.NotificationType(kind)] = n
	}
	return counts, rows.Err()
}

// MarkNotificationsRead marks the given notifications of an agent as read.
func (s *SQLiteStore) MarkNotificationsRead(ctx context.Context, agentID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{agentID}, stringArgs(ids)...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE agent_id = ?1 AND read = 0 AND id IN (`+inList(2, len(ids))+`)
	`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkAllNotificationsRead marks every notification of an agent as read.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, agentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE agent_id = ?1 AND read = 0
	`, agentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveChallenge stores a pending challenge.
func (s *SQLiteStore) SaveChallenge(ctx context.Context, c models.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, type, answer_hash, expires_at) VALUES (?1, ?2, ?3, ?4)
	`, c.ID, c.Type, c.AnswerHash, formatTime(c.ExpiresAt))
	return err
}

// TakeChallenge removes and returns a challenge so it can be answered once.
func (s *SQLiteStore) TakeChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	c := &models.Challenge{}
	var expiresAt string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM challenges WHERE id = ?1 RETURNING id, type, answer_hash, expires_at
	`, id).Scan(&c.ID, &c.Type, &c.AnswerHash, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if c.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteExpiredChallenges removes challenges that expired before a time.
func (s *SQLiteStore) DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < ?1`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
