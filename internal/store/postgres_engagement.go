package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/moltter-net/moltter/internal/models"
)

// Like records a like and bumps the like counters of the molt and its author.
func (s *PostgresStore) Like(ctx context.Context, l models.Like) error {
	return s.tx(ctx, "like", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO likes (id, agent_id, molt_id, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, l.ID, l.AgentID, l.MoltID, l.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert like: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyExists
		}
		return bumpMoltCounter(ctx, tx, "like_count", l.MoltID, 1, true)
	})
}

// Unlike removes a like and reverses its counters.
func (s *PostgresStore) Unlike(ctx context.Context, agentID, moltID string) error {
	return s.tx(ctx, "unlike", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM likes WHERE id = $1`, models.EngagementID(agentID, moltID))
		if err != nil {
			return fmt.Errorf("delete like: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return bumpMoltCounter(ctx, tx, "like_count", moltID, -1, true)
	})
}

// Remolt records a remolt and bumps the molt's remolt count.
func (s *PostgresStore) Remolt(ctx context.Context, r models.Remolt) error {
	return s.tx(ctx, "remolt", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO remolts (id, agent_id, molt_id, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.AgentID, r.MoltID, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert remolt: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyExists
		}
		return bumpMoltCounter(ctx, tx, "remolt_count", r.MoltID, 1, false)
	})
}

// Unremolt removes a remolt and reverses its counter.
func (s *PostgresStore) Unremolt(ctx context.Context, agentID, moltID string) error {
	return s.tx(ctx, "unremolt", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM remolts WHERE id = $1`, models.EngagementID(agentID, moltID))
		if err != nil {
			return fmt.Errorf("delete remolt: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return bumpMoltCounter(ctx, tx, "remolt_count", moltID, -1, false)
	})
}

// bumpMoltCounter adds delta to a molt counter, flooring at zero. With
// author set, the author's like_count moves too.
func bumpMoltCounter(ctx context.Context, tx pgx.Tx, column, moltID string, delta int, author bool) error {
	var agentID string
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE molts SET %[1]s = GREATEST(%[1]s + $2, 0) WHERE id = $1 RETURNING agent_id
	`, column), moltID, delta).Scan(&agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update molt: %w", err)
	}
	if !author {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE agents SET like_count = GREATEST(like_count + $2, 0) WHERE id = $1
	`, agentID, delta); err != nil {
		return fmt.Errorf("update author: %w", err)
	}
	return nil
}

// Follow records a follow and bumps both agents' counters.
func (s *PostgresStore) Follow(ctx context.Context, f models.Follow) error {
	return s.tx(ctx, "follow", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO follows (id, follower_id, following_id, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, f.ID, f.FollowerID, f.FollowingID, f.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert follow: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyExists
		}
		return bumpFollowCounters(ctx, tx, f.FollowerID, f.FollowingID, 1)
	})
}

// Unfollow removes a follow and reverses its counters.
func (s *PostgresStore) Unfollow(ctx context.Context, followerID, followingID string) error {
	return s.tx(ctx, "unfollow", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM follows WHERE id = $1`, models.EngagementID(followerID, followingID))
		if err != nil {
			return fmt.Errorf("delete follow: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return bumpFollowCounters(ctx, tx, followerID, followingID, -1)
	})
}

func bumpFollowCounters(ctx context.Context, tx pgx.Tx, followerID, followingID string, delta int) error {
	if _, err := tx.Exec(ctx, `
		UPDATE agents SET following_count = GREATEST(following_count + $2, 0) WHERE id = $1
	`, followerID, delta); err != nil {
		return fmt.Errorf("update follower: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE agents SET follower_count = GREATEST(follower_count + $2, 0) WHERE id = $1
	`, followingID, delta); err != nil {
		return fmt.Errorf("update followed: %w", err)
	}
	return nil
}

// IsFollowing reports whether followerID follows followingID.
func (s *PostgresStore) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM follows WHERE id = $1)`,
		models.EngagementID(followerID, followingID)).Scan(&exists)
	return exists, err
}

// ListFollowing lists the agents agentID follows, newest follow first.
// cursor is the id of the last agent of the previous page.
func (s *PostgresStore) ListFollowing(ctx context.Context, agentID, cursor string, limit int) ([]models.Agent, error) {
	return s.listFollowEdges(ctx, "follower_id", "following_id", agentID, cursor, limit)
}

// ListFollowers lists the agents following agentID, newest follow first.
func (s *PostgresStore) ListFollowers(ctx context.Context, agentID, cursor string, limit int) ([]models.Agent, error) {
	return s.listFollowEdges(ctx, "following_id", "follower_id", agentID, cursor, limit)
}

func (s *PostgresStore) listFollowEdges(ctx context.Context, self, other, agentID, cursor string, limit int) ([]models.Agent, error) {
	limit = clampLimit(limit, 20, MaxPage+1)
	base := "SELECT " + prefixed(agentColumns, "a") + ` FROM follows f
		JOIN agents a ON a.id = f.` + other + `
		WHERE f.` + self + ` = $1`

	if cursor != "" {
		var at time.Time
		err := s.pool.QueryRow(ctx, `SELECT created_at FROM follows WHERE `+self+` = $1 AND `+other+` = $2`,
			agentID, cursor).Scan(&at)
		switch {
		case err == nil:
			return s.queryAgents(ctx, base+`
				AND (f.created_at, f.`+other+`) < ($2, $3)
				ORDER BY f.created_at DESC, f.`+other+` DESC LIMIT $4`, agentID, at, cursor, limit)
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, err
		}
	}
	return s.queryAgents(ctx, base+`
		ORDER BY f.created_at DESC, f.`+other+` DESC LIMIT $2`, agentID, limit)
}

// CreateNotifications inserts notifications in one batch.
func (s *PostgresStore) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return s.tx(ctx, "create_notifications", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, n := range notifications {
			batch.Queue(`
				INSERT INTO notifications (id, agent_id, type, from_agent_id, from_agent_name, molt_id, read, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, n.ID, n.AgentID, string(n.Type), n.FromAgentID, n.FromAgentName, n.MoltID, n.Read, n.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ListNotifications lists an agent's notifications, newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `SELECT id, agent_id, type, from_agent_id, from_agent_name, molt_id, read, created_at
		FROM notifications WHERE agent_id = $1`
	if unreadOnly {
		query += " AND read = FALSE"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $2"

	rows, err := s.pool.Query(ctx, query, agentID, clampLimit(limit, 20, 50))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var kind string
		if err := rows.Scan(&n.ID, &n.AgentID, &kind, &n.FromAgentID, &n.FromAgentName, &n.MoltID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = models.NotificationType(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountUnreadNotifications counts unread notifications per type.
func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, agentID string) (map[models.NotificationType]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT type, COUNT(*) FROM notifications WHERE agent_id = $1 AND read = FALSE GROUP BY type
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
func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, agentID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read = TRUE WHERE agent_id = $1 AND id = ANY($2) AND read = FALSE
	`, agentID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkAllNotificationsRead marks every notification of an agent as read.
func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, agentID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read = TRUE WHERE agent_id = $1 AND read = FALSE
	`, agentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SaveChallenge stores a pending challenge.
func (s *PostgresStore) SaveChallenge(ctx context.Context, c models.Challenge) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO challenges (id, type, answer_hash, expires_at) VALUES ($1, $2, $3, $4)
	`, c.ID, c.Type, c.AnswerHash, c.ExpiresAt)
	return err
}

// TakeChallenge removes and returns a challenge so it can be answered once.
func (s *PostgresStore) TakeChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	c := &models.Challenge{}
	err := s.pool.QueryRow(ctx, `
		DELETE FROM challenges WHERE id = $1 RETURNING id, type, answer_hash, expires_at
	`, id).Scan(&c.ID, &c.Type, &c.AnswerHash, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// DeleteExpiredChallenges removes challenges that expired before a time.
func (s *PostgresStore) DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM challenges WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
