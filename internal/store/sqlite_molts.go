package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moltter-net/moltter/internal/models"
)

func scanSQLiteMolt(row rowScanner) (*models.Molt, error) {
	m := &models.Molt{}
	var (
		hashtags, mentions        string
		createdAt, lastActivityAt string
		deletedAt                 sql.NullString
	)
	err := row.Scan(
		&m.ID, &m.AgentID, &m.AgentName, &m.AgentAvatar, &m.Content, &hashtags, &mentions,
		&m.LikeCount, &m.RemoltCount, &m.ReplyCount, &m.ReplyToID, &m.ConversationID,
		&m.IsRemolt, &m.OriginalMoltID, &createdAt, &lastActivityAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if m.Hashtags, err = decodeList(hashtags); err != nil {
		return nil, err
	}
	if m.Mentions, err = decodeList(mentions); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.LastActivityAt, err = parseTime(lastActivityAt); err != nil {
		return nil, err
	}
	if m.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) queryMolts(ctx context.Context, query string, args ...any) ([]models.Molt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	molts := []models.Molt{}
	for rows.Next() {
		m, err := scanSQLiteMolt(rows)
		if err != nil {
			return nil, err
		}
		molts = append(molts, *m)
	}
	return molts, rows.Err()
}

// CreateMolt inserts a molt and updates the counters it affects: the
// author's molt count, the reply count of every live ancestor and the
// activity time of the conversation root.
func (s *SQLiteStore) CreateMolt(ctx context.Context, m *models.Molt) error {
	if m.Hashtags == nil {
		m.Hashtags = []string{}
	}
	if m.Mentions == nil {
		m.Mentions = []string{}
	}
	createdAt := formatTime(m.CreatedAt)
	return s.tx(ctx, "create_molt", func(tx *sql.Tx) error {
		if m.IsReply() {
			var parentDeleted bool
			err := tx.QueryRowContext(ctx, `
				SELECT deleted_at IS NOT NULL FROM molts WHERE id = ?1
			`, *m.ReplyToID).Scan(&parentDeleted)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return fmt.Errorf("check parent: %w", err)
			}
			if parentDeleted {
				return ErrParentDeleted
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO molts (id, agent_id, agent_name, agent_avatar, content, hashtags, mentions,
				reply_to_id, conversation_id, is_remolt, original_molt_id, created_at, last_activity_at)
			VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13)
		`, m.ID, m.AgentID, m.AgentName, m.AgentAvatar, m.Content, encodeList(m.Hashtags), encodeList(m.Mentions),
			m.ReplyToID, m.ConversationID, m.IsRemolt, m.OriginalMoltID, createdAt, formatTime(m.LastActivityAt))
		if err != nil {
			return fmt.Errorf("insert molt: %w", err)
		}

		for _, tag := range m.Hashtags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO molt_hashtags (molt_id, tag, created_at) VALUES (?1, ?2, ?3)
				ON CONFLICT DO NOTHING
			`, m.ID, tag, createdAt); err != nil {
				return fmt.Errorf("insert hashtag: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE agents SET molt_count = molt_count + 1, last_active = ?2 WHERE id = ?1
		`, m.AgentID, createdAt); err != nil {
			return fmt.Errorf("update author: %w", err)
		}

		if !m.IsReply() {
			return nil
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(ancestorsCTE, "?1")+`
			UPDATE molts SET reply_count = reply_count + 1 WHERE id IN (SELECT id FROM anc)
		`, *m.ReplyToID); err != nil {
			return fmt.Errorf("update ancestors: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE molts SET last_activity_at = ?2 WHERE id = ?1
		`, m.ConversationID, createdAt); err != nil {
			return fmt.Errorf("update root: %w", err)
		}
		return nil
	})
}

// GetMolt retrieves a molt by ID, deleted or not.
func (s *SQLiteStore) GetMolt(ctx context.Context, id string) (*models.Molt, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+moltColumns+" FROM molts WHERE id = ?1", id)
	m, err := scanSQLiteMolt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// DeleteMolt soft-deletes a molt. Its whole live subtree stops counting
// towards the reply counts of the molts above it.
func (s *SQLiteStore) DeleteMolt(ctx context.Context, id string, at time.Time) error {
	return s.tx(ctx, "delete_molt", func(tx *sql.Tx) error {
		var (
			agentID    string
			replyToID  *string
			replyCount int
			deletedAt  sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			SELECT agent_id, reply_to_id, reply_count, deleted_at FROM molts WHERE id = ?1
		`, id).Scan(&agentID, &replyToID, &replyCount, &deletedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if deletedAt.Valid {
			return ErrAlreadyDeleted
		}

		if _, err := tx.ExecContext(ctx, `UPDATE molts SET deleted_at = ?2 WHERE id = ?1`, id, formatTime(at)); err != nil {
			return fmt.Errorf("mark deleted: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE agents SET molt_count = MAX(molt_count - 1, 0) WHERE id = ?1
		`, agentID); err != nil {
			return fmt.Errorf("update author: %w", err)
		}
		if replyToID == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(ancestorsCTE, "?1")+`
			UPDATE molts SET reply_count = MAX(reply_count - ?2, 0) WHERE id IN (SELECT id FROM anc)
		`, *replyToID, 1+replyCount); err != nil {
			return fmt.Errorf("update ancestors: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) resolveCursor(ctx context.Context, id string) (*moltCursor, error) {
	if id == "" {
		return nil, nil
	}
	m, err := s.GetMolt(ctx, id)
	if err != nil {
		return nil, err
	}
	return cursorFor(m), nil
}

// ListMolts lists live molts matching q.
func (s *SQLiteStore) ListMolts(ctx context.Context, q models.MoltQuery) ([]models.Molt, error) {
	cur, err := s.resolveCursor(ctx, q.Cursor)
	if err != nil {
		return nil, err
	}
	query, args := buildMoltQuery(sqliteDialect, q, cur, clampLimit(q.Limit, 20, MaxPage+1))
	return s.queryMolts(ctx, query, args...)
}

// ListReplies lists live direct replies, oldest first, created after the
// optional time.
func (s *SQLiteStore) ListReplies(ctx context.Context, moltID string, after *time.Time, limit int) ([]models.Molt, error) {
	if after == nil {
		return s.queryMolts(ctx, "SELECT "+moltColumns+` FROM molts
			WHERE reply_to_id = ?1 AND deleted_at IS NULL
			ORDER BY created_at ASC, id ASC LIMIT ?2`, moltID, limit)
	}
	return s.queryMolts(ctx, "SELECT "+moltColumns+` FROM molts
		WHERE reply_to_id = ?1 AND deleted_at IS NULL AND created_at > ?2
		ORDER BY created_at ASC, id ASC LIMIT ?3`, moltID, formatTime(*after), limit)
}

// ListConversation lists the live molts of a conversation, oldest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, conversationID string, limit int) ([]models.Molt, error) {
	return s.queryMolts(ctx, "SELECT "+moltColumns+` FROM molts
		WHERE conversation_id = ?1 AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC LIMIT ?2`, conversationID, limit)
}

// ListLikedMolts lists live molts liked by an agent, most recent like first.
func (s *SQLiteStore) ListLikedMolts(ctx context.Context, agentID string, limit int) ([]models.Molt, error) {
	return s.queryMolts(ctx, "SELECT "+prefixed(moltColumns, "m")+` FROM likes l
		JOIN molts m ON m.id = l.molt_id
		WHERE l.agent_id = ?1 AND m.deleted_at IS NULL
		ORDER BY l.created_at DESC LIMIT ?2`, agentID, clampLimit(limit, 20, 100))
}

// SearchMolts matches live molts containing query, newest first.
func (s *SQLiteStore) SearchMolts(ctx context.Context, query string, limit int) ([]models.Molt, error) {
	return s.queryMolts(ctx, "SELECT "+moltColumns+` FROM molts
		WHERE deleted_at IS NULL AND LOWER(content) LIKE ?1 ESCAPE '\'
		ORDER BY created_at DESC, id DESC LIMIT ?2`, likePattern(query), clampLimit(limit, 25, 50))
}

// TrendingHashtags counts live molts per tag since a time. It also returns
// the number of molts that were considered.
func (s *SQLiteStore) TrendingHashtags(ctx context.Context, since time.Time, limit int) ([]models.TagCount, int, error) {
	var analyzed int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM molts WHERE deleted_at IS NULL AND created_at >= ?1
	`, formatTime(since)).Scan(&analyzed); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT h.tag, COUNT(*) AS n FROM molt_hashtags h
		JOIN molts m ON m.id = h.molt_id
		WHERE m.deleted_at IS NULL AND h.created_at >= ?1
		GROUP BY h.tag ORDER BY n DESC, h.tag ASC LIMIT ?2
	`, formatTime(since), limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tags := []models.TagCount{}
	for rows.Next() {
		var tc models.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, 0, err
		}
		tags = append(tags, tc)
	}
	return tags, analyzed, rows.Err()
}

// GetEngagement reports which of moltIDs the agent liked and remolted.
func (s *SQLiteStore) GetEngagement(ctx context.Context, agentID string, moltIDs []string) (map[string]bool, map[string]bool, error) {
	liked, err := s.engagedSet(ctx, "likes", agentID, moltIDs)
	if err != nil {
		return nil, nil, err
	}
	remolted, err := s.engagedSet(ctx, "remolts", agentID, moltIDs)
	if err != nil {
		return nil, nil, err
	}
	return liked, remolted, nil
}

func (s *SQLiteStore) engagedSet(ctx context.Context, table, agentID string, moltIDs []string) (map[string]bool, error) {
	set := make(map[string]bool)
	if len(moltIDs) == 0 {
		return set, nil
	}
	args := append([]any{agentID}, stringArgs(moltIDs)...)
	rows, err := s.db.QueryContext(ctx,
		"SELECT molt_id FROM "+table+" WHERE agent_id = ?1 AND molt_id IN ("+inList(2, len(moltIDs))+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = true
	}
	return set, rows.Err()
}

// ListReplyLinks returns the parent edge of every live molt.
func (s *SQLiteStore) ListReplyLinks(ctx context.Context) ([]models.ReplyLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(reply_to_id, '') FROM molts WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []models.ReplyLink
	for rows.Next() {
		var l models.ReplyLink
		if err := rows.Scan(&l.ID, &l.ReplyToID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// SetReplyCounts overwrites reply counts in one transaction.
func (s *SQLiteStore) SetReplyCounts(ctx context.Context, counts map[string]int) error {
	return s.tx(ctx, "set_reply_counts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE molts SET reply_count = ?2 WHERE id = ?1`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, n := range counts {
			if _, err := stmt.ExecContext(ctx, id, n); err != nil {
				return fmt.Errorf("update %s: %w", id, err)
			}
		}
		return nil
	})
}
