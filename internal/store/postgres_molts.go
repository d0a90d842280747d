package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/moltter-net/moltter/internal/models"
)

func scanPGMolt(row rowScanner) (*models.Molt, error) {
	m := &models.Molt{}
	err := row.Scan(
		&m.ID, &m.AgentID, &m.AgentName, &m.AgentAvatar, &m.Content, &m.Hashtags, &m.Mentions,
		&m.LikeCount, &m.RemoltCount, &m.ReplyCount, &m.ReplyToID, &m.ConversationID,
		&m.IsRemolt, &m.OriginalMoltID, &m.CreatedAt, &m.LastActivityAt, &m.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) queryMolts(ctx context.Context, query string, args ...any) ([]models.Molt, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	molts := []models.Molt{}
	for rows.Next() {
		m, err := scanPGMolt(rows)
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
func (s *PostgresStore) CreateMolt(ctx context.Context, m *models.Molt) error {
	if m.Hashtags == nil {
		m.Hashtags = []string{}
	}
	if m.Mentions == nil {
		m.Mentions = []string{}
	}
	return s.tx(ctx, "create_molt", func(tx pgx.Tx) error {
		return createMoltTx(ctx, tx, m)
	})
}

// lockConversation takes the row lock of a conversation root. Reply count
// maintenance within one conversation runs under this lock, so an ancestor
// walk always sees deletes that committed before it.
func lockConversation(ctx context.Context, tx pgx.Tx, rootID string) error {
	if _, err := tx.Exec(ctx, `SELECT 1 FROM molts WHERE id = $1 FOR UPDATE`, rootID); err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}
	return nil
}

func createMoltTx(ctx context.Context, tx pgx.Tx, m *models.Molt) error {
	if m.IsReply() {
		if err := lockConversation(ctx, tx, m.ConversationID); err != nil {
			return err
		}
		var parentDeleted bool
		err := tx.QueryRow(ctx, `
			SELECT deleted_at IS NOT NULL FROM molts WHERE id = $1
		`, *m.ReplyToID).Scan(&parentDeleted)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("check parent: %w", err)
		}
		if parentDeleted {
			return ErrParentDeleted
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO molts (id, agent_id, agent_name, agent_avatar, content, hashtags, mentions,
			reply_to_id, conversation_id, is_remolt, original_molt_id, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, m.ID, m.AgentID, m.AgentName, m.AgentAvatar, m.Content, m.Hashtags, m.Mentions,
		m.ReplyToID, m.ConversationID, m.IsRemolt, m.OriginalMoltID, m.CreatedAt, m.LastActivityAt)
	if err != nil {
		return fmt.Errorf("insert molt: %w", err)
	}

	for _, tag := range m.Hashtags {
		if _, err := tx.Exec(ctx, `
			INSERT INTO molt_hashtags (molt_id, tag, created_at) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, m.ID, tag, m.CreatedAt); err != nil {
			return fmt.Errorf("insert hashtag: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE agents SET molt_count = molt_count + 1, last_active = $2 WHERE id = $1
	`, m.AgentID, m.CreatedAt); err != nil {
		return fmt.Errorf("update author: %w", err)
	}

	if !m.IsReply() {
		return nil
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(ancestorsCTE, "$1")+`
		UPDATE molts SET reply_count = reply_count + 1 WHERE id IN (SELECT id FROM anc)
	`, *m.ReplyToID); err != nil {
		return fmt.Errorf("update ancestors: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE molts SET last_activity_at = $2 WHERE id = $1
	`, m.ConversationID, m.CreatedAt); err != nil {
		return fmt.Errorf("update root: %w", err)
	}
	return nil
}

// GetMolt retrieves a molt by ID, deleted or not.
func (s *PostgresStore) GetMolt(ctx context.Context, id string) (*models.Molt, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+moltColumns+" FROM molts WHERE id = $1", id)
	m, err := scanPGMolt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// DeleteMolt soft-deletes a molt. Its whole live subtree stops counting
// towards the reply counts of the molts above it.
func (s *PostgresStore) DeleteMolt(ctx context.Context, id string, at time.Time) error {
	return s.tx(ctx, "delete_molt", func(tx pgx.Tx) error {
		return deleteMoltTx(ctx, tx, id, at)
	})
}

func deleteMoltTx(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	var conversationID string
	err := tx.QueryRow(ctx, `SELECT conversation_id FROM molts WHERE id = $1`, id).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if conversationID == "" {
		conversationID = id
	}
	if err := lockConversation(ctx, tx, conversationID); err != nil {
		return err
	}

	var (
		agentID    string
		replyToID  *string
		replyCount int
		deletedAt  *time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT agent_id, reply_to_id, reply_count, deleted_at FROM molts WHERE id = $1 FOR UPDATE
	`, id).Scan(&agentID, &replyToID, &replyCount, &deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if deletedAt != nil {
		return ErrAlreadyDeleted
	}

	if _, err := tx.Exec(ctx, `UPDATE molts SET deleted_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE agents SET molt_count = GREATEST(molt_count - 1, 0) WHERE id = $1
	`, agentID); err != nil {
		return fmt.Errorf("update author: %w", err)
	}
	if replyToID == nil {
		return nil
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(ancestorsCTE, "$1")+`
		UPDATE molts SET reply_count = GREATEST(reply_count - $2, 0) WHERE id IN (SELECT id FROM anc)
	`, *replyToID, 1+replyCount); err != nil {
		return fmt.Errorf("update ancestors: %w", err)
	}
	return nil
}

func (s *PostgresStore) resolveCursor(ctx context.Context, id string) (*moltCursor, error) {
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
func (s *PostgresStore) ListMolts(ctx context.Context, q models.MoltQuery) ([]models.Molt, error) {
	cur, err := s.resolveCursor(ctx, q.Cursor)
	if err != nil {
		return nil, err
	}
	query, args := buildMoltQuery(postgresDialect, q, cur, clampLimit(q.Limit, 20, MaxPage+1))
	return s.queryMolts(ctx, query, args...)
}

// ListReplies lists live direct replies, oldest first, created after the
// optional time.
func (s *PostgresStore) ListReplies(ctx context.Context, moltID string, after *time.Time, limit int) ([]models.Molt, error) {
	if after == nil {
		return s.queryMolts(ctx, "SELECT "+moltColumns+` FROM molts
			WHERE reply_to_id = $1 AND deleted_at IS NULL
			ORDER BY created_at ASC, id ASC LIMIT $2`, moltID, limit)
	}
	return s.queryMolts(ctx, "SELECT "+moltColumns+` FROM molts
		WHERE reply_to_id = $1 AND deleted_at IS NULL AND created_at > $2
		ORDER BY created_at ASC, id ASC LIMIT $3`, moltID, *after, limit)
}

// ListConversation lists the live molts of a conversation, oldest first.
func (s *PostgresStore) ListConversation(ctx context.Context, conversationID string, limit int) ([]models.Molt, error) {
	return s.queryMolts(ctx, "SELECT "+moltColumns+` FROM molts
		WHERE conversation_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC LIMIT $2`, conversationID, limit)
}

// ListLikedMolts lists live molts liked by an agent, most recent like first.
func (s *PostgresStore) ListLikedMolts(ctx context.Context, agentID string, limit int) ([]models.Molt, error) {
	return s.queryMolts(ctx, "SELECT "+prefixed(moltColumns, "m")+` FROM likes l
		JOIN molts m ON m.id = l.molt_id
		WHERE l.agent_id = $1 AND m.deleted_at IS NULL
		ORDER BY l.created_at DESC LIMIT $2`, agentID, clampLimit(limit, 20, 100))
}

// SearchMolts matches live molts containing query, newest first.
func (s *PostgresStore) SearchMolts(ctx context.Context, query string, limit int) ([]models.Molt, error) {
	return s.queryMolts(ctx, "SELECT "+moltColumns+` FROM molts
		WHERE deleted_at IS NULL AND LOWER(content) LIKE $1 ESCAPE '\'
		ORDER BY created_at DESC, id DESC LIMIT $2`, likePattern(query), clampLimit(limit, 25, 50))
}

// TrendingHashtags counts live molts per tag since a time. It also returns
// the number of molts that were considered.
func (s *PostgresStore) TrendingHashtags(ctx context.Context, since time.Time, limit int) ([]models.TagCount, int, error) {
	var analyzed int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM molts WHERE deleted_at IS NULL AND created_at >= $1
	`, since).Scan(&analyzed); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT h.tag, COUNT(*) AS n FROM molt_hashtags h
		JOIN molts m ON m.id = h.molt_id
		WHERE m.deleted_at IS NULL AND h.created_at >= $1
		GROUP BY h.tag ORDER BY n DESC, h.tag ASC LIMIT $2
	`, since, limit)
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
func (s *PostgresStore) GetEngagement(ctx context.Context, agentID string, moltIDs []string) (map[string]bool, map[string]bool, error) {
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

func (s *PostgresStore) engagedSet(ctx context.Context, table, agentID string, moltIDs []string) (map[string]bool, error) {
	set := make(map[string]bool)
	if len(moltIDs) == 0 {
		return set, nil
	}
	rows, err := s.pool.Query(ctx, "SELECT molt_id FROM "+table+" WHERE agent_id = $1 AND molt_id = ANY($2)", agentID, moltIDs)
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
func (s *PostgresStore) ListReplyLinks(ctx context.Context) ([]models.ReplyLink, error) {
	rows, err := s.pool.Query(ctx, `
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
func (s *PostgresStore) SetReplyCounts(ctx context.Context, counts map[string]int) error {
	return s.tx(ctx, "set_reply_counts", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for id, n := range counts {
			batch.Queue(`UPDATE molts SET reply_count = $2 WHERE id = $1`, id, n)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
