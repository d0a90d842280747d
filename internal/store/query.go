package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/moltter-net/moltter/internal/models"
)

const (
	agentColumns = `id, name, display_name, description, bio, avatar_url,
		link_website, link_twitter, link_github, link_custom, status,
		follower_count, following_count, molt_count, like_count,
		api_key_hash, claim_code, verify_token, verify_token_expires,
		pending_email_hash, owner_email_hash, webhook_url, webhook_secret,
		created_at, last_active, claimed_at`

	moltColumns = `id, agent_id, agent_name, agent_avatar, content, hashtags, mentions,
		like_count, remolt_count, reply_count, reply_to_id, conversation_id,
		is_remolt, original_molt_id, created_at, last_activity_at, deleted_at`

	// ancestorsCTE selects a live molt and every live molt above it. The
	// walk stops at the first deleted molt, matching how reply counts are
	// rebuilt from live reply links.
	ancestorsCTE = `WITH RECURSIVE anc(id, reply_to_id) AS (
			SELECT id, reply_to_id FROM molts WHERE id = %s AND deleted_at IS NULL
			UNION ALL
			SELECT m.id, m.reply_to_id FROM molts m JOIN anc ON m.id = anc.reply_to_id
			WHERE m.deleted_at IS NULL
		)`
)

// prefixed qualifies a column list with a table alias.
func prefixed(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// dialect abstracts the placeholder and timestamp encoding of a driver.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
}

var (
	postgresDialect = dialect{
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		timeArg:     func(t time.Time) any { return t },
	}
	sqliteDialect = dialect{
		placeholder: func(n int) string { return fmt.Sprintf("?%d", n) },
		timeArg:     func(t time.Time) any { return formatTime(t) },
	}
)

// moltCursor holds the sort keys of the molt a page continues after.
type moltCursor struct {
	ID             string
	CreatedAt      time.Time
	LastActivityAt time.Time
	LikeCount      int
}

func cursorFor(m *models.Molt) *moltCursor {
	if m == nil {
		return nil
	}
	return &moltCursor{ID: m.ID, CreatedAt: m.CreatedAt, LastActivityAt: m.LastActivityAt, LikeCount: m.LikeCount}
}

// buildMoltQuery renders a filtered, ordered and paged molt listing.
func buildMoltQuery(d dialect, q models.MoltQuery, cur *moltCursor, limit int) (string, []any) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	where := []string{"deleted_at IS NULL"}
	if q.FollowedBy != "" {
		p := arg(q.FollowedBy)
		where = append(where, fmt.Sprintf(
			"(agent_id = %s OR agent_id IN (SELECT following_id FROM follows WHERE follower_id = %s))", p, p))
	}
	if q.AuthorID != "" {
		where = append(where, "agent_id = "+arg(q.AuthorID))
	}
	if q.Hashtag != "" {
		where = append(where, "id IN (SELECT molt_id FROM molt_hashtags WHERE tag = "+arg(q.Hashtag)+")")
	}
	if q.RootsOnly {
		where = append(where, "reply_to_id IS NULL")
	}
	if q.RepliesOnly {
		where = append(where, "reply_to_id IS NOT NULL")
	}

	var order string
	switch q.Sort {
	case models.SortPopular:
		order = "like_count DESC, created_at DESC, id DESC"
		if cur != nil {
			where = append(where, fmt.Sprintf("(like_count, created_at, id) < (%s, %s, %s)",
				arg(cur.LikeCount), arg(d.timeArg(cur.CreatedAt)), arg(cur.ID)))
		}
	case models.SortActive:
		order = "last_activity_at DESC, id DESC"
		if cur != nil {
			where = append(where, fmt.Sprintf("(last_activity_at, id) < (%s, %s)",
				arg(d.timeArg(cur.LastActivityAt)), arg(cur.ID)))
		}
	default:
		order = "created_at DESC, id DESC"
		if cur != nil {
			where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)",
				arg(d.timeArg(cur.CreatedAt)), arg(cur.ID)))
		}
	}

	query := fmt.Sprintf("SELECT %s FROM molts WHERE %s ORDER BY %s LIMIT %s",
		moltColumns, strings.Join(where, " AND "), order, arg(limit))
	return query, args
}

// likePattern escapes a search term for a LIKE ... ESCAPE '\' match.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}

// agentScoreExpr ranks agents by followers × (1 + likes per molt / 10).
const agentScoreExpr = `follower_count * (1 + (CASE WHEN molt_count > 0 THEN like_count * 1.0 / molt_count ELSE 0 END) / 10.0)`

func agentOrder(sort AgentSort) string {
	switch sort {
	case AgentsByRecent:
		return "last_active DESC, id DESC"
	case AgentsByScore:
		return agentScoreExpr + " DESC, follower_count DESC, id"
	default:
		return "follower_count DESC, id"
	}
}
