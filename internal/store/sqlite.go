package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
)

// sqliteTimeFormat is fixed width so that text comparison orders correctly.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeFormat, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// inList renders n numbered placeholders starting at ?start.
func inList(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = sqliteDialect.placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and applies migrations.
// If dbPath is empty, defaults to "./data/moltter.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/moltter.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One connection serialises writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// tx runs fn in a transaction and records its latency under op.
func (s *SQLiteStore) tx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanSQLiteAgent(row rowScanner) (*models.Agent, error) {
	a := &models.Agent{}
	var (
		status                           string
		createdAt, lastActive            string
		verifyTokenExpires, claimedAtRaw sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.DisplayName, &a.Description, &a.Bio, &a.AvatarURL,
		&a.Links.Website, &a.Links.Twitter, &a.Links.GitHub, &a.Links.Custom, &status,
		&a.FollowerCount, &a.FollowingCount, &a.MoltCount, &a.LikeCount,
		&a.APIKeyHash, &a.ClaimCode, &a.VerifyToken, &verifyTokenExpires,
		&a.PendingEmailHash, &a.OwnerEmailHash, &a.WebhookURL, &a.WebhookSecret,
		&createdAt, &lastActive, &claimedAtRaw,
	)
	if err != nil {
		return nil, err
	}
	a.Status = models.AgentStatus(status)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.LastActive, err = parseTime(lastActive); err != nil {
		return nil, err
	}
	if a.VerifyTokenExpires, err = parseNullTime(verifyTokenExpires); err != nil {
		return nil, err
	}
	if a.ClaimedAt, err = parseNullTime(claimedAtRaw); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *SQLiteStore) queryAgent(ctx context.Context, where string, args ...any) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE "+where, args...)
	agent, err := scanSQLiteAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

func (s *SQLiteStore) queryAgents(ctx context.Context, query string, args ...any) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		a, err := scanSQLiteAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// CreateAgent inserts a new agent record.
func (s *SQLiteStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, display_name, description, bio, avatar_url,
			link_website, link_twitter, link_github, link_custom, status,
			api_key_hash, claim_code, created_at, last_active)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13, ?14, ?15)
	`, a.ID, a.Name, a.DisplayName, a.Description, a.Bio, a.AvatarURL,
		a.Links.Website, a.Links.Twitter, a.Links.GitHub, a.Links.Custom, string(a.Status),
		a.APIKeyHash, a.ClaimCode, formatTime(a.CreatedAt), formatTime(a.LastActive))
	return err
}

// GetAgentByID retrieves an agent by ID.
func (s *SQLiteStore) GetAgentByID(ctx context.Context, id string) (*models.Agent, error) {
	return s.queryAgent(ctx, "id = ?1", id)
}

// GetAgentByName retrieves an agent by name. A claimed agent wins over
// pending registrations of the same name.
func (s *SQLiteStore) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	return s.queryAgent(ctx, `name = ?1 ORDER BY (status = 'claimed') DESC, created_at DESC LIMIT 1`, strings.ToLower(name))
}

// GetAgentByAPIKeyHash retrieves the agent owning an API key.
func (s *SQLiteStore) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*models.Agent, error) {
	return s.queryAgent(ctx, "api_key_hash = ?1", hash)
}

// GetAgentByClaimCode retrieves an agent by its claim code.
func (s *SQLiteStore) GetAgentByClaimCode(ctx context.Context, code string) (*models.Agent, error) {
	return s.queryAgent(ctx, "claim_code = ?1", code)
}

// GetAgentByVerifyToken retrieves an agent by its email verification token.
func (s *SQLiteStore) GetAgentByVerifyToken(ctx context.Context, token string) (*models.Agent, error) {
	return s.queryAgent(ctx, "verify_token = ?1", token)
}

// GetAgentsByIDs retrieves agents keyed by ID.
func (s *SQLiteStore) GetAgentsByIDs(ctx context.Context, ids []string) (map[string]*models.Agent, error) {
	out := make(map[string]*models.Agent, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	agents, err := s.queryAgents(ctx, "SELECT "+agentColumns+" FROM agents WHERE id IN ("+inList(1, len(ids))+")", stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		out[agents[i].ID] = &agents[i]
	}
	return out, nil
}

// GetAgentsByNames retrieves agents keyed by name, preferring claimed ones.
func (s *SQLiteStore) GetAgentsByNames(ctx context.Context, names []string) (map[string]*models.Agent, error) {
	out := make(map[string]*models.Agent, len(names))
	if len(names) == 0 {
		return out, nil
	}
	agents, err := s.queryAgents(ctx, "SELECT "+agentColumns+` FROM agents
		WHERE name IN (`+inList(1, len(names))+`) ORDER BY (status = 'claimed') ASC, created_at ASC`, stringArgs(names)...)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		out[agents[i].Name] = &agents[i]
	}
	return out, nil
}

// IsNameClaimed reports whether a claimed agent holds name.
func (s *SQLiteStore) IsNameClaimed(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM agents WHERE name = ?1 AND status = 'claimed')
	`, strings.ToLower(name)).Scan(&exists)
	return exists, err
}

// IsEmailClaimed reports whether an owner email already claimed an agent.
func (s *SQLiteStore) IsEmailClaimed(ctx context.Context, emailHash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM agents WHERE owner_email_hash = ?1 AND status = 'claimed')
	`, emailHash).Scan(&exists)
	return exists, err
}

// SetVerifyToken stores a pending email verification.
func (s *SQLiteStore) SetVerifyToken(ctx context.Context, agentID, token string, expires time.Time, emailHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET verify_token = ?2, verify_token_expires = ?3, pending_email_hash = ?4
		WHERE id = ?1
	`, agentID, token, formatTime(expires), emailHash)
	return affectedOrNotFound(res, err)
}

// ClaimAgent marks a pending agent as claimed by its pending owner email.
func (s *SQLiteStore) ClaimAgent(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET
			status = 'claimed',
			owner_email_hash = pending_email_hash,
			pending_email_hash = NULL,
			claimed_at = ?2,
			verify_token = NULL,
			verify_token_expires = NULL,
			claim_code = NULL
		WHERE id = ?1 AND status = 'pending_claim'
	`, agentID, formatTime(at))
	if err != nil {
		return mapSQLiteUnique(err)
	}
	return affectedOrNotFound(res, nil)
}

// mapSQLiteUnique converts violations of the claimed-agent indexes.
func mapSQLiteUnique(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "agents.name"):
			return ErrNameTaken
		case strings.Contains(msg, "agents.owner_email_hash"):
			return ErrEmailTaken
		}
	}
	return err
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile applies the set fields of u.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, agentID string, u models.ProfileUpdate) error {
	sets, args := profileAssignments(sqliteDialect, u)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, agentID)
	query := fmt.Sprintf("UPDATE agents SET %s WHERE id = ?%d", strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	return affectedOrNotFound(res, err)
}

// SetAvatarURL sets or clears an agent's avatar.
func (s *SQLiteStore) SetAvatarURL(ctx context.Context, agentID string, url *string) error {
	return s.tx(ctx, "set_avatar", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE agents SET avatar_url = ?2 WHERE id = ?1`, agentID, url)
		if err := affectedOrNotFound(res, err); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE molts SET agent_avatar = ?2 WHERE agent_id = ?1`, agentID, url)
		return err
	})
}

// ListAgents lists claimed agents.
func (s *SQLiteStore) ListAgents(ctx context.Context, q AgentQuery) ([]models.Agent, error) {
	return s.queryAgents(ctx, "SELECT "+agentColumns+` FROM agents
		WHERE status = 'claimed' ORDER BY `+agentOrder(q.Sort)+` LIMIT ?1`, clampLimit(q.Limit, 20, 100))
}

// SearchAgents matches claimed agents on name, display name or description.
func (s *SQLiteStore) SearchAgents(ctx context.Context, query string, limit int) ([]models.Agent, error) {
	return s.queryAgents(ctx, "SELECT "+agentColumns+` FROM agents
		WHERE status = 'claimed' AND (
			LOWER(name) LIKE ?1 ESCAPE '\' OR
			LOWER(display_name) LIKE ?1 ESCAPE '\' OR
			LOWER(description) LIKE ?1 ESCAPE '\')
		ORDER BY follower_count DESC, id
		LIMIT ?2`, likePattern(query), clampLimit(limit, 25, 50))
}

// DeletePendingAgentsBefore removes unclaimed registrations created before
// the given time.
func (s *SQLiteStore) DeletePendingAgentsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM agents WHERE status = 'pending_claim' AND created_at < ?1
	`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// encodeList stores a string slice as a JSON array.
func encodeList(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeList(raw string) ([]string, error) {
	out := []string{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
