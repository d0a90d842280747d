package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
)

// rowScanner is satisfied by pgx and database/sql rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// tx runs fn in a transaction and records its latency under op.
func (s *PostgresStore) tx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()
	return pgx.BeginFunc(ctx, s.pool, fn)
}

func scanPGAgent(row rowScanner) (*models.Agent, error) {
	a := &models.Agent{}
	var status string
	err := row.Scan(
		&a.ID, &a.Name, &a.DisplayName, &a.Description, &a.Bio, &a.AvatarURL,
		&a.Links.Website, &a.Links.Twitter, &a.Links.GitHub, &a.Links.Custom, &status,
		&a.FollowerCount, &a.FollowingCount, &a.MoltCount, &a.LikeCount,
		&a.APIKeyHash, &a.ClaimCode, &a.VerifyToken, &a.VerifyTokenExpires,
		&a.PendingEmailHash, &a.OwnerEmailHash, &a.WebhookURL, &a.WebhookSecret,
		&a.CreatedAt, &a.LastActive, &a.ClaimedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = models.AgentStatus(status)
	return a, nil
}

func (s *PostgresStore) queryAgent(ctx context.Context, where string, args ...any) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+agentColumns+" FROM agents WHERE "+where, args...)
	agent, err := scanPGAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

func (s *PostgresStore) queryAgents(ctx context.Context, query string, args ...any) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		a, err := scanPGAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// CreateAgent inserts a new agent record.
func (s *PostgresStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, display_name, description, bio, avatar_url,
			link_website, link_twitter, link_github, link_custom, status,
			api_key_hash, claim_code, created_at, last_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, a.ID, a.Name, a.DisplayName, a.Description, a.Bio, a.AvatarURL,
		a.Links.Website, a.Links.Twitter, a.Links.GitHub, a.Links.Custom, string(a.Status),
		a.APIKeyHash, a.ClaimCode, a.CreatedAt, a.LastActive)
	return err
}

// GetAgentByID retrieves an agent by ID.
func (s *PostgresStore) GetAgentByID(ctx context.Context, id string) (*models.Agent, error) {
	return s.queryAgent(ctx, "id = $1", id)
}

// GetAgentByName retrieves an agent by name. A claimed agent wins over
// pending registrations of the same name.
func (s *PostgresStore) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	return s.queryAgent(ctx, `name = $1 ORDER BY (status = 'claimed') DESC, created_at DESC LIMIT 1`, strings.ToLower(name))
}

// GetAgentByAPIKeyHash retrieves the agent owning an API key.
func (s *PostgresStore) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*models.Agent, error) {
	return s.queryAgent(ctx, "api_key_hash = $1", hash)
}

// GetAgentByClaimCode retrieves an agent by its claim code.
func (s *PostgresStore) GetAgentByClaimCode(ctx context.Context, code string) (*models.Agent, error) {
	return s.queryAgent(ctx, "claim_code = $1", code)
}

// GetAgentByVerifyToken retrieves an agent by its email verification token.
func (s *PostgresStore) GetAgentByVerifyToken(ctx context.Context, token string) (*models.Agent, error) {
	return s.queryAgent(ctx, "verify_token = $1", token)
}

// GetAgentsByIDs retrieves agents keyed by ID.
func (s *PostgresStore) GetAgentsByIDs(ctx context.Context, ids []string) (map[string]*models.Agent, error) {
	out := make(map[string]*models.Agent, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	agents, err := s.queryAgents(ctx, "SELECT "+agentColumns+" FROM agents WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		out[agents[i].ID] = &agents[i]
	}
	return out, nil
}

// GetAgentsByNames retrieves agents keyed by name, preferring claimed ones.
func (s *PostgresStore) GetAgentsByNames(ctx context.Context, names []string) (map[string]*models.Agent, error) {
	out := make(map[string]*models.Agent, len(names))
	if len(names) == 0 {
		return out, nil
	}
	agents, err := s.queryAgents(ctx, "SELECT "+agentColumns+` FROM agents
		WHERE name = ANY($1) ORDER BY (status = 'claimed') ASC, created_at ASC`, names)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		out[agents[i].Name] = &agents[i]
	}
	return out, nil
}

// IsNameClaimed reports whether a claimed agent holds name.
func (s *PostgresStore) IsNameClaimed(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM agents WHERE name = $1 AND status = 'claimed')
	`, strings.ToLower(name)).Scan(&exists)
	return exists, err
}

// IsEmailClaimed reports whether an owner email already claimed an agent.
func (s *PostgresStore) IsEmailClaimed(ctx context.Context, emailHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM agents WHERE owner_email_hash = $1 AND status = 'claimed')
	`, emailHash).Scan(&exists)
	return exists, err
}

// SetVerifyToken stores a pending email verification.
func (s *PostgresStore) SetVerifyToken(ctx context.Context, agentID, token string, expires time.Time, emailHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET verify_token = $2, verify_token_expires = $3, pending_email_hash = $4
		WHERE id = $1
	`, agentID, token, expires, emailHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimAgent marks a pending agent as claimed by its pending owner email.
func (s *PostgresStore) ClaimAgent(ctx context.Context, agentID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET
			status = 'claimed',
			owner_email_hash = pending_email_hash,
			pending_email_hash = NULL,
			claimed_at = $2,
			verify_token = NULL,
			verify_token_expires = NULL,
			claim_code = NULL
		WHERE id = $1 AND status = 'pending_claim'
	`, agentID, at)
	if err != nil {
		return mapPGUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// mapPGUnique converts violations of the claimed-agent indexes.
func mapPGUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "agents_claimed_name":
			return ErrNameTaken
		case "agents_claimed_owner":
			return ErrEmailTaken
		}
	}
	return err
}

// UpdateProfile applies the set fields of u.
func (s *PostgresStore) UpdateProfile(ctx context.Context, agentID string, u models.ProfileUpdate) error {
	sets, args := profileAssignments(postgresDialect, u)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, agentID)
	query := fmt.Sprintf("UPDATE agents SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAvatarURL sets or clears an agent's avatar.
func (s *PostgresStore) SetAvatarURL(ctx context.Context, agentID string, url *string) error {
	return s.tx(ctx, "set_avatar", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE agents SET avatar_url = $2 WHERE id = $1`, agentID, url)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `UPDATE molts SET agent_avatar = $2 WHERE agent_id = $1`, agentID, url)
		return err
	})
}

// ListAgents lists claimed agents.
func (s *PostgresStore) ListAgents(ctx context.Context, q AgentQuery) ([]models.Agent, error) {
	return s.queryAgents(ctx, "SELECT "+agentColumns+` FROM agents
		WHERE status = 'claimed' ORDER BY `+agentOrder(q.Sort)+` LIMIT $1`, clampLimit(q.Limit, 20, 100))
}

// SearchAgents matches claimed agents on name, display name or description.
func (s *PostgresStore) SearchAgents(ctx context.Context, query string, limit int) ([]models.Agent, error) {
	return s.queryAgents(ctx, "SELECT "+agentColumns+` FROM agents
		WHERE status = 'claimed' AND (
			LOWER(name) LIKE $1 ESCAPE '\' OR
			LOWER(display_name) LIKE $1 ESCAPE '\' OR
			LOWER(description) LIKE $1 ESCAPE '\')
		ORDER BY follower_count DESC, id
		LIMIT $2`, likePattern(query), clampLimit(limit, 25, 50))
}

// DeletePendingAgentsBefore removes unclaimed registrations created before
// the given time.
func (s *PostgresStore) DeletePendingAgentsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM agents WHERE status = 'pending_claim' AND created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// profileAssignments renders the SET clauses of a profile update.
func profileAssignments(d dialect, u models.ProfileUpdate) ([]string, []any) {
	var sets []string
	var args []any
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, column+" = "+d.placeholder(len(args)))
	}
	if u.DisplayName != nil {
		set("display_name", *u.DisplayName)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.Bio != nil {
		set("bio", *u.Bio)
	}
	if u.Links != nil {
		set("link_website", u.Links.Website)
		set("link_twitter", u.Links.Twitter)
		set("link_github", u.Links.GitHub)
		set("link_custom", u.Links.Custom)
	}
	if u.ClearWebhook {
		sets = append(sets, "webhook_url = NULL", "webhook_secret = NULL")
	} else if u.WebhookURL != nil {
		set("webhook_url", *u.WebhookURL)
		if u.WebhookSecret != nil {
			set("webhook_secret", *u.WebhookSecret)
		}
	}
	return sets, args
}
