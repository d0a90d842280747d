package store

import (
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltter-net/moltter/internal/models"
)

func TestBuildMoltQuery(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cur := &moltCursor{ID: "m9", CreatedAt: at, LastActivityAt: at, LikeCount: 4}

	tests := []struct {
		name     string
		d        dialect
		q        models.MoltQuery
		cur      *moltCursor
		contains []string
		args     int
	}{
		{
			name:     "home timeline reuses placeholder",
			d:        postgresDialect,
			q:        models.MoltQuery{FollowedBy: "a1"},
			contains: []string{"agent_id = $1 OR agent_id IN (SELECT following_id FROM follows WHERE follower_id = $1)", "LIMIT $2"},
			args:     2,
		},
		{
			name:     "popular with cursor",
			d:        postgresDialect,
			q:        models.MoltQuery{RootsOnly: true, Sort: models.SortPopular},
			cur:      cur,
			contains: []string{"reply_to_id IS NULL", "(like_count, created_at, id) < ($1, $2, $3)", "ORDER BY like_count DESC"},
			args:     4,
		},
		{
			name:     "sqlite hashtag with active cursor",
			d:        sqliteDialect,
			q:        models.MoltQuery{Hashtag: "go", Sort: models.SortActive},
			cur:      cur,
			contains: []string{"tag = ?1", "(last_activity_at, id) < (?2, ?3)", "LIMIT ?4"},
			args:     4,
		},
		{
			name:     "author replies",
			d:        sqliteDialect,
			q:        models.MoltQuery{AuthorID: "a1", RepliesOnly: true},
			contains: []string{"agent_id = ?1", "reply_to_id IS NOT NULL", "ORDER BY created_at DESC, id DESC"},
			args:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildMoltQuery(tt.d, tt.q, tt.cur, 20)
			for _, want := range tt.contains {
				assert.Contains(t, query, want)
			}
			assert.True(t, strings.HasPrefix(query, "SELECT "))
			assert.Contains(t, query, "deleted_at IS NULL")
			assert.Len(t, args, tt.args)
			assert.Equal(t, 20, args[len(args)-1])
		})
	}
}

func TestSQLiteCursorTimeIsText(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)
	_, args := buildMoltQuery(sqliteDialect, models.MoltQuery{}, &moltCursor{ID: "x", CreatedAt: at}, 5)
	require.Len(t, args, 3)
	assert.Equal(t, "2026-01-02T03:04:05.000000Z", args[0])
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%hello%", likePattern("Hello"))
	assert.Equal(t, `%50\%\_off%`, likePattern("50%_off"))
	assert.Equal(t, `%a\\b%`, likePattern(`a\b`))
}

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "m.id, m.name", prefixed("id,\n\t\tname", "m"))
}

func TestTimeFormatOrdersLexically(t *testing.T) {
	a := formatTime(time.Date(2026, 1, 1, 0, 0, 0, 999000, time.UTC))
	b := formatTime(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC))
	assert.Less(t, a, b)

	parsed, err := parseTime(a)
	require.NoError(t, err)
	assert.Equal(t, 999, parsed.Nanosecond()/1000)
}

func TestProfileAssignments(t *testing.T) {
	bio := "hi"
	sets, args := profileAssignments(sqliteDialect, models.ProfileUpdate{Bio: &bio, ClearWebhook: true})
	assert.Equal(t, []string{"bio = ?1", "webhook_url = NULL", "webhook_secret = NULL"}, sets)
	assert.Equal(t, []any{"hi"}, args)
}

func TestLikeRollsBackWhenCounterUpdateFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &SQLiteStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO likes").
		WithArgs("a_m", "a", "m", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE molts SET like_count").
		WithArgs("m", 1).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = s.Like(t.Context(), models.NewLike("a", "m", time.Now()))
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLikeDuplicateDoesNotTouchCounters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &SQLiteStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO likes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = s.Like(t.Context(), models.NewLike("a", "m", time.Now()))
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnfollowMissingRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &SQLiteStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM follows").WithArgs("a_b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.ErrorIs(t, s.Unfollow(t.Context(), "a", "b"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgx5URL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h/db", pgx5URL("postgres://u:p@h/db"))
	assert.Equal(t, "pgx5://u:p@h/db", pgx5URL("postgresql://u:p@h/db"))
	assert.Equal(t, "pgx5://h/db", pgx5URL("pgx5://h/db"))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0, 20, 50))
	assert.Equal(t, 50, clampLimit(500, 20, 50))
	assert.Equal(t, 7, clampLimit(7, 20, 50))
}
