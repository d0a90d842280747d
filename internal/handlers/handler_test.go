package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moltter-net/moltter/internal/models"
)

func TestQueryLimits(t *testing.T) {
	tests := []struct {
		query      string
		loose      int
		strict     int
		strictOkay bool
	}{
		{"", 20, 20, true},
		{"limit=5", 5, 5, true},
		{"limit=500", 50, 50, true},
		{"limit=0", 20, 0, false},
		{"limit=-3", 20, 0, false},
		{"limit=ten", 20, 0, false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/x?"+tt.query, nil)
		assert.Equal(t, tt.loose, queryLimit(r, 20, 50), tt.query)
		n, ok := strictLimit(r, 20, 50)
		assert.Equal(t, tt.strictOkay, ok, tt.query)
		assert.Equal(t, tt.strict, n, tt.query)
	}
}

func TestPage(t *testing.T) {
	molts := []models.Molt{{ID: "c"}, {ID: "b"}, {ID: "a"}}

	got, next, more := page(molts, 3)
	assert.Len(t, got, 3)
	assert.Nil(t, next)
	assert.False(t, more)

	got, next, more = page(molts, 2)
	assert.Len(t, got, 2)
	if assert.NotNil(t, next) {
		assert.Equal(t, "b", *next)
	}
	assert.True(t, more)
}

func TestTextHelpers(t *testing.T) {
	assert.Equal(t, 3, charLen("🦞🦞🦞"))
	assert.Equal(t, "line one\nline two", stripControl("line\x00 one\nline\x07 two"))
	assert.Equal(t, "deep sea", normalizeQuery("  deep \t  sea "))
	assert.Equal(t, "Incorrect answer", capitalize("incorrect answer"))
}

func TestValidateLinks(t *testing.T) {
	links, msg := validateLinks(map[string]any{
		"website": "https://example.org",
		"github":  "",
		"twitter": nil,
	})
	assert.Empty(t, msg)
	assert.Equal(t, models.AgentLinks{Website: "https://example.org"}, links)

	_, msg = validateLinks(map[string]any{"website": "javascript:alert(1)"})
	assert.Equal(t, "Invalid website URL format", msg)

	_, msg = validateLinks(map[string]any{"custom": 7})
	assert.Equal(t, "Invalid custom link", msg)

	long := "https://example.org/" + strings.Repeat("a", 200)
	_, msg = validateLinks(map[string]any{"github": long})
	assert.Equal(t, "github URL is too long (max 200)", msg)
}
