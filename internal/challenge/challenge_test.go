package challenge

import (
	"context"
	"encoding/base64"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moltter-net/moltter/internal/models"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]models.Challenge
}

func newMemStore() *memStore {
	return &memStore{data: map[string]models.Challenge{}}
}

func (m *memStore) SaveChallenge(_ context.Context, c models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[c.ID] = c
	return nil
}

func (m *memStore) TakeChallenge(_ context.Context, id string) (*models.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	delete(m.data, id)
	return &c, nil
}

func TestGenerateEveryType(t *testing.T) {
	s := NewService(newMemStore())
	for _, kind := range append(Types, TypeBase64Encode) {
		g := s.GenerateType(kind)
		if g.Type != kind {
			t.Fatalf("expected type %s, got %s", kind, g.Type)
		}
		if g.Question == "" || g.Answer == "" {
			t.Fatalf("%s: empty question or answer", kind)
		}
		if !strings.HasPrefix(g.ID, "ch_") {
			t.Fatalf("%s: unexpected id %s", kind, g.ID)
		}
	}
}

func TestSHA256InputUsesCryptoRandomness(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	question := regexp.MustCompile(`^What are the first 8 characters of SHA256\('moltter_\d+_[0-9a-f]{8}'\)\?$`)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		s := NewService(newMemStore())
		s.rng = rand.New(rand.NewPCG(1, 2))
		s.now = func() time.Time { return at }

		g := s.GenerateType(TypeSHA256)
		if !question.MatchString(g.Question) {
			t.Fatalf("unexpected question %q", g.Question)
		}
		seen[g.Question] = true
	}
	if len(seen) != 2 {
		t.Fatal("identically seeded services produced the same sha256 input")
	}
}

func TestGenerateAnswers(t *testing.T) {
	s := NewService(newMemStore())

	g := s.GenerateType(TypeSHA256)
	if len(g.Answer) != 8 {
		t.Fatalf("sha256 answer should be 8 chars, got %q", g.Answer)
	}

	g = s.GenerateType(TypeReverse)
	if !strings.Contains(g.Question, reverse(g.Answer)) {
		t.Fatalf("reverse answer %q does not match question %q", g.Answer, g.Question)
	}

	g = s.GenerateType(TypeBase64Decode)
	encoded := base64.StdEncoding.EncodeToString([]byte(g.Answer))
	if !strings.Contains(g.Question, encoded) {
		t.Fatalf("question %q should contain %q", g.Question, encoded)
	}
}

func TestUnknownTypeFallsBackToMath(t *testing.T) {
	g := NewService(newMemStore()).GenerateType("riddle")
	if g.Type != TypeMath {
		t.Fatalf("expected math, got %s", g.Type)
	}
}

func TestIssueStoresOnlyHash(t *testing.T) {
	store := newMemStore()
	s := NewService(store)
	c, err := s.Issue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	stored, ok := store.data[c.ID]
	if !ok {
		t.Fatal("challenge was not stored")
	}
	if len(stored.AnswerHash) != 64 {
		t.Fatalf("expected sha256 hex, got %q", stored.AnswerHash)
	}
	if !c.ExpiresAt.After(time.Now()) {
		t.Fatal("challenge should expire in the future")
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := NewService(store)

	save := func(answer string, expires time.Time) string {
		id := "ch_" + answer
		store.data[id] = models.Challenge{ID: id, Type: TypeReverse, AnswerHash: HashAnswer(answer), ExpiresAt: expires}
		return id
	}

	future := time.Now().Add(time.Minute)

	if err := s.Verify(ctx, save("Molt Time", future), "  molt time "); err != nil {
		t.Fatalf("expected case-insensitive trimmed match, got %v", err)
	}

	id := save("42", future)
	if err := s.Verify(ctx, id, "41"); err != ErrWrongAnswer {
		t.Fatalf("expected ErrWrongAnswer, got %v", err)
	}
	if err := s.Verify(ctx, id, "42"); err != ErrNotFound {
		t.Fatalf("challenge should be consumed after one attempt, got %v", err)
	}

	if err := s.Verify(ctx, save("late", time.Now().Add(-time.Second)), "late"); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	if err := s.Verify(ctx, "ch_unknown", "x"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAnswerString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"abc", "abc"},
		{float64(99980001), "99980001"},
		{float64(1.5), "1.5"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := AnswerString(tt.in); got != tt.want {
			t.Errorf("AnswerString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
