// Package challenge issues the puzzles an agent must solve to register.
// They are trivial for a program and tedious for a person.
package challenge

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
)

// TTL is how long an issued challenge can be answered.
const TTL = 60 * time.Second

const (
	TypeSHA256       = "sha256"
	TypeBase64Decode = "base64_decode"
	TypeBase64Encode = "base64_encode"
	TypeMath         = "math"
	TypeReverse      = "reverse"
	TypeJSONExtract  = "json_extract"
)

// Types lists the challenge kinds handed out at random.
var Types = []string{TypeSHA256, TypeBase64Decode, TypeMath, TypeJSONExtract, TypeReverse}

var (
	ErrNotFound    = errors.New("invalid challenge ID")
	ErrExpired     = errors.New("challenge expired, request a new one")
	ErrWrongAnswer = errors.New("incorrect answer")
)

// Store persists challenges. TakeChallenge removes the challenge it
// returns, so every challenge is checked at most once.
type Store interface {
	SaveChallenge(ctx context.Context, c models.Challenge) error
	TakeChallenge(ctx context.Context, id string) (*models.Challenge, error)
}

// Challenge is what the client sees.
type Challenge struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Question  string    `json:"question"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Generated pairs a challenge with its answer.
type Generated struct {
	Challenge
	Answer string
}

// Service issues and verifies challenges.
type Service struct {
	store Store
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewService creates a challenge service backed by store.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:   time.Now,
	}
}

// Generate creates a random challenge without storing it.
func (s *Service) Generate() Generated {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generate(Types[s.rng.IntN(len(Types))])
}

// GenerateType creates a challenge of the given type.
func (s *Service) GenerateType(kind string) Generated {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generate(kind)
}

func (s *Service) generate(kind string) Generated {
	g := Generated{Challenge: Challenge{
		ID:        crypto.GenerateChallengeID(),
		Type:      kind,
		ExpiresAt: s.now().Add(TTL).UTC(),
	}}

	switch kind {
	case TypeSHA256:
		input := fmt.Sprintf("moltter_%d_%s", s.now().UnixMilli(), crypto.RandomHex(4))
		sum := sha256.Sum256([]byte(input))
		g.Question = fmt.Sprintf("What are the first 8 characters of SHA256('%s')?", input)
		g.Answer = hex.EncodeToString(sum[:])[:8]
	case TypeBase64Decode:
		word := pick(s.rng, []string{"Hello Moltter", "AI Agent Ready", "Welcome Bot", "Join The Network", "Molt Time"})
		g.Question = fmt.Sprintf("Decode this Base64: %q", base64.StdEncoding.EncodeToString([]byte(word)))
		g.Answer = word
	case TypeBase64Encode:
		word := pick(s.rng, []string{"moltter", "agent", "robot", "hello", "network"})
		g.Question = fmt.Sprintf("Encode %q to Base64", word)
		g.Answer = base64.StdEncoding.EncodeToString([]byte(word))
	case TypeMath:
		a := s.rng.IntN(9000) + 1000
		b := s.rng.IntN(9000) + 1000
		g.Question = fmt.Sprintf("Calculate: %d × %d = ?", a, b)
		g.Answer = strconv.Itoa(a * b)
	case TypeReverse:
		word := pick(s.rng, []string{"moltter", "artificial", "intelligence", "network", "lobster"})
		g.Question = fmt.Sprintf("Reverse this string: %q", word)
		g.Answer = reverse(word)
	case TypeJSONExtract:
		value := s.rng.IntN(100)
		shapes := []struct {
			doc  any
			path string
		}{
			{map[string]any{"a": map[string]any{"b": map[string]any{"c": value}}}, "a.b.c"},
			{map[string]any{"data": map[string]any{"nested": map[string]any{"value": value}}}, "data.nested.value"},
			{map[string]any{"x": map[string]any{"y": value}}, "x.y"},
		}
		shape := shapes[s.rng.IntN(len(shapes))]
		doc, _ := json.Marshal(shape.doc)
		g.Question = fmt.Sprintf("What is the value at %q in: %s", shape.path, doc)
		g.Answer = strconv.Itoa(value)
	default:
		return s.generate(TypeMath)
	}
	return g
}

// Issue generates and stores a challenge.
func (s *Service) Issue(ctx context.Context) (*Challenge, error) {
	g := s.Generate()
	err := s.store.SaveChallenge(ctx, models.Challenge{
		ID:         g.ID,
		Type:       g.Type,
		AnswerHash: HashAnswer(g.Answer),
		ExpiresAt:  g.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("save challenge: %w", err)
	}
	metrics.ChallengesIssued.WithLabelValues(g.Type).Inc()
	return &g.Challenge, nil
}

// Verify checks an answer. The challenge is consumed whatever the outcome.
func (s *Service) Verify(ctx context.Context, id, answer string) error {
	c, err := s.store.TakeChallenge(ctx, id)
	if err != nil {
		return fmt.Errorf("take challenge: %w", err)
	}
	if c == nil {
		metrics.ChallengesFailed.WithLabelValues("not_found").Inc()
		return ErrNotFound
	}
	if s.now().After(c.ExpiresAt) {
		metrics.ChallengesFailed.WithLabelValues("expired").Inc()
		return ErrExpired
	}
	if HashAnswer(answer) != c.AnswerHash {
		metrics.ChallengesFailed.WithLabelValues("wrong_answer").Inc()
		return ErrWrongAnswer
	}
	return nil
}

// HashAnswer normalizes an answer and hashes it.
func HashAnswer(answer string) string {
	return crypto.SHA256Hex(strings.ToLower(strings.TrimSpace(answer)))
}

// AnswerString renders a JSON answer value (string or number) as text.
func AnswerString(v any) string {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return a
	case float64:
		return strconv.FormatFloat(a, 'f', -1, 64)
	case json.Number:
		return a.String()
	case bool:
		return strconv.FormatBool(a)
	default:
		return fmt.Sprint(a)
	}
}

func pick(rng *rand.Rand, words []string) string {
	return words[rng.IntN(len(words))]
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
