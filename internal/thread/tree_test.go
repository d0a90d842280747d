package thread

import (
	"strconv"
	"testing"
	"time"

	"github.com/moltter-net/moltter/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func molt(id, parent string, minute int) models.Molt {
	m := models.Molt{
		ID:             id,
		AgentID:        "agent-" + id,
		AgentName:      "agent" + id,
		Content:        "molt " + id,
		ConversationID: "root",
		CreatedAt:      base.Add(time.Duration(minute) * time.Minute),
	}
	if parent != "" {
		p := parent
		m.ReplyToID = &p
	}
	return m
}

func ids(flat []FlatNode) []string {
	out := make([]string, len(flat))
	for i, f := range flat {
		out[i] = f.Molt.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuildTreeOrdersChildrenChronologically(t *testing.T) {
	molts := []models.Molt{
		molt("root", "", 0),
		molt("c", "root", 3),
		molt("a", "root", 1),
		molt("b", "a", 2),
		molt("d", "a", 1),
	}

	tree := BuildTree(molts, "root")
	if len(tree) != 2 {
		t.Fatalf("expected 2 direct replies, got %d", len(tree))
	}
	if tree[0].Molt.ID != "a" || tree[1].Molt.ID != "c" {
		t.Fatalf("expected a then c, got %s then %s", tree[0].Molt.ID, tree[1].Molt.ID)
	}
	if tree[0].Depth != 0 {
		t.Fatalf("direct replies should have depth 0, got %d", tree[0].Depth)
	}
	kids := tree[0].Children
	if len(kids) != 2 || kids[0].Molt.ID != "d" || kids[1].Molt.ID != "b" {
		t.Fatalf("unexpected children of a: %+v", kids)
	}
	if kids[0].Depth != 1 {
		t.Fatalf("expected depth 1, got %d", kids[0].Depth)
	}
}

func TestBuildTreeFromMidThread(t *testing.T) {
	molts := []models.Molt{
		molt("root", "", 0),
		molt("a", "root", 1),
		molt("b", "a", 2),
		molt("c", "b", 3),
		molt("x", "root", 4),
	}

	flat := Flatten(BuildTree(molts, "a"), DefaultMaxDepth)
	if got := ids(flat); !equal(got, []string{"b", "c"}) {
		t.Fatalf("expected [b c], got %v", got)
	}
	if flat[1].Depth != 1 {
		t.Fatalf("expected depth 1 for c, got %d", flat[1].Depth)
	}
}

func TestBuildTreeSameTimestampUsesID(t *testing.T) {
	molts := []models.Molt{
		molt("z", "root", 1),
		molt("m", "root", 1),
	}
	flat := Flatten(BuildTree(molts, "root"), DefaultMaxDepth)
	if got := ids(flat); !equal(got, []string{"m", "z"}) {
		t.Fatalf("expected [m z], got %v", got)
	}
}

func TestBuildTreeIgnoresDuplicatesAndCycles(t *testing.T) {
	a := molt("a", "root", 1)
	b := molt("b", "a", 2)
	// a cycle disconnected from root
	x := molt("x", "y", 3)
	y := molt("y", "x", 4)
	flat := Flatten(BuildTree([]models.Molt{a, b, a, x, y}, "root"), DefaultMaxDepth)
	if got := ids(flat); !equal(got, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", got)
	}
}

func TestFlattenDepthLimit(t *testing.T) {
	molts := []models.Molt{
		molt("a", "root", 1),
		molt("b", "a", 2),
		molt("c", "b", 3),
		molt("d", "c", 4),
		molt("e", "root", 5),
	}
	tree := BuildTree(molts, "root")

	tests := []struct {
		maxDepth int
		ids      []string
		hasMore  map[string]bool
	}{
		{maxDepth: 10, ids: []string{"a", "b", "c", "d", "e"}, hasMore: map[string]bool{}},
		{maxDepth: 2, ids: []string{"a", "b", "c", "e"}, hasMore: map[string]bool{"c": true}},
		{maxDepth: 1, ids: []string{"a", "b", "e"}, hasMore: map[string]bool{"b": true}},
		{maxDepth: 0, ids: []string{"a", "e"}, hasMore: map[string]bool{"a": true}},
	}

	for _, tt := range tests {
		flat := Flatten(tree, tt.maxDepth)
		if got := ids(flat); !equal(got, tt.ids) {
			t.Errorf("maxDepth %d: expected %v, got %v", tt.maxDepth, tt.ids, got)
			continue
		}
		for _, f := range flat {
			if f.HasMore != tt.hasMore[f.Molt.ID] {
				t.Errorf("maxDepth %d: %s has_more = %v", tt.maxDepth, f.Molt.ID, f.HasMore)
			}
			if f.Depth > tt.maxDepth {
				t.Errorf("maxDepth %d: %s depth %d exceeds limit", tt.maxDepth, f.Molt.ID, f.Depth)
			}
		}
	}
}

func TestFlattenEmpty(t *testing.T) {
	flat := Flatten(nil, DefaultMaxDepth)
	if flat == nil || len(flat) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", flat)
	}
}

func TestClampDepth(t *testing.T) {
	tests := map[string]int{
		"":    10,
		"abc": 10,
		"5":   5,
		"0":   0,
		"-3":  0,
		"20":  20,
		"99":  20,
	}
	for in, want := range tests {
		if got := ClampDepth(in); got != want {
			t.Errorf("ClampDepth(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCountDescendants(t *testing.T) {
	links := []models.ReplyLink{
		{ID: "root"},
		{ID: "a", ReplyToID: "root"},
		{ID: "b", ReplyToID: "a"},
		{ID: "c", ReplyToID: "a"},
		{ID: "d", ReplyToID: "c"},
		{ID: "e", ReplyToID: "root"},
		// parent was deleted
		{ID: "orphan", ReplyToID: "gone"},
		{ID: "orphan-child", ReplyToID: "orphan"},
	}

	counts := CountDescendants(links)
	want := map[string]int{
		"root":         5,
		"a":            3,
		"b":            0,
		"c":            1,
		"d":            0,
		"e":            0,
		"orphan":       1,
		"orphan-child": 0,
	}
	for id, n := range want {
		if counts[id] != n {
			t.Errorf("%s: expected %d, got %d", id, n, counts[id])
		}
	}
}

func TestCountDescendantsDeepChain(t *testing.T) {
	const depth = 10000
	links := make([]models.ReplyLink, 0, depth)
	links = append(links, models.ReplyLink{ID: "n0"})
	for i := 1; i < depth; i++ {
		links = append(links, models.ReplyLink{ID: nodeID(i), ReplyToID: nodeID(i - 1)})
	}
	counts := CountDescendants(links)
	if counts["n0"] != depth-1 {
		t.Fatalf("expected %d, got %d", depth-1, counts["n0"])
	}
}

func nodeID(i int) string {
	return "n" + strconv.Itoa(i)
}
