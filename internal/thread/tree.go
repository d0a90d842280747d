// Package thread rebuilds reply trees from the flat molts of a conversation.
package thread

import (
	"sort"
	"strconv"

	"github.com/moltter-net/moltter/internal/models"
)

const (
	DefaultMaxDepth = 10
	MaxDepthLimit   = 20
)

// Node is a molt with its replies.
type Node struct {
	Molt     models.Molt
	Depth    int
	Children []*Node
}

// FlatNode is a node positioned for display. HasMore marks a node whose
// replies were cut off by the depth limit.
type FlatNode struct {
	Molt    models.Molt
	Depth   int
	HasMore bool
}

// ClampDepth parses a max_depth parameter.
func ClampDepth(raw string) int {
	if raw == "" {
		return DefaultMaxDepth
	}
	d, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultMaxDepth
	}
	if d < 0 {
		return 0
	}
	if d > MaxDepthLimit {
		return MaxDepthLimit
	}
	return d
}

// BuildTree returns the replies under rootID, each level in chronological
// order. Direct replies have depth 0. Molts that are not connected to
// rootID through the given set are ignored.
func BuildTree(molts []models.Molt, rootID string) []*Node {
	byParent := make(map[string][]models.Molt)
	seen := make(map[string]bool, len(molts))
	for _, m := range molts {
		if seen[m.ID] || !m.IsReply() {
			seen[m.ID] = true
			continue
		}
		seen[m.ID] = true
		byParent[*m.ReplyToID] = append(byParent[*m.ReplyToID], m)
	}
	for _, children := range byParent {
		sortChronological(children)
	}

	visited := map[string]bool{rootID: true}
	var build func(parentID string, depth int) []*Node
	build = func(parentID string, depth int) []*Node {
		children := byParent[parentID]
		nodes := make([]*Node, 0, len(children))
		for _, c := range children {
			if visited[c.ID] {
				continue
			}
			visited[c.ID] = true
			nodes = append(nodes, &Node{
				Molt:     c,
				Depth:    depth,
				Children: build(c.ID, depth+1),
			})
		}
		return nodes
	}
	return build(rootID, 0)
}

// Flatten walks the tree depth-first. Nodes at maxDepth are emitted without
// their replies.
func Flatten(nodes []*Node, maxDepth int) []FlatNode {
	var out []FlatNode
	var walk func(n *Node)
	walk = func(n *Node) {
		depth := n.Depth
		if depth > maxDepth {
			depth = maxDepth
		}
		out = append(out, FlatNode{
			Molt:    n.Molt,
			Depth:   depth,
			HasMore: n.Depth >= maxDepth && len(n.Children) > 0,
		})
		if n.Depth < maxDepth {
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	if out == nil {
		out = []FlatNode{}
	}
	return out
}

func sortChronological(molts []models.Molt) {
	sort.SliceStable(molts, func(i, j int) bool {
		if molts[i].CreatedAt.Equal(molts[j].CreatedAt) {
			return molts[i].ID < molts[j].ID
		}
		return molts[i].CreatedAt.Before(molts[j].CreatedAt)
	})
}

// CountDescendants returns, for every molt in links, the number of molts
// below it. A link whose parent is absent starts a new subtree, so replies
// under a deleted molt are not credited to the molts above it.
func CountDescendants(links []models.ReplyLink) map[string]int {
	present := make(map[string]bool, len(links))
	for _, l := range links {
		present[l.ID] = true
	}
	children := make(map[string][]string)
	var roots []string
	for _, l := range links {
		if l.ReplyToID != "" && present[l.ReplyToID] && l.ReplyToID != l.ID {
			children[l.ReplyToID] = append(children[l.ReplyToID], l.ID)
		} else {
			roots = append(roots, l.ID)
		}
	}

	counts := make(map[string]int, len(links))
	done := make(map[string]bool, len(links))
	// Iterative post-order so deep chains do not grow the stack.
	type frame struct {
		id       string
		expanded bool
	}
	for _, root := range roots {
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if done[top.id] {
				stack = stack[:len(stack)-1]
				continue
			}
			if !top.expanded {
				top.expanded = true
				for _, c := range children[top.id] {
					if !done[c] {
						stack = append(stack, frame{id: c})
					}
				}
				continue
			}
			id := top.id
			stack = stack[:len(stack)-1]
			total := 0
			for _, c := range children[id] {
				total += 1 + counts[c]
			}
			counts[id] = total
			done[id] = true
		}
	}
	// Molts on a parent cycle are never reached from a root.
	for _, l := range links {
		if _, ok := counts[l.ID]; !ok {
			counts[l.ID] = 0
		}
	}
	return counts
}
