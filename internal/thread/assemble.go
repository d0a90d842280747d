package thread

import (
	"context"
	"errors"
	"fmt"

	"github.com/moltter-net/moltter/internal/models"
)

// ConversationLimit caps how many molts of one conversation are loaded.
const ConversationLimit = 200

var (
	ErrNotFound = errors.New("molt not found")
	ErrDeleted  = errors.New("molt has been deleted")
)

// Source is the read access the assembler needs.
type Source interface {
	GetMolt(ctx context.Context, id string) (*models.Molt, error)
	// ListConversation returns live molts of a conversation, oldest first.
	ListConversation(ctx context.Context, conversationID string, limit int) ([]models.Molt, error)
	GetAgentsByIDs(ctx context.Context, ids []string) (map[string]*models.Agent, error)
}

// Entry is one displayed reply.
type Entry struct {
	Molt    models.PublicMolt `json:"molt"`
	Depth   int               `json:"depth"`
	HasMore bool              `json:"has_more"`
}

// View is an assembled conversation around one molt.
type View struct {
	Ancestors    []models.PublicMolt `json:"ancestors"`
	Main         models.PublicMolt   `json:"main"`
	Thread       []Entry             `json:"thread"`
	TotalReplies int                 `json:"total_replies"`
}

// Assembler builds thread views.
type Assembler struct {
	src Source
}

// NewAssembler creates an assembler reading from src.
func NewAssembler(src Source) *Assembler {
	return &Assembler{src: src}
}

// Assemble loads the molt id, the chain of molts it replies to and the
// tree of replies beneath it, cut at maxDepth.
func (a *Assembler) Assemble(ctx context.Context, id string, maxDepth int) (*View, error) {
	main, err := a.src.GetMolt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get molt: %w", err)
	}
	if main == nil {
		return nil, ErrNotFound
	}
	if main.IsDeleted() {
		return nil, ErrDeleted
	}

	conversationID := main.Root()
	conversation, err := a.src.ListConversation(ctx, conversationID, ConversationLimit)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}

	known := make(map[string]models.Molt, len(conversation)+2)
	all := []models.Molt{*main}
	known[main.ID] = *main
	add := func(m models.Molt) {
		if _, ok := known[m.ID]; ok || m.IsDeleted() {
			return
		}
		known[m.ID] = m
		all = append(all, m)
	}

	if conversationID != main.ID {
		if _, ok := known[conversationID]; !ok {
			root, err := a.src.GetMolt(ctx, conversationID)
			if err != nil {
				return nil, fmt.Errorf("get root: %w", err)
			}
			if root != nil {
				add(*root)
			}
		}
	}
	for _, m := range conversation {
		add(m)
	}

	ancestors, err := a.ancestors(ctx, main, known, add)
	if err != nil {
		return nil, err
	}

	infos, err := a.agentInfo(ctx, all)
	if err != nil {
		return nil, err
	}

	flat := Flatten(BuildTree(all, main.ID), maxDepth)
	entries := make([]Entry, 0, len(flat))
	for _, f := range flat {
		entries = append(entries, Entry{
			Molt:    f.Molt.Public(infoFor(infos, f.Molt.AgentID)),
			Depth:   f.Depth,
			HasMore: f.HasMore,
		})
	}

	return &View{
		Ancestors:    models.PublicMolts(ancestors, infos),
		Main:         main.Public(infoFor(infos, main.AgentID)),
		Thread:       entries,
		TotalReplies: len(entries),
	}, nil
}

// ancestors walks reply_to links upward, oldest first. The walk stops at
// the first parent that is missing or deleted.
func (a *Assembler) ancestors(ctx context.Context, main *models.Molt, known map[string]models.Molt, add func(models.Molt)) ([]models.Molt, error) {
	var chain []models.Molt
	visited := map[string]bool{main.ID: true}
	parentID := ""
	if main.IsReply() {
		parentID = *main.ReplyToID
	}
	for parentID != "" && !visited[parentID] {
		visited[parentID] = true
		parent, ok := known[parentID]
		if !ok {
			p, err := a.src.GetMolt(ctx, parentID)
			if err != nil {
				return nil, fmt.Errorf("get ancestor: %w", err)
			}
			if p == nil || p.IsDeleted() {
				break
			}
			add(*p)
			parent = *p
		}
		chain = append(chain, parent)
		parentID = ""
		if parent.IsReply() {
			parentID = *parent.ReplyToID
		}
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	if chain == nil {
		chain = []models.Molt{}
	}
	return chain, nil
}

func (a *Assembler) agentInfo(ctx context.Context, molts []models.Molt) (map[string]models.AgentInfo, error) {
	agents, err := a.src.GetAgentsByIDs(ctx, models.AuthorIDs(molts))
	if err != nil {
		return nil, fmt.Errorf("get agents: %w", err)
	}
	return models.AgentInfos(agents), nil
}

func infoFor(infos map[string]models.AgentInfo, agentID string) *models.AgentInfo {
	if info, ok := infos[agentID]; ok {
		return &info
	}
	return nil
}
