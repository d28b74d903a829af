package mcpserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

type SearchInput struct {
	Query string `json:"query" jsonschema:"text to find related passages for"`
	K     int    `json:"k,omitempty" jsonschema:"number of passages to return (server default when omitted)"`
}

type SearchHit struct {
	ChunkID    int64   `json:"chunk_id"`
	SourceID   int64   `json:"source_id"`
	Content    string  `json:"content"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

type SearchOutput struct {
	Results []SearchHit `json:"results"`
	Count   int         `json:"count"`
}

type AskInput struct {
	Question  string `json:"question" jsonschema:"question to answer from the indexed sources"`
	SessionID int64  `json:"session_id,omitempty" jsonschema:"existing chat session to continue"`
	Model     string `json:"model,omitempty" jsonschema:"configured generator name or model to answer with"`
	K         int    `json:"k,omitempty" jsonschema:"number of passages used as context"`
}

type AskOutput struct {
	SessionID int64       `json:"session_id"`
	Answer    string      `json:"answer"`
	Model     string      `json:"model"`
	Sources   []SearchHit `json:"sources"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Find indexed passages closest to a query",
	}, s.handleSearch)
	if s.chat != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ask",
			Description: "Answer a question grounded on the indexed passages",
		}, s.handleAsk)
	}
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	results, err := s.search.Search(ctx, input.Query, input.K)
	if errors.Is(err, appErr.ErrNoResults) {
		return nil, SearchOutput{Results: []SearchHit{}}, nil
	}
	if err != nil {
		return nil, SearchOutput{}, err
	}
	out := SearchOutput{Results: make([]SearchHit, len(results)), Count: len(results)}
	for i, r := range results {
		out.Results[i] = SearchHit{
			ChunkID:    r.ChunkID,
			SourceID:   r.SourceID,
			Content:    r.Content,
			Distance:   r.Distance,
			Similarity: r.Similarity,
		}
	}
	return nil, out, nil
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	sessionID := input.SessionID
	if sessionID <= 0 {
		session, err := s.chat.CreateSession(ctx, mcpUserID, input.Question)
		if err != nil {
			return nil, AskOutput{}, err
		}
		sessionID = session.ID
	}
	answer, err := s.chat.Ask(ctx, mcpUserID, sessionID, input.Question, input.Model, input.K)
	if err != nil {
		return nil, AskOutput{}, err
	}
	out := AskOutput{
		SessionID: sessionID,
		Answer:    answer.Message.Answer,
		Model:     answer.Message.Model,
		Sources:   make([]SearchHit, len(answer.Sources)),
	}
	for i, r := range answer.Sources {
		out.Sources[i] = SearchHit{
			ChunkID:    r.ChunkID,
			SourceID:   r.SourceID,
			Content:    r.Content,
			Distance:   r.Distance,
			Similarity: r.Similarity,
		}
	}
	return nil, out, nil
}
