package mcpserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/service"
)

const (
	serverName    = "docqa"
	serverVersion = "0.1.0"
	mcpUserID     = "mcp"
)

type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]model.SearchResult, error)
}

type Asker interface {
	CreateSession(ctx context.Context, userID, title string) (*model.ChatSession, error)
	Ask(ctx context.Context, userID string, sessionID int64, question, modelName string, k int) (*service.Answer, error)
}

// Server exposes retrieval and question answering as MCP tools.
type Server struct {
	search Searcher
	chat   Asker
	server *mcp.Server
}

// New builds the server. chat may be nil, in which case only search is
// registered.
func New(search Searcher, chat Asker) (*Server, error) {
	if search == nil {
		return nil, errors.New("search service is required")
	}
	s := &Server{
		search: search,
		chat:   chat,
		server: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
