// Package mcp serves read-only ragdesk tools over the Model Context Protocol
// (JSON-RPC 2.0, one message per line on stdio).
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/ragdesk/ragdesk/pkg/models"
	"github.com/ragdesk/ragdesk/pkg/stats"
)

// AnswerLookup reads cached answers without generating.
type AnswerLookup interface {
	Cached(prompt, model string) (models.CacheState, error)
}

// CacheStatter provides cache statistics.
type CacheStatter interface {
	Stats() models.CacheStats
}

// ContextSearcher finds indexed chunks for a query.
type ContextSearcher interface {
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// Deps are the components tools read from. Any of them may be nil, in which
// case the matching tool reports that it is not configured.
type Deps struct {
	Answers      AnswerLookup
	Stats        stats.Log
	Cache        CacheStatter
	Search       ContextSearcher
	DefaultModel string
}

// Server is a minimal MCP server.
type Server struct {
	deps    Deps
	version string
}

// New creates a new MCP Server.
func New(deps Deps, version string) *Server {
	return &Server{deps: deps, version: version}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "ragdesk", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
			Instructions:    "Read cached answers, stats and indexed context from a ragdesk data directory.",
		})
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		if len(req.ID) == 0 {
			return nil // notifications get no response
		}
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("mcp: marshal response", "err", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		slog.Error("mcp: write response", "err", err)
	}
}
