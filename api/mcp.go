package api

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/corpus/kit"
)

// RegisterMCP registers the corpus tools on an MCP server, mirroring the
// HTTP surface for agent consumers.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerNextFileTool(srv)
	s.registerQueueStatsTool(srv)
	s.registerRunCycleTool(srv)
	if s.searchIdx != nil {
		s.registerSearchTool(srv)
	}
}

func (s *Server) registerNextFileTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "corpus_next_file",
		Description: "Peek at the highest-priority file waiting for ingestion. Does not claim it.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := kit.Endpoint(func(ctx context.Context, _ any) (any, error) {
		rec, err := s.queue.Next(ctx)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return map[string]any{"empty": true}, nil
		}
		rec.RawText = ""
		return rec, nil
	})

	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decodeEmpty)
}

func (s *Server) registerQueueStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "corpus_queue_stats",
		Description: "Per-status file counts, queue depth, and worker pool counters.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := kit.Endpoint(func(ctx context.Context, _ any) (any, error) {
		counts, err := s.queue.StatusCounts(ctx)
		if err != nil {
			return nil, err
		}
		queued := 0
		for status, n := range counts {
			if status.Queueable() {
				queued += n
			}
		}
		return queueStatsResponse{Statuses: counts, Queued: queued, Pool: s.pool.Stats()}, nil
	})

	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decodeEmpty)
}

func (s *Server) registerRunCycleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "corpus_run_cycle",
		Description: "Trigger a reconciliation cycle now instead of waiting for the interval. Fails if one is already in flight.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := kit.Endpoint(func(ctx context.Context, _ any) (any, error) {
		return s.cycles.RunOnce(ctx)
	})

	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decodeEmpty)
}

func (s *Server) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "corpus_search",
		Description: "Embed a query and return the most similar ingested chunks.",
		InputSchema: kit.InputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "text to search for"},
			"limit": map[string]any{"type": "integer", "description": "max results, default 10"},
		}, []string{"query"}),
	}

	decode := func(req *mcp.CallToolRequest) (any, error) {
		var r searchRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return r, nil
	}

	endpoint := kit.Endpoint(func(ctx context.Context, in any) (any, error) {
		return s.search(ctx, in.(searchRequest))
	})

	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decode)
}

func decodeEmpty(*mcp.CallToolRequest) (any, error) { return nil, nil }
