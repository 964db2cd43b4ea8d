package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ragdesk/ragdesk/pkg/models"
)

// Tool argument structs.

type cachedAnswerArgs struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type statsArgs struct {
	Limit int `json:"limit"`
}

type retrieveArgs struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

const defaultStatsLimit = 20

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"ragdesk_cached_answer": handleCachedAnswer,
	"ragdesk_stats":         handleStats,
	"ragdesk_cache_stats":   handleCacheStats,
	"ragdesk_retrieve":      handleRetrieve,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "ragdesk_cached_answer",
		Description: "Look up the cached answer for a question without generating a new one.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"prompt"},
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "The question as it was asked",
				},
				"model": map[string]any{
					"type":        "string",
					"description": "Model identifier (optional, defaults to the configured text model)",
				},
			},
		},
	},
	{
		Name:        "ragdesk_stats",
		Description: "Show per-model latency summary and the most recent stat records.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Number of recent records to list (default 20)",
				},
			},
		},
	},
	{
		Name:        "ragdesk_cache_stats",
		Description: "Show response cache statistics: entries, in-flight generations, hits, misses, hit rate.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "ragdesk_retrieve",
		Description: "Return the indexed document chunks nearest to a query.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Text to search for",
				},
				"k": map[string]any{
					"type":        "integer",
					"description": "Number of chunks (optional, defaults to the configured top-k)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleCachedAnswer(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.deps.Answers == nil {
		return textResult("Cache is not configured.")
	}
	var args cachedAnswerArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Prompt == "" {
		return errorResult("prompt is required")
	}
	model := args.Model
	if model == "" {
		model = s.deps.DefaultModel
	}

	state, err := s.deps.Answers.Cached(args.Prompt, model)
	if err != nil {
		return errorResult("Error reading cache: " + err.Error())
	}
	switch state.Status {
	case models.CacheCompleted:
		return textResult(state.Response)
	case models.CacheInProgress:
		return textResult("An answer is being generated for this question.")
	default:
		return textResult("No cached answer for this question.")
	}
}

func handleStats(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.deps.Stats == nil {
		return textResult("Stats log is not configured.")
	}
	var args statsArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Limit <= 0 {
		args.Limit = defaultStatsLimit
	}

	summary, err := s.deps.Stats.Summary(ctx)
	if err != nil {
		return errorResult("Error fetching stats: " + err.Error())
	}
	records, err := s.deps.Stats.List(ctx, args.Limit)
	if err != nil {
		return errorResult("Error fetching stats: " + err.Error())
	}
	return textResult(formatStatSummary(summary) + "\n" + formatStatRecords(records))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.deps.Cache == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(s.deps.Cache.Stats()))
}

func handleRetrieve(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.deps.Search == nil {
		return textResult("Retrieval is not configured.")
	}
	var args retrieveArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Query == "" {
		return errorResult("query is required")
	}

	chunks, err := s.deps.Search.Search(ctx, args.Query, args.K)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errorResult("Search cancelled.")
		}
		return errorResult("Error searching index: " + err.Error())
	}
	return textResult(formatChunks(chunks))
}
