package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ragdesk/ragdesk/pkg/models"
)

// fakeStats implements stats.Log for testing.
type fakeStats struct {
	records []models.StatRecord
	summary []models.StatSummary
	err     error
}

func (f *fakeStats) Append(_ context.Context, _ models.StatRecord) (bool, error) { return true, nil }
func (f *fakeStats) List(_ context.Context, limit int) ([]models.StatRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}
func (f *fakeStats) Summary(_ context.Context) ([]models.StatSummary, error) {
	return f.summary, f.err
}
func (f *fakeStats) Dedupe(_ context.Context) (int, error) { return 0, nil }
func (f *fakeStats) Close() error                          { return nil }

// fakeCache implements CacheStatter and AnswerLookup for testing.
type fakeCache struct {
	stats   models.CacheStats
	entries map[models.CacheKey]models.CacheState
}

func (f *fakeCache) Stats() models.CacheStats { return f.stats }

func (f *fakeCache) Cached(prompt, model string) (models.CacheState, error) {
	if model == "" {
		return models.CacheState{}, errors.New("model must not be empty")
	}
	return f.entries[models.NewCacheKey(prompt, model)], nil
}

type fakeSearch struct {
	chunks []string
	gotK   int
}

func (f *fakeSearch) Search(_ context.Context, _ string, k int) ([]string, error) {
	f.gotK = k
	return f.chunks, nil
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	p := ToolCallParams{Name: name}
	if args != "" {
		p.Arguments = json.RawMessage(args)
	}
	params, _ := json.Marshal(p)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`3`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(Deps{}, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "ragdesk" {
		t.Errorf("server name = %s, want ragdesk", result.ServerInfo.Name)
	}
	if result.ServerInfo.Version != "test" {
		t.Errorf("server version = %s, want test", result.ServerInfo.Version)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(Deps{}, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("listed tool %s has no handler", tool.Name)
		}
	}
}

func TestToolCallCachedAnswer(t *testing.T) {
	cache := &fakeCache{entries: map[models.CacheKey]models.CacheState{
		models.NewCacheKey("What is the capital of France?", "llama3"): {
			Status: models.CacheCompleted, Response: "Paris",
		},
		models.NewCacheKey("pending", "llama3"): {Status: models.CacheInProgress},
	}}
	srv := New(Deps{Answers: cache, DefaultModel: "llama3"}, "test")

	result := callTool(t, srv, "ragdesk_cached_answer", `{"prompt":"What is the capital of France?"}`)
	if result.IsError || result.Content[0].Text != "Paris" {
		t.Errorf("cached answer = %+v, want Paris", result)
	}

	result = callTool(t, srv, "ragdesk_cached_answer", `{"prompt":"pending","model":"llama3"}`)
	if !strings.Contains(result.Content[0].Text, "being generated") {
		t.Errorf("in-progress answer = %s", result.Content[0].Text)
	}

	result = callTool(t, srv, "ragdesk_cached_answer", `{"prompt":"never asked"}`)
	if !strings.Contains(result.Content[0].Text, "No cached answer") {
		t.Errorf("miss = %s", result.Content[0].Text)
	}
}

func TestToolCallCachedAnswerMissingPrompt(t *testing.T) {
	srv := New(Deps{Answers: &fakeCache{}, DefaultModel: "llama3"}, "test")

	result := callTool(t, srv, "ragdesk_cached_answer", `{}`)
	if !result.IsError {
		t.Error("expected isError=true for missing prompt")
	}
}

func TestToolCallStats(t *testing.T) {
	st := &fakeStats{
		summary: []models.StatSummary{
			{Model: "llama3", Source: models.SourceText, RequestCount: 2, AvgResponseMs: 1500, MaxResponseMs: 2000},
		},
		records: []models.StatRecord{
			{Question: "What is the capital of France?", Model: "llama3", ResponseTimeMs: 2000, Timestamp: time.Now()},
			{Question: "Where is Rome?", Model: "llama3", ResponseTimeMs: 1000, Timestamp: time.Now()},
		},
	}
	srv := New(Deps{Stats: st}, "test")

	result := callTool(t, srv, "ragdesk_stats", `{"limit":1}`)
	text := result.Content[0].Text
	if !strings.Contains(text, "1500.0") {
		t.Errorf("expected average in output, got: %s", text)
	}
	if !strings.Contains(text, "capital of France") || strings.Contains(text, "Rome") {
		t.Errorf("expected only the newest record, got: %s", text)
	}
}

func TestToolCallStatsError(t *testing.T) {
	srv := New(Deps{Stats: &fakeStats{err: errors.New("disk gone")}}, "test")

	result := callTool(t, srv, "ragdesk_stats", "")
	if !result.IsError || !strings.Contains(result.Content[0].Text, "disk gone") {
		t.Errorf("expected error result, got: %+v", result)
	}
}

func TestToolCallNotConfigured(t *testing.T) {
	srv := New(Deps{}, "test")

	for _, name := range []string{"ragdesk_cached_answer", "ragdesk_stats", "ragdesk_cache_stats", "ragdesk_retrieve"} {
		result := callTool(t, srv, name, `{}`)
		if !strings.Contains(result.Content[0].Text, "not configured") {
			t.Errorf("%s: expected 'not configured', got: %s", name, result.Content[0].Text)
		}
	}
}

func TestToolCallCacheStats(t *testing.T) {
	cache := &fakeCache{stats: models.CacheStats{Entries: 42, InProgress: 3, Hits: 10, Misses: 5}}
	srv := New(Deps{Cache: cache}, "test")

	text := callTool(t, srv, "ragdesk_cache_stats", "").Content[0].Text
	if !strings.Contains(text, "42") || !strings.Contains(text, "66.7%") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
	if !strings.Contains(text, "In progress: 3") {
		t.Errorf("expected in-progress count, got: %s", text)
	}
}

func TestToolCallRetrieve(t *testing.T) {
	search := &fakeSearch{chunks: []string{"Paris is the capital of France.", "The Seine flows through Paris."}}
	srv := New(Deps{Search: search}, "test")

	text := callTool(t, srv, "ragdesk_retrieve", `{"query":"capital of France","k":2}`).Content[0].Text
	if !strings.HasPrefix(text, "[1] Paris is the capital") {
		t.Errorf("unexpected retrieve output: %s", text)
	}
	if !strings.Contains(text, "[2] The Seine") {
		t.Errorf("expected second chunk, got: %s", text)
	}
	if search.gotK != 2 {
		t.Errorf("k = %d, want 2", search.gotK)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := New(Deps{}, "test")

	result := callTool(t, srv, "ragdesk_budget", "")
	if !result.IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New(Deps{}, "test")

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	srv := New(Deps{}, "test")

	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(Deps{}, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}
