package ask

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdesk/ragdesk/pkg/cache"
	"github.com/ragdesk/ragdesk/pkg/cache/jsonfile"
	"github.com/ragdesk/ragdesk/pkg/models"
	statsjson "github.com/ragdesk/ragdesk/pkg/stats/jsonfile"
)

type fakeGateway struct {
	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
	prompts   []string
	messages  [][]models.ChatMessage

	answer    string
	errs      []error // consumed one per call
	fragments []models.Fragment
	entered   chan struct{}
	block     chan struct{}
}

func (g *fakeGateway) enter() error {
	g.mu.Lock()
	g.calls++
	g.active++
	g.maxActive = max(g.maxActive, g.active)
	var err error
	if len(g.errs) > 0 {
		err, g.errs = g.errs[0], g.errs[1:]
	}
	g.mu.Unlock()

	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.block != nil {
		<-g.block
	}
	return err
}

func (g *fakeGateway) leave() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
}

func (g *fakeGateway) Generate(_ context.Context, _ string, prompt string) (string, error) {
	defer g.leave()
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if err := g.enter(); err != nil {
		return "", err
	}
	return g.answer, nil
}

func (g *fakeGateway) Chat(_ context.Context, _ string, messages []models.ChatMessage) (<-chan models.Fragment, error) {
	defer g.leave()
	g.mu.Lock()
	g.messages = append(g.messages, messages)
	g.mu.Unlock()
	if err := g.enter(); err != nil {
		return nil, err
	}
	return g.stream(), nil
}

func (g *fakeGateway) GenerateImages(_ context.Context, _ string, prompt string, _ []string) (<-chan models.Fragment, error) {
	defer g.leave()
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if err := g.enter(); err != nil {
		return nil, err
	}
	return g.stream(), nil
}

func (g *fakeGateway) stream() <-chan models.Fragment {
	ch := make(chan models.Fragment, len(g.fragments))
	for _, f := range g.fragments {
		ch <- f
	}
	close(ch)
	return ch
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeRetriever struct{ text string }

func (r fakeRetriever) Retrieve(context.Context, string, int, string) string { return r.text }

type harness struct {
	orch  *Orchestrator
	gw    *fakeGateway
	cache *cache.Cache
	stats *statsjson.Log
}

func newHarness(t *testing.T, gw *fakeGateway, opts Options) *harness {
	t.Helper()
	dir := t.TempDir()
	c := cache.New(jsonfile.New(filepath.Join(dir, "query_cache.json")))
	s := statsjson.Open(filepath.Join(dir, "stats.json"))
	return &harness{
		orch:  New(c, fakeRetriever{text: "A river runs through Paris."}, gw, s, opts),
		gw:    gw,
		cache: c,
		stats: s,
	}
}

func (h *harness) statCount(t *testing.T) int {
	t.Helper()
	recs, err := h.stats.List(context.Background(), 0)
	require.NoError(t, err)
	return len(recs)
}

func collectEmit() (*strings.Builder, func(string) error) {
	var b strings.Builder
	return &b, func(s string) error {
		b.WriteString(s)
		return nil
	}
}

func TestAskThenCacheHit(t *testing.T) {
	h := newHarness(t, &fakeGateway{answer: "Paris"}, Options{})
	req := Request{Prompt: "What is the capital of France?", Model: "llama3"}

	first, err := h.orch.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Paris", first.Answer)
	assert.Equal(t, Generated, first.Outcome)
	assert.Equal(t, 1, h.gw.callCount())

	second, err := h.orch.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Paris", second.Answer)
	assert.Equal(t, CacheHit, second.Outcome)
	assert.Zero(t, second.Duration)
	assert.Equal(t, 1, h.gw.callCount(), "cached answer must not call the backend")
	assert.True(t, second.Response().Cached)

	assert.Equal(t, 1, h.statCount(t))
}

func TestAskIncludesContext(t *testing.T) {
	h := newHarness(t, &fakeGateway{answer: "Paris"}, Options{})
	_, err := h.orch.Ask(context.Background(), Request{Prompt: "  capital of France  ", Model: "llama3"})
	require.NoError(t, err)

	require.Len(t, h.gw.prompts, 1)
	assert.Equal(t, "Context:\nA river runs through Paris.\n\nQuestion: capital of France\n\nAnswer:", h.gw.prompts[0])
}

func TestAskAtMostOneInflight(t *testing.T) {
	gw := &fakeGateway{answer: "Paris", entered: make(chan struct{}, 1), block: make(chan struct{})}
	h := newHarness(t, gw, Options{})
	req := Request{Prompt: "same", Model: "llama3"}

	const n = 20
	results := make(chan Result, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.Ask(context.Background(), req)
			assert.NoError(t, err)
			results <- res
		}()
	}

	<-gw.entered
	close(gw.block)
	wg.Wait()
	close(results)

	counts := map[Outcome]int{}
	for r := range results {
		counts[r.Outcome]++
		if r.Outcome == InProgress {
			assert.Equal(t, LoadingAnswer, r.Answer)
		}
	}
	assert.Equal(t, 1, gw.callCount())
	assert.Equal(t, 1, counts[Generated])
	assert.Equal(t, n-1, counts[InProgress]+counts[CacheHit])
}

func TestAskRetryAfterFailure(t *testing.T) {
	gw := &fakeGateway{answer: "Paris", errs: []error{errors.New("connection refused")}}
	h := newHarness(t, gw, Options{})
	req := Request{Prompt: "What is the capital of France?", Model: "llama3"}

	_, err := h.orch.Ask(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 0, h.statCount(t), "failures are not recorded")

	st, err := h.orch.Cached(req.Prompt, req.Model)
	require.NoError(t, err)
	assert.Equal(t, models.CacheAbsent, st.Status)

	res, err := h.orch.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Paris", res.Answer)
	assert.Equal(t, 2, gw.callCount())
}

func TestAskValidation(t *testing.T) {
	h := newHarness(t, &fakeGateway{}, Options{})
	_, err := h.orch.Ask(context.Background(), Request{Prompt: "  ", Model: "llama3"})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	_, err = h.orch.Ask(context.Background(), Request{Prompt: "q"})
	assert.ErrorIs(t, err, ErrEmptyModel)
	assert.Equal(t, 0, h.gw.callCount())
}

func TestAskRendersBeforeCaching(t *testing.T) {
	upper := func(s string) (string, error) { return strings.ToUpper(s), nil }
	h := newHarness(t, &fakeGateway{answer: "paris"}, Options{Render: upper})
	req := Request{Prompt: "q", Model: "llama3"}

	res, err := h.orch.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "PARIS", res.Answer)

	st, _ := h.orch.Cached("q", "llama3")
	assert.Equal(t, "PARIS", st.Response)
}

func TestAskStream(t *testing.T) {
	gw := &fakeGateway{fragments: []models.Fragment{{Content: "Par"}, {Content: "is"}, {Done: true}}}
	h := newHarness(t, gw, Options{})
	req := Request{Prompt: "What is the capital of France?", Model: "llama3"}

	out, emit := collectEmit()
	res, err := h.orch.AskStream(context.Background(), req, emit)
	require.NoError(t, err)
	assert.Equal(t, "Paris", out.String())
	assert.Equal(t, "Paris", res.Answer)

	require.Len(t, gw.messages, 1)
	msgs := gw.messages[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Equal(t, systemPreamble+"A river runs through Paris.", msgs[0].Content)
	assert.Equal(t, models.ChatMessage{Role: models.RoleUser, Content: req.Prompt}, msgs[1])

	recs, _ := h.stats.List(context.Background(), 0)
	require.Len(t, recs, 1)
	assert.Equal(t, models.SourceText, recs[0].Source)

	out2, emit2 := collectEmit()
	res, err = h.orch.AskStream(context.Background(), req, emit2)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, res.Outcome)
	assert.Equal(t, "Paris", res.Answer)
	assert.Empty(t, out2.String(), "cache hits are not streamed")
}

func TestAskStreamFailureClearsMarker(t *testing.T) {
	gw := &fakeGateway{fragments: []models.Fragment{{Content: "Par"}, {Err: errors.New("backend died")}}}
	h := newHarness(t, gw, Options{})
	req := Request{Prompt: "q", Model: "llama3"}

	out, emit := collectEmit()
	_, err := h.orch.AskStream(context.Background(), req, emit)
	require.Error(t, err)
	assert.Equal(t, "Par", out.String())

	st, _ := h.orch.Cached("q", "llama3")
	assert.Equal(t, models.CacheAbsent, st.Status)
	assert.Equal(t, 0, h.statCount(t))
}

func TestAskStreamTruncatedIsFailure(t *testing.T) {
	gw := &fakeGateway{fragments: []models.Fragment{{Content: "partial"}}}
	h := newHarness(t, gw, Options{})

	_, emit := collectEmit()
	_, err := h.orch.AskStream(context.Background(), Request{Prompt: "q", Model: "m"}, emit)
	require.Error(t, err)
	st, _ := h.orch.Cached("q", "m")
	assert.Equal(t, models.CacheAbsent, st.Status)
}

func TestAskStreamClientGone(t *testing.T) {
	gw := &fakeGateway{fragments: []models.Fragment{{Content: "a"}, {Content: "b"}, {Done: true}}}
	h := newHarness(t, gw, Options{})

	_, err := h.orch.AskStream(context.Background(), Request{Prompt: "q", Model: "m"}, func(string) error {
		return errors.New("broken pipe")
	})
	require.Error(t, err)
	st, _ := h.orch.Cached("q", "m")
	assert.Equal(t, models.CacheAbsent, st.Status)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	gw := &fakeGateway{answer: "ok", entered: make(chan struct{}, 10), block: make(chan struct{})}
	h := newHarness(t, gw, Options{Workers: 2})

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Ask(context.Background(), Request{Prompt: string(rune('a' + i)), Model: "m"})
			assert.NoError(t, err)
		}()
	}

	<-gw.entered
	<-gw.entered
	select {
	case <-gw.entered:
		t.Fatal("third generation started while pool was full")
	case <-time.After(50 * time.Millisecond):
	}
	close(gw.block)
	wg.Wait()

	assert.Equal(t, 5, gw.callCount())
	assert.LessOrEqual(t, gw.maxActive, 2)
}

func TestCancelledWhileQueuedReleasesKey(t *testing.T) {
	gw := &fakeGateway{answer: "ok", entered: make(chan struct{}, 1), block: make(chan struct{})}
	h := newHarness(t, gw, Options{Workers: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.orch.Ask(context.Background(), Request{Prompt: "first", Model: "m"})
	}()
	<-gw.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.orch.Ask(ctx, Request{Prompt: "queued", Model: "m"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	st, _ := h.orch.Cached("queued", "m")
	assert.Equal(t, models.CacheAbsent, st.Status)

	close(gw.block)
	<-done
}

func TestAnalyzeImage(t *testing.T) {
	gw := &fakeGateway{fragments: []models.Fragment{{Content: "A cat"}, {Done: true}}}
	h := newHarness(t, gw, Options{})

	out, emit := collectEmit()
	res, err := h.orch.AnalyzeImage(context.Background(), ImageRequest{Model: "bakllava", Images: []string{"aGVsbG8="}}, emit)
	require.NoError(t, err)
	assert.Equal(t, "A cat", out.String())
	assert.Equal(t, "A cat", res.Answer)
	assert.Equal(t, []string{DefaultImagePrompt}, gw.prompts)

	recs, _ := h.stats.List(context.Background(), 0)
	require.Len(t, recs, 1)
	assert.Equal(t, models.SourceImage, recs[0].Source)
	assert.Equal(t, int64(0), h.cache.Stats().Entries, "image answers are not cached")

	_, err = h.orch.AnalyzeImage(context.Background(), ImageRequest{Model: "bakllava"}, emit)
	assert.Error(t, err)
}
