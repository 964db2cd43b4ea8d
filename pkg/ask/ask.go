// Package ask runs the question flow: cache lookup, context retrieval,
// generation on a bounded worker pool, then caching and stats.
package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ragdesk/ragdesk/pkg/cache"
	"github.com/ragdesk/ragdesk/pkg/gateway"
	"github.com/ragdesk/ragdesk/pkg/models"
	"github.com/ragdesk/ragdesk/pkg/render"
	"github.com/ragdesk/ragdesk/pkg/stats"
)

var (
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrEmptyModel  = errors.New("model is empty")
)

// LoadingAnswer is returned while another request generates the same key.
const LoadingAnswer = "Loading..."

// DefaultImagePrompt is used when an image is analysed without a prompt.
const DefaultImagePrompt = "Describe this image."

const systemPreamble = "The following context may be helpful for answering the question:\n\n"

// Outcome tells how a request was answered.
type Outcome int

const (
	Generated Outcome = iota
	CacheHit
	InProgress
)

func (o Outcome) String() string {
	switch o {
	case CacheHit:
		return "cache_hit"
	case InProgress:
		return "in_progress"
	default:
		return "generated"
	}
}

// ContextRetriever builds retrieval context for a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, k int, adhoc string) string
}

// Request is a question for a text model.
type Request struct {
	Prompt string
	Model  string
	// Attachment is the extracted text of a document sent with this question
	// only. It is searched alongside the persisted index.
	Attachment string
}

// ImageRequest asks an image model about one or more base64-encoded images.
type ImageRequest struct {
	Prompt string
	Model  string
	Images []string
}

// Result describes the answer to a request.
type Result struct {
	Model    string
	Answer   string
	Duration time.Duration
	Outcome  Outcome
}

// Response converts r to the JSON shape returned to HTTP clients.
func (r Result) Response() models.AskResponse {
	return models.AskResponse{
		Model:  r.Model,
		Answer: r.Answer,
		TimeMs: r.Duration.Milliseconds(),
		Cached: r.Outcome == CacheHit,
	}
}

// Options configures an Orchestrator.
type Options struct {
	// Workers bounds concurrent generations. Defaults to 3.
	Workers int
	// Render transforms completed answers before caching. Defaults to
	// render.Identity.
	Render render.Func
}

// Orchestrator answers questions. It is safe for concurrent use.
type Orchestrator struct {
	cache     *cache.Cache
	retriever ContextRetriever
	gateway   gateway.Gateway
	stats     stats.Log
	render    render.Func
	pool      *semaphore.Weighted
}

// New creates an Orchestrator. retriever and statsLog may be nil.
func New(c *cache.Cache, retriever ContextRetriever, gw gateway.Gateway, statsLog stats.Log, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.Render == nil {
		opts.Render = render.Identity
	}
	return &Orchestrator{
		cache:     c,
		retriever: retriever,
		gateway:   gw,
		stats:     statsLog,
		render:    opts.Render,
		pool:      semaphore.NewWeighted(int64(opts.Workers)),
	}
}

// Cached returns the cached state for a question without generating.
func (o *Orchestrator) Cached(prompt, model string) (models.CacheState, error) {
	key, err := keyFor(prompt, model)
	if err != nil {
		return models.CacheState{}, err
	}
	return o.cache.Get(key), nil
}

// Ask answers req, generating with a single blocking backend call if the
// answer is neither cached nor being generated.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (Result, error) {
	key, res, won, err := o.begin(req)
	if err != nil || !won {
		return res, err
	}
	log := slog.With("model", key.Model)

	release, err := o.acquire(ctx, key)
	if err != nil {
		return res, err
	}
	defer release()

	contextText := o.retrieve(ctx, req)
	prompt := "Context:\n" + contextText + "\n\nQuestion: " + key.Prompt + "\n\nAnswer:"

	start := time.Now()
	answer, err := o.gateway.Generate(ctx, key.Model, prompt)
	elapsed := time.Since(start)
	if err != nil {
		o.cache.Fail(key)
		log.Warn("generation failed", "err", err)
		return res, fmt.Errorf("generate: %w", err)
	}

	res.Answer = o.complete(key, answer)
	res.Duration = elapsed
	o.record(ctx, models.StatRecord{
		Question:       key.Prompt,
		Model:          key.Model,
		ResponseTimeMs: elapsed.Milliseconds(),
		Source:         models.SourceText,
	})
	log.Info("answer generated", "duration_ms", elapsed.Milliseconds())
	return res, nil
}

// AskStream answers req like Ask, but streams the answer through emit as
// fragments arrive. emit is only called when this request generates; cache
// hits and in-progress results are returned without streaming. If the
// stream fails or emit returns an error, nothing is cached and the key may be
// retried.
func (o *Orchestrator) AskStream(ctx context.Context, req Request, emit func(string) error) (Result, error) {
	key, res, won, err := o.begin(req)
	if err != nil || !won {
		return res, err
	}
	log := slog.With("model", key.Model)

	release, err := o.acquire(ctx, key)
	if err != nil {
		return res, err
	}
	defer release()

	contextText := o.retrieve(ctx, req)
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: systemPreamble + contextText},
		{Role: models.RoleUser, Content: key.Prompt},
	}

	// Stop the backend stream if we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	answer, err := o.consume(ctx, func() (<-chan models.Fragment, error) {
		return o.gateway.Chat(ctx, key.Model, messages)
	}, emit)
	elapsed := time.Since(start)
	if err != nil {
		o.cache.Fail(key)
		log.Warn("streaming generation failed", "err", err, "received", len(answer))
		return res, err
	}

	res.Answer = o.complete(key, answer)
	res.Duration = elapsed
	o.record(ctx, models.StatRecord{
		Question:       key.Prompt,
		Model:          key.Model,
		ResponseTimeMs: elapsed.Milliseconds(),
		Source:         models.SourceText,
	})
	log.Info("streamed answer generated", "duration_ms", elapsed.Milliseconds())
	return res, nil
}

// AnalyzeImage streams an image model's answer through emit. Image answers
// are not cached; a successful run is recorded in the stats log.
func (o *Orchestrator) AnalyzeImage(ctx context.Context, req ImageRequest, emit func(string) error) (Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = DefaultImagePrompt
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return Result{}, ErrEmptyModel
	}
	if len(req.Images) == 0 {
		return Result{}, errors.New("no image supplied")
	}
	res := Result{Model: model, Outcome: Generated}

	if err := o.pool.Acquire(ctx, 1); err != nil {
		return res, fmt.Errorf("wait for worker: %w", err)
	}
	defer o.pool.Release(1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	answer, err := o.consume(ctx, func() (<-chan models.Fragment, error) {
		return o.gateway.GenerateImages(ctx, model, prompt, req.Images)
	}, emit)
	elapsed := time.Since(start)
	if err != nil {
		slog.Warn("image analysis failed", "model", model, "err", err)
		return res, err
	}

	res.Answer = answer
	res.Duration = elapsed
	o.record(ctx, models.StatRecord{
		Question:       prompt,
		Model:          model,
		ResponseTimeMs: elapsed.Milliseconds(),
		Source:         models.SourceImage,
	})
	return res, nil
}

// begin validates req and resolves the cache state. It reports whether the
// caller now owns generation for the key.
func (o *Orchestrator) begin(req Request) (models.CacheKey, Result, bool, error) {
	key, err := keyFor(req.Prompt, req.Model)
	if err != nil {
		return key, Result{Model: strings.TrimSpace(req.Model)}, false, err
	}
	res := Result{Model: key.Model}

	st := o.cache.Get(key)
	if st.Status == models.CacheAbsent && o.cache.TryBegin(key) {
		res.Outcome = Generated
		return key, res, true, nil
	}
	if st.Status == models.CacheAbsent {
		// Another request won the key between Get and TryBegin.
		st = o.cache.Get(key)
	}
	if st.Status == models.CacheCompleted {
		res.Outcome = CacheHit
		res.Answer = st.Response
		slog.Debug("cache hit", "model", key.Model)
	} else {
		res.Outcome = InProgress
		res.Answer = LoadingAnswer
		slog.Debug("generation already in progress", "model", key.Model)
	}
	return key, res, false, nil
}

func (o *Orchestrator) acquire(ctx context.Context, key models.CacheKey) (func(), error) {
	if err := o.pool.Acquire(ctx, 1); err != nil {
		o.cache.Fail(key)
		return nil, fmt.Errorf("wait for worker: %w", err)
	}
	return func() { o.pool.Release(1) }, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, req Request) string {
	if o.retriever == nil {
		return ""
	}
	return o.retriever.Retrieve(ctx, strings.TrimSpace(req.Prompt), 0, req.Attachment)
}

// consume opens a stream, forwards every fragment to emit and returns the
// concatenated content. A stream that closes without a done fragment is an
// error.
func (o *Orchestrator) consume(ctx context.Context, open func() (<-chan models.Fragment, error), emit func(string) error) (string, error) {
	ch, err := open()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for f := range ch {
		if f.Err != nil {
			return b.String(), f.Err
		}
		if f.Content != "" {
			b.WriteString(f.Content)
			if err := emit(f.Content); err != nil {
				return b.String(), fmt.Errorf("deliver fragment: %w", err)
			}
		}
		if f.Done {
			return b.String(), nil
		}
	}
	if err := ctx.Err(); err != nil {
		return b.String(), err
	}
	return b.String(), errors.New("stream ended before completion")
}

// complete renders and caches an answer, returning what was cached. A render
// failure caches the raw answer.
func (o *Orchestrator) complete(key models.CacheKey, answer string) string {
	out, err := o.render(answer)
	if err != nil {
		slog.Warn("render failed, caching raw answer", "err", err)
		out = answer
	}
	_ = o.cache.Complete(key, out)
	return out
}

func (o *Orchestrator) record(ctx context.Context, rec models.StatRecord) {
	if o.stats == nil {
		return
	}
	rec.Timestamp = time.Now()
	// The request context may already be cancelled after a completed stream.
	ok, err := o.stats.Append(context.WithoutCancel(ctx), rec)
	switch {
	case err != nil:
		slog.Warn("stats append failed", "model", rec.Model, "err", err)
	case !ok:
		slog.Info("duplicate stat ignored", "model", rec.Model, "source", rec.Source)
	}
}

func keyFor(prompt, model string) (models.CacheKey, error) {
	key := models.NewCacheKey(prompt, model)
	if key.Prompt == "" {
		return key, ErrEmptyPrompt
	}
	if key.Model == "" {
		return key, ErrEmptyModel
	}
	return key, nil
}
