// Package executor runs batches of chat-completion requests concurrently and
// returns their results in submission order.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coastalcabana/gptbatch/pkg/budget"
	cachepkg "github.com/coastalcabana/gptbatch/pkg/cache/sqlite"
	"github.com/coastalcabana/gptbatch/pkg/clean"
	"github.com/coastalcabana/gptbatch/pkg/client"
	"github.com/coastalcabana/gptbatch/pkg/jsonrepair"
	"github.com/coastalcabana/gptbatch/pkg/metrics"
	"github.com/coastalcabana/gptbatch/pkg/models"
	"github.com/coastalcabana/gptbatch/pkg/pricing"
	"github.com/coastalcabana/gptbatch/pkg/retry"
	"github.com/coastalcabana/gptbatch/pkg/structured"
	"github.com/coastalcabana/gptbatch/pkg/tracker"
)

// Executor dispatches requests to a Completer with retries, structured-output
// repair and cost accounting. It is safe for concurrent use.
type Executor struct {
	client   client.Completer
	prices   *pricing.Table
	policy   retry.Policy
	logger   *zap.Logger
	recorder tracker.Tracker
	cache    *cachepkg.Cache
	budget   *budget.Enforcer
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithPolicy overrides retry.DefaultPolicy.
func WithPolicy(p retry.Policy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithRecorder stores usage and batch summaries in t.
func WithRecorder(t tracker.Tracker) Option {
	return func(e *Executor) { e.recorder = t }
}

// WithCache serves repeated requests from c.
func WithCache(c *cachepkg.Cache) Option {
	return func(e *Executor) { e.cache = c }
}

// WithBudget rejects requests from callers over their spend limit.
func WithBudget(b *budget.Enforcer) Option {
	return func(e *Executor) { e.budget = b }
}

// WithMetrics records request outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an Executor that prices responses with prices.
func New(c client.Completer, prices *pricing.Table, opts ...Option) *Executor {
	e := &Executor{
		client: c,
		prices: prices,
		policy: retry.DefaultPolicy(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type job struct {
	caller  string
	batchID string
	index   int
	spec    models.RequestSpec
}

// Execute runs every spec concurrently and waits for all of them. The result
// has one slot per spec, in order; a failed request only fails its own slot.
// The returned error is non-nil only when a response named a model missing
// from the price table, and the batch is fully populated in that case too.
func (e *Executor) Execute(ctx context.Context, caller string, specs ...models.RequestSpec) (*models.BatchResult, error) {
	batch := &models.BatchResult{
		ID:      uuid.NewString(),
		Caller:  caller,
		Results: make([]models.Result, len(specs)),
	}
	for i := range batch.Results {
		batch.Results[i] = models.Result{Index: i, Status: models.StatusPending}
	}

	logger := e.logger.With(zap.String("caller", caller), zap.String("batch_id", batch.ID))
	logger.Info("batch started", zap.Int("requests", len(specs)))
	started := e.now()

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch.Results[i], _ = e.call(ctx, job{caller: caller, batchID: batch.ID, index: i, spec: spec}, logger)
		}()
	}
	wg.Wait()

	var fatal []error
	for _, r := range batch.Results {
		switch r.Status {
		case models.StatusSucceeded:
			batch.TotalCost += r.Cost
		case models.StatusFailed:
			if errors.Is(r.Err, pricing.ErrUnknownModel) {
				fatal = append(fatal, fmt.Errorf("request %d: %w", r.Index, r.Err))
			}
		}
	}

	failed := batch.Failed()
	logger.Info("batch finished",
		zap.Int("requests", len(specs)),
		zap.Int("failed", failed),
		zap.Float64("total_cost", batch.TotalCost),
		zap.Duration("elapsed", e.now().Sub(started)))

	if e.recorder != nil {
		err := e.recorder.RecordBatch(ctx, models.BatchSummary{
			ID:           batch.ID,
			Caller:       caller,
			StartedAt:    started.UTC(),
			FinishedAt:   e.now().UTC(),
			RequestCount: len(specs),
			FailedCount:  failed,
			TotalCost:    batch.TotalCost,
		})
		if err != nil {
			logger.Warn("failed to record batch", zap.Error(err))
		}
	}

	return batch, errors.Join(fatal...)
}

// Call runs one request with retries and returns its result tagged with
// index. Unlike Execute it returns the final error once retries are
// exhausted; the result is marked failed in that case.
func (e *Executor) Call(ctx context.Context, spec models.RequestSpec, index int) (models.Result, error) {
	return e.call(ctx, job{index: index, spec: spec}, e.logger)
}

func (e *Executor) call(ctx context.Context, j job, logger *zap.Logger) (res models.Result, err error) {
	logger = logger.With(zap.Int("index", j.index))
	res = models.Result{Index: j.index, Status: models.StatusPending, Model: requestModel(j.spec)}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			res.Status = models.StatusFailed
			res.Err = err
			logger.Error("request failed", zap.Int("attempts", res.Attempts), zap.Error(err))
		} else {
			res.Status = models.StatusSucceeded
		}
		e.metrics.ObserveResult(res, time.Since(start))
	}()

	if err := j.spec.Validate(); err != nil {
		return res, fmt.Errorf("invalid request: %w", err)
	}
	if e.budget != nil {
		if err := e.budget.Check(ctx, j.caller); err != nil {
			return res, err
		}
	}

	key, cached := e.lookup(ctx, j.spec, logger)
	if cached != nil {
		if cached.Model != "" {
			res.Model = cached.Model
		}
		res.Output = output(j.spec, cached)
		res.Cached = true
		logger.Debug("served from cache")
		e.record(ctx, j, res, logger)
		return res, nil
	}

	var (
		resp     *models.ChatCompletionResponse
		repaired any
		fixed    bool
	)
	res.Attempts, err = retry.Do(ctx, e.policy, logger, func(attempt int) error {
		r, err := e.client.Complete(ctx, j.spec)
		if err == nil {
			resp = r
			return nil
		}

		var lengthErr *client.LengthError
		var decodeErr *structured.DecodeError
		switch {
		case errors.As(err, &lengthErr):
			logLength(logger, lengthErr)
			return retry.Permanent(err)
		case j.spec.ResponseFormat != nil && errors.As(err, &decodeErr) && errors.Is(err, structured.ErrIncomplete):
			v, rerr := repair(j.spec.ResponseFormat, decodeErr.Raw)
			if rerr == nil {
				repaired, fixed = v, true
				return nil
			}
			logger.Warn("could not repair truncated JSON", zap.Int("attempt", attempt), zap.Error(rerr))
		}
		return err
	})
	if err != nil {
		return res, err
	}

	if fixed {
		res.Output = models.Output{Kind: models.OutputStructured, Value: repaired}
		res.Repaired = true
		logger.Info("returned repaired structured output")
		e.record(ctx, j, res, logger)
		return res, nil
	}

	if resp.Model != "" {
		res.Model = resp.Model
	}
	if resp.Usage != nil {
		res.Usage = *resp.Usage
	} else {
		logger.Warn("response carried no usage, cost recorded as zero", zap.String("model", res.Model))
	}
	res.Cost, err = e.prices.Cost(res.Model, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	if err != nil {
		return res, err
	}
	res.Output = output(j.spec, resp)
	e.record(ctx, j, res, logger)

	if key != "" {
		e.store(ctx, key, resp, logger)
	}
	return res, nil
}

// lookup returns the cache key for spec and, on a hit, the stored response.
// The key is empty when the request is not cacheable.
func (e *Executor) lookup(ctx context.Context, spec models.RequestSpec, logger *zap.Logger) (string, *models.ChatCompletionResponse) {
	if e.cache == nil || len(spec.Tools) > 0 {
		return "", nil
	}
	key, err := cachepkg.Key(spec)
	if err != nil {
		logger.Warn("request not cacheable", zap.Error(err))
		return "", nil
	}
	data, ok, err := e.cache.Lookup(ctx, key)
	if err != nil {
		logger.Warn("cache lookup failed", zap.Error(err))
		return key, nil
	}
	if !ok {
		return key, nil
	}
	resp, err := decodeCached(spec, data)
	if err != nil {
		logger.Warn("discarding unreadable cache entry", zap.Error(err))
		return key, nil
	}
	return key, resp
}

func (e *Executor) store(ctx context.Context, key string, resp *models.ChatCompletionResponse, logger *zap.Logger) {
	data, err := json.Marshal(resp)
	if err == nil {
		err = e.cache.Store(ctx, key, data)
	}
	if err != nil {
		logger.Warn("failed to cache response", zap.Error(err))
	}
}

func (e *Executor) record(ctx context.Context, j job, res models.Result, logger *zap.Logger) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.Record(ctx, models.UsageRecord{
		Caller:           j.caller,
		BatchID:          j.batchID,
		Index:            j.index,
		Model:            res.Model,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		Cost:             res.Cost,
		Repaired:         res.Repaired,
		Cached:           res.Cached,
		CreatedAt:        e.now().UTC(),
	})
	if err != nil {
		logger.Warn("failed to record usage", zap.Error(err))
	}
}

func output(spec models.RequestSpec, resp *models.ChatCompletionResponse) models.Output {
	choice := resp.Choices[0]
	switch {
	case len(spec.Tools) > 0:
		choice.Message.Content = clean.Output(choice.Message.Content)
		return models.Output{Kind: models.OutputToolCall, Choice: &choice}
	case spec.ResponseFormat != nil:
		return models.Output{Kind: models.OutputStructured, Value: choice.Message.Parsed}
	default:
		return models.Output{Kind: models.OutputText, Text: clean.Output(choice.Message.Content)}
	}
}

func repair(f structured.Format, raw string) (any, error) {
	fixed, err := jsonrepair.Repair(raw)
	if err != nil {
		return nil, err
	}
	return f.Decode([]byte(fixed))
}

func decodeCached(spec models.RequestSpec, data []byte) (*models.ChatCompletionResponse, error) {
	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("cached response has no choices")
	}
	if spec.ResponseFormat != nil {
		v, err := spec.ResponseFormat.Decode([]byte(resp.Choices[0].Message.Content))
		if err != nil {
			return nil, err
		}
		resp.Choices[0].Message.Parsed = v
	}
	return &resp, nil
}

func logLength(logger *zap.Logger, err *client.LengthError) {
	fields := []zap.Field{zap.String("partial_content", err.PartialContent())}
	if err.Response != nil && err.Response.Usage != nil {
		u := err.Response.Usage
		fields = append(fields,
			zap.Int("prompt_tokens", u.PromptTokens),
			zap.Int("completion_tokens", u.CompletionTokens),
			zap.Int("total_tokens", u.TotalTokens))
	}
	logger.Error("completion stopped at the length limit", fields...)
}

func requestModel(spec models.RequestSpec) string {
	if spec.Model == "" {
		return models.DefaultModel
	}
	return spec.Model
}
