/*
Package query answers time series queries end to end.

A query range is split into safe chunks, every chunk is read from the
configured sources in parallel, and the answers are flattened into one sample
list. Buckets and totals are computed by normalizing that list onto the
windows of the whole range.
*/
package query

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/aggregate"
	"github.com/bookingcom/inputkit/pkg/backend"
	"github.com/bookingcom/inputkit/pkg/chunk"
	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/normalize"
	"github.com/bookingcom/inputkit/pkg/prioritylimiter"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/util"
	"github.com/bookingcom/inputkit/pkg/window"
)

const (
	DefaultTimeout    = 60 * time.Second
	DefaultDayTimeout = 150 * time.Second
)

// Request is one query.
type Request struct {
	Measurement    string
	Range          types.TimeRange
	Interval       types.Interval
	UseAggregation bool
	// Limit keeps the first Limit buckets or samples after ordering. Zero
	// keeps everything.
	Limit int
	Order aggregate.Order
}

// Validate checks a request before anything is read.
func (r Request) Validate() error {
	if r.Measurement == "" {
		return types.NewConfigurationError("measurement", "", "must not be empty")
	}
	if r.Range.Start.UnixMilli() <= 0 || r.Range.End.UnixMilli() <= 0 {
		return &types.InvalidRangeError{
			Start:  r.Range.StartMillis(),
			End:    r.Range.EndMillis(),
			Reason: "start time and end time should be greater than 0",
		}
	}
	if err := r.Range.Validate(); err != nil {
		return err
	}
	if !r.Interval.Valid() {
		return types.NewConfigurationError("interval", r.Interval.String(), "unsupported time interval")
	}
	if r.Limit < 0 {
		return types.NewConfigurationError("limit", strconv.Itoa(r.Limit), "must not be negative")
	}

	return nil
}

// Metrics are optional instruments updated for every chunk read.
type Metrics struct {
	Reads       prometheus.Counter
	ReadErrors  prometheus.Counter
	PartialFail prometheus.Counter
	ReadLatency prometheus.Histogram
}

// Config configures an Engine.
type Config struct {
	Backends []backend.Backend
	Caps     chunk.Caps
	// Location is where days and weeks start. Nil means UTC.
	Location *time.Location
	// Concurrency bounds the chunk reads in flight across all queries.
	Concurrency int
	// Timeout bounds one chunk read; DayTimeout replaces it for day and week
	// intervals.
	Timeout    time.Duration
	DayTimeout time.Duration
	Logger     *zap.Logger
	Metrics    *Metrics
	// LimiterOptions are passed to the read limiter.
	LimiterOptions []prioritylimiter.Option
}

// Engine runs queries against a fixed set of sources.
type Engine struct {
	backends   []backend.Backend
	chunker    *chunk.Chunker
	loc        *time.Location
	limiter    *prioritylimiter.Limiter
	timeout    time.Duration
	dayTimeout time.Duration
	logger     *zap.Logger
	metrics    *Metrics
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Backends) == 0 {
		return nil, types.NewConfigurationError("backends", "", "at least one source is required")
	}

	chunker, err := chunk.New(cfg.Caps, cfg.Location)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		backends:   cfg.Backends,
		chunker:    chunker,
		loc:        cfg.Location,
		timeout:    cfg.Timeout,
		dayTimeout: cfg.DayTimeout,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.dayTimeout <= 0 {
		e.dayTimeout = DefaultDayTimeout
	}
	if e.logger == nil {
		e.logger = zap.New(nil)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = len(cfg.Backends) * 4
	}
	e.limiter = prioritylimiter.New(cfg.Concurrency, cfg.LimiterOptions...)

	return e, nil
}

// Location is the location days and weeks start in.
func (e *Engine) Location() *time.Location { return e.loc }

// Chunks returns the safe chunks req.Range is read in.
func (e *Engine) Chunks(req Request) ([]types.TimeRange, error) {
	if err := req.Range.Validate(); err != nil {
		return nil, err
	}

	return e.chunker.Chunk(req.Range.In(e.loc), req.Interval)
}

func (e *Engine) readTimeout(iv types.Interval) time.Duration {
	if iv.Unit() == types.UnitDay {
		return e.dayTimeout
	}

	return e.timeout
}

// bucketBy is the grouping sources are asked for. Weeks are read by day.
func bucketBy(iv types.Interval) types.Interval {
	if iv.Unit() == types.UnitDay {
		return types.Day
	}

	return iv
}

// Fetch reads every chunk of req and returns the answers in chunk order.
// It fails only when every chunk read failed.
func (e *Engine) Fetch(ctx context.Context, req Request) ([]history.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// Nothing can fall inside an empty range.
	if req.Range.IsEmpty() {
		return nil, nil
	}

	chunks, err := e.Chunks(req)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	backends := backend.Filter(e.backends, []string{req.Measurement})
	logger := e.logger.With(
		zap.String("request_id", util.GetUUID(ctx)),
		zap.String("measurement", req.Measurement),
	)

	resps := make([]history.Response, len(chunks))
	errs := make([]error, len(chunks))
	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c types.TimeRange) {
			defer wg.Done()
			resps[i], errs[i] = e.read(ctx, backends, i, types.ReadRequest{
				Measurement:    req.Measurement,
				Range:          c,
				UseAggregation: req.UseAggregation,
				BucketBy:       bucketBy(req.Interval),
			}, logger)
		}(i, c)
	}
	wg.Wait()

	failed := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}

	switch {
	case len(failed) == 0:
	case len(failed) == len(chunks):
		if len(failed) == 1 {
			return nil, failed[0]
		}
		return nil, pkgerrors.WithMessage(backend.CombineErrors(failed), "All chunk reads failed")
	default:
		if e.metrics != nil {
			e.metrics.PartialFail.Inc()
		}
		logger.Warn("Some chunk reads failed",
			zap.Int("chunks", len(chunks)),
			zap.Int("failed", len(failed)),
			zap.Error(backend.CombineErrors(failed)),
		)
	}

	return resps, nil
}

func (e *Engine) read(ctx context.Context, backends []backend.Backend, idx int, request types.ReadRequest, logger *zap.Logger) (history.Response, error) {
	if err := e.limiter.Enter(ctx, idx, util.GetUUID(ctx)); err != nil {
		return history.Response{}, pkgerrors.Wrap(err, "waiting for a read slot")
	}
	defer e.limiter.Leave()

	ctx, cancel := context.WithTimeout(ctx, e.readTimeout(request.BucketBy))
	defer cancel()

	t0 := time.Now()
	resp, err := backend.Reads(ctx, backends, request)
	took := time.Since(t0)

	if e.metrics != nil {
		e.metrics.Reads.Inc()
		e.metrics.ReadLatency.Observe(took.Seconds())
	}

	if errors.Is(err, types.ErrSamplesNotFound) {
		err = nil
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.ReadErrors.Inc()
		}
		return history.Response{}, pkgerrors.Wrapf(err, "chunk %s", request.Range)
	}

	util.Trace(logger, "chunk read",
		zap.Stringer("range", request.Range),
		zap.Duration("runtime", took),
		zap.Int("latency_bucket", util.Bucket(took, 10)),
		zap.Int("points", resp.Len()),
	)

	return resp, nil
}

// flatten concatenates the samples of every chunk, in chunk order. A sample
// crossing a chunk boundary is answered by both chunks and kept once.
func flatten[T any](resps []history.Response, useAggregation bool, conv history.Converter[T]) []types.Sample[T] {
	var samples []types.Sample[T]
	earlier := make(map[[2]int64]struct{})
	for _, r := range resps {
		part := history.Flatten(r, useAggregation, conv)
		for _, s := range part {
			if _, ok := earlier[rangeKey(s.Range)]; !ok {
				samples = append(samples, s)
			}
		}
		for _, s := range part {
			earlier[rangeKey(s.Range)] = struct{}{}
		}
	}

	return samples
}

func rangeKey(r types.TimeRange) [2]int64 {
	return [2]int64{r.Start.UnixNano(), r.End.UnixNano()}
}

// Samples returns the samples overlapping req.Range, oldest first, then
// ordered and limited as req asks.
func Samples[T any](ctx context.Context, e *Engine, req Request, conv history.Converter[T]) ([]types.Sample[T], error) {
	resps, err := e.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	r := req.Range.In(e.loc)
	var samples []types.Sample[T]
	for _, s := range flatten(resps, req.UseAggregation, conv) {
		if s.Range.End.Before(s.Range.Start) || !r.Overlaps(s.Range) {
			continue
		}
		s.Range = s.Range.In(e.loc)
		samples = append(samples, s)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Range.Start.Before(samples[j].Range.Start)
	})

	return aggregate.Limit(aggregate.Arrange(samples, req.Order), req.Limit), nil
}

// Buckets normalizes req onto the windows of req.Interval, then orders and
// limits them.
func Buckets[T types.Number](ctx context.Context, e *Engine, req Request, conv history.Converter[T], arith types.Arithmetic[T]) ([]types.Bucket[T], error) {
	all, err := buckets(ctx, e, req, conv, arith)
	if err != nil {
		return nil, err
	}

	return aggregate.Limit(aggregate.Arrange(all, req.Order), req.Limit), nil
}

// Total sums every bucket of req.Range. Order and limit do not apply.
func Total[T types.Number](ctx context.Context, e *Engine, req Request, conv history.Converter[T], arith types.Arithmetic[T]) (T, error) {
	bs, err := buckets(ctx, e, req, conv, arith)
	if err != nil {
		var zero T
		return zero, err
	}

	return aggregate.Total(bs), nil
}

func buckets[T types.Number](ctx context.Context, e *Engine, req Request, conv history.Converter[T], arith types.Arithmetic[T]) ([]types.Bucket[T], error) {
	resps, err := e.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	windows, err := window.Build(req.Range.In(e.loc), req.Interval)
	if err != nil {
		return nil, err
	}

	return normalize.Normalize(flatten(resps, req.UseAggregation, conv), windows, arith), nil
}
