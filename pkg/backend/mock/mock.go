// Package mock implements a backend whose answers are supplied by the test.
package mock

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/window"
)

// Config configures a mock backend. Nil functions answer with nothing.
type Config struct {
	Address  string
	Read     func(context.Context, types.ReadRequest) (history.Response, error)
	Contains func([]string) bool
}

type Backend struct {
	cfg   Config
	calls *int64
}

var noLog *zap.Logger = zap.New(nil)

func New(cfg Config) Backend {
	return Backend{cfg: cfg, calls: new(int64)}
}

func (b Backend) Read(ctx context.Context, request types.ReadRequest) (history.Response, error) {
	atomic.AddInt64(b.calls, 1)
	if b.cfg.Read == nil {
		return history.Response{}, types.ErrSamplesNotFound
	}

	return b.cfg.Read(ctx, request)
}

// Calls counts the reads made so far.
func (b Backend) Calls() int {
	return int(atomic.LoadInt64(b.calls))
}

func (b Backend) Contains(measurements []string) bool {
	if b.cfg.Contains == nil {
		return false
	}

	return b.cfg.Contains(measurements)
}

func (b Backend) Logger() *zap.Logger {
	return noLog
}

func (b Backend) GetServerAddress() string {
	return b.cfg.Address
}

// Points returns a read function serving points of one data type. Points
// overlapping the requested range are returned; aggregated reads group them
// by the windows they start in.
func Points(dataType string, points []history.DataPoint) func(context.Context, types.ReadRequest) (history.Response, error) {
	return func(ctx context.Context, request types.ReadRequest) (history.Response, error) {
		if request.Measurement != dataType {
			return history.Response{}, types.ErrSamplesNotFound
		}

		var hits []history.DataPoint
		for _, p := range points {
			if request.Range.Overlaps(types.TimeRange{Start: p.Start, End: p.End}) {
				hits = append(hits, p)
			}
		}
		if len(hits) == 0 {
			return history.Response{}, types.ErrSamplesNotFound
		}

		if !request.UseAggregation {
			return history.Response{DataSets: []history.DataSet{{DataType: dataType, Points: hits}}}, nil
		}

		windows, err := window.Build(request.Range, request.BucketBy)
		if err != nil {
			return history.Response{}, err
		}
		var resp history.Response
		for _, w := range windows {
			var in []history.DataPoint
			for _, p := range hits {
				if w.Contains(p.Start) {
					in = append(in, p)
				}
			}
			if len(in) > 0 {
				resp.Groups = append(resp.Groups, history.Group{
					Range:    w,
					DataSets: []history.DataSet{{DataType: dataType, Points: in}},
				})
			}
		}

		return resp, nil
	}
}
