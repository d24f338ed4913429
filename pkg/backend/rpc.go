/*
Package backend defines the interface sources implement and the fan-out used
to read from several replicas of one source.

Example use:

	var b Backend
	resp, err := b.Read(ctx, request)

The package will transparently handle concurrent requests to replicas:

	var bs []Backend
	resp, err := Reads(ctx, bs, request)
*/
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/util"
)

// Reads reads request from every replica and merges the answers.
// It fails only when every replica failed; replicas that hold nothing do not
// count as failures.
func Reads(ctx context.Context, backends []Backend, request types.ReadRequest) (history.Response, error) {
	if len(backends) == 0 {
		return history.Response{}, nil
	}

	msgCh := make(chan history.Response, len(backends))
	errCh := make(chan error, len(backends))
	for _, backend := range backends {
		go func(b Backend) {
			msg, err := b.Read(ctx, request)
			if err != nil {
				errCh <- err
			} else {
				msgCh <- msg
			}
		}(backend)
	}

	msgs := make([]history.Response, 0, len(backends))
	errs := make([]error, 0, len(backends))
	notFound := 0
	for i := 0; i < len(backends); i++ {
		select {
		case msg := <-msgCh:
			msgs = append(msgs, msg)
		case err := <-errCh:
			if errors.Is(err, types.ErrSamplesNotFound) {
				notFound++
				continue
			}
			errs = append(errs, err)
		}
	}

	if len(msgs) == 0 && notFound > 0 && len(errs) == 0 {
		return history.Response{}, types.ErrSamplesNotFound
	}
	if err := checkErrs(ctx, errs, len(backends)-notFound, backends[0].Logger()); err != nil {
		return history.Response{}, err
	}

	return history.Merge(msgs), nil
}

// Filter returns the backends known to hold any of measurements, or all of
// them if none is.
func Filter(backends []Backend, measurements []string) []Backend {
	bs := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Contains(measurements) {
			bs = append(bs, b)
		}
	}

	if len(bs) > 0 {
		return bs
	}

	return backends
}

func checkErrs(ctx context.Context, errs []error, limit int, logger *zap.Logger) error {
	if len(errs) == 0 {
		return nil
	}

	if len(errs) >= limit {
		if len(errs) == 1 {
			return errs[0]
		}
		return pkgerrors.WithMessage(CombineErrors(errs), "All backend requests failed")
	}

	logger.Warn("Some requests failed",
		zap.String("request_id", util.GetUUID(ctx)),
		zap.Error(CombineErrors(errs)),
	)

	return nil
}

// CombineErrors counts the failures sharing a message. The result unwraps to
// every error in errs.
func CombineErrors(errs []error) error {
	msgs := make(map[string]int)
	for _, err := range errs {
		if err != nil {
			msgs[err.Error()]++
		}
	}

	if len(msgs) == 0 {
		return nil
	}

	ms := make([]string, 0, len(msgs))
	for m, c := range msgs {
		ms = append(ms, fmt.Sprintf("%s: %d backends", m, c))
	}
	sort.Strings(ms)

	return &combinedError{msg: strings.Join(ms, "\n"), errs: errs}
}

// combinedError counts duplicate messages and still lets errors.Is and
// errors.As see every failure.
type combinedError struct {
	msg  string
	errs []error
}

func (e *combinedError) Error() string { return e.msg }

func (e *combinedError) Unwrap() []error { return e.errs }
