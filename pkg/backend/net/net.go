// Package net implements a backend that reads samples from a Graphite
// compatible store over the network, using HTTP and protocol buffers, or
// streaming gRPC.
package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgryski/go-expirecache"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/types/encoding/carbonapi_v2"
	"github.com/bookingcom/inputkit/pkg/util"
)

// ErrHTTPCode is a custom error type to distinguish HTTP errors
type ErrHTTPCode struct {
	code int
	err  string
}

func NewErrHTTPCode(code int, err string) error {
	return &ErrHTTPCode{code, err}
}

func (e *ErrHTTPCode) Code() int {
	return e.code
}

func (e *ErrHTTPCode) Error() string {
	return e.err
}

func (e *ErrHTTPCode) Message() string {
	switch e.code / 100 {
	case 4:
		return fmt.Sprintf("HTTP client error %d: %s", e.code, e.err)

	case 5:
		return fmt.Sprintf("HTTP server error %d: %s", e.code, e.err)

	default:
		return fmt.Sprintf("HTTP unknown error %d: %s", e.code, e.err)
	}
}

func StripErrBody(body []byte) string {
	l := len(body)
	if l == 0 {
		return ""
	}
	if l > 50 {
		l = 50
	} else if body[l-1] == '\n' {
		l--
	}
	return string(body[0:l])
}

func ExtractErr(err error) error {
	var netErr net.Error
	var i int
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewErrHTTPCode(http.StatusGatewayTimeout, "timeout")
		}
		e := err.Error()
		if i = strings.Index(e, "dial "); i > 0 {
			e = e[i:]
		} else if i = strings.Index(e, "write"); i > 0 {
			e = e[i:]
		} else if i = strings.Index(e, "read"); i > 0 {
			e = e[i:]
		}
		return NewErrHTTPCode(http.StatusServiceUnavailable, e)
	}
	return err
}

// ErrContextCancel signifies context cancellation manual or via timeout
type ErrContextCancel struct {
	Err error
}

func (err ErrContextCancel) Error() string {
	return err.Err.Error()
}

func (err ErrContextCancel) Unwrap() error {
	return err.Err
}

// ContextCancelCause tells why the context was cancelled
func ContextCancelCause(err error) string {
	var cause string
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		cause = "deadline"
	case errors.Is(err, context.Canceled):
		cause = "canceled"
	default:
		cause = "unknown"
	}

	return cause
}

// Backend represents a host that answers render requests over HTTP.
type Backend struct {
	address        string
	scheme         string
	client         *http.Client
	timeout        time.Duration
	limiter        chan struct{}
	logger         *zap.Logger
	cache          *expirecache.Cache
	cacheExpirySec int32
}

// Config configures an HTTP backend.
//
// The only required field is Address, which must be of the form
// "address[:port]", where address is an IP address or a hostname.
// Address must be a point that can accept HTTP requests.
type Config struct {
	Address string // The backend address.

	// Optional fields
	Client             *http.Client  // The client to use to communicate with backend. Defaults to http.DefaultClient.
	Timeout            time.Duration // Set request timeout. Defaults to no timeout.
	Limit              int           // Set limit of concurrent requests to backend. Defaults to no limit.
	PathCacheExpirySec uint32        // Set time in seconds before known measurements expire. Defaults to 10 minutes.
	Logger             *zap.Logger   // Logger to use. Defaults to a no-op logger.
}

var fmtProto = []string{"protobuf"}

// New creates a new backend from the given configuration.
func New(cfg Config) (*Backend, error) {
	b := &Backend{
		cache: expirecache.New(0),
	}

	if cfg.PathCacheExpirySec > 0 {
		b.cacheExpirySec = int32(cfg.PathCacheExpirySec)
	} else {
		b.cacheExpirySec = int32(10 * time.Minute / time.Second)
	}

	address, scheme, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, err
	}

	b.address = address
	b.scheme = scheme

	if cfg.Timeout > 0 {
		b.timeout = cfg.Timeout
	} else {
		b.timeout = 0
	}

	if cfg.Client != nil {
		b.client = cfg.Client
	} else {
		b.client = http.DefaultClient
	}

	if cfg.Limit > 0 {
		b.limiter = make(chan struct{}, cfg.Limit)
	}

	if cfg.Logger != nil {
		b.logger = cfg.Logger
	} else {
		b.logger = zap.New(nil)
	}

	return b, nil
}

func parseAddress(address string) (string, string, error) {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", "", err
	}

	return u.Host, u.Scheme, nil
}

func (b Backend) url(path string) *url.URL {
	return &url.URL{
		Scheme: b.scheme,
		Host:   b.address,
		Path:   path,
	}
}

func (b Backend) GetServerAddress() string {
	return b.address
}

// Logger returns logger for this backend. Needed to satisfy interface.
func (b Backend) Logger() *zap.Logger {
	return b.logger
}

func (b Backend) enter(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		b.logger.Warn("Request context cancelled",
			zap.String("host", b.address),
			zap.String("request_id", util.GetUUID(ctx)),
			zap.Error(ctx.Err()),
		)
		return ctx.Err()

	case b.limiter <- struct{}{}:
		// fallthrough
	}

	return nil
}

func (b Backend) leave() error {
	if b.limiter == nil {
		return nil
	}

	select {
	case <-b.limiter:
		// fallthrough
	default:
		// this should never happen, but let's not block forever if it does
		return pkgerrors.New("Unable to return value to limiter")
	}

	return nil
}

func (b Backend) setTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(ctx, b.timeout)
	}

	return context.WithCancel(ctx)
}

func (b Backend) request(ctx context.Context, u *url.URL, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), body)
	if err != nil {
		return nil, err
	}

	req = util.MarshalCtx(ctx, req)

	return req, nil
}

type requestRes struct {
	resp *http.Response
	err  error
}

func (b Backend) do(ctx context.Context, req *http.Request) (string, []byte, error) {
	ch := make(chan requestRes, 1)

	go func() {
		resp, err := b.client.Do(req)
		ch <- requestRes{resp: resp, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", nil, ExtractErr(res.err)
		}

		body, err := io.ReadAll(res.resp.Body)
		res.resp.Body.Close()
		if err != nil {
			return "", nil, err
		}

		if res.resp.StatusCode != http.StatusOK {
			return "", body, NewErrHTTPCode(res.resp.StatusCode, StripErrBody(body))
		} else if len(body) == 0 {
			return res.resp.Header.Get("Content-Type"), nil, NewErrHTTPCode(http.StatusNotFound, "empty response")
		}

		return res.resp.Header.Get("Content-Type"), body, nil

	case <-ctx.Done():
		b.logger.Warn("Request context cancelled",
			zap.String("host", b.address),
			zap.String("request_id", util.GetUUID(ctx)),
			zap.Error(ctx.Err()),
		)
		return "", nil, ctx.Err()
	}
}

// call makes a call to a backend.
// If the backend timeout is positive, call will override the context timeout
// with the backend timeout.
func (b Backend) call(ctx context.Context, u *url.URL, body io.Reader) (string, []byte, error) {
	ctx, cancel := b.setTimeout(ctx)
	defer cancel()

	if err := b.enter(ctx); err != nil {
		return "", nil, err
	}

	defer func() {
		if err := b.leave(); err != nil {
			b.logger.Error("Backend limiter full",
				zap.String("host", b.address),
				zap.String("request_id", util.GetUUID(ctx)),
				zap.Error(err),
			)
		}
	}()

	req, err := b.request(ctx, u, body)
	if err != nil {
		return "", nil, err
	}

	return b.do(ctx, req)
}

// Contains reports whether the backend returned any of the given measurements
// recently.
func (b Backend) Contains(measurements []string) bool {
	for _, m := range measurements {
		if _, ok := b.cache.Get(m); ok {
			return true
		}
	}

	return false
}

// Read fetches the points of a measurement from a backend.
func (b Backend) Read(ctx context.Context, request types.ReadRequest) (history.Response, error) {
	u, body := carbonapiV2RenderEncoder(b.url("/render/"), request)

	contentType, resp, err := b.call(ctx, u, body)
	if err != nil {
		if ctx.Err() != nil {
			return history.Response{}, ErrContextCancel{Err: ctx.Err()}
		}

		var code *ErrHTTPCode
		if errors.As(err, &code) && code.code == http.StatusNotFound {
			return history.Response{}, types.ErrSamplesNotFound
		}

		return history.Response{}, err
	}

	var sets []history.DataSet
	switch contentType {
	case "application/x-protobuf", "application/protobuf", "application/octet-stream":
		sets, err = carbonapi_v2.Decoder(resp)

	case "application/text":
		return history.Response{}, pkgerrors.Errorf("Unexpected application/text response:\n%s", string(resp))

	default:
		return history.Response{}, pkgerrors.Errorf("Unknown content type '%s'", contentType)
	}

	if err != nil {
		return history.Response{}, pkgerrors.Wrap(err, "Unmarshal failed")
	}

	return b.response(request, sets)
}

// response shapes decoded data sets the way request asked for them and
// remembers the measurement as known.
func (b Backend) response(request types.ReadRequest, sets []history.DataSet) (history.Response, error) {
	n := 0
	for i := range sets {
		// Server side aggregation renames the series after the function.
		sets[i].DataType = request.Measurement
		n += len(sets[i].Points)
	}
	if n == 0 {
		return history.Response{}, types.ErrSamplesNotFound
	}

	b.cache.Set(request.Measurement, struct{}{}, 0, b.cacheExpirySec)

	if request.UseAggregation {
		return history.Response{Groups: carbonapi_v2.Groups(sets)}, nil
	}

	return history.Response{DataSets: sets}, nil
}

// Target is the render target for a read. Aggregated reads sum the
// measurement into buckets aligned to the start of the range.
func Target(request types.ReadRequest) string {
	if !request.UseAggregation {
		return request.Measurement
	}

	return fmt.Sprintf("summarize(%s,%q,\"sum\",true)", request.Measurement, graphiteInterval(request.BucketBy))
}

func graphiteInterval(iv types.Interval) string {
	switch iv.Unit() {
	case types.UnitMinute:
		return strconv.Itoa(iv.Magnitude()) + "min"
	case types.UnitHour:
		return strconv.Itoa(iv.Magnitude()) + "h"
	}

	return strconv.Itoa(iv.Magnitude()) + "d"
}

func carbonapiV2RenderEncoder(u *url.URL, request types.ReadRequest) (*url.URL, io.Reader) {
	vals := url.Values{
		"target": []string{Target(request)},
		"format": fmtProto,
		"from":   []string{strconv.FormatInt(request.Range.Start.Unix(), 10)},
		"until":  []string{strconv.FormatInt(request.Range.End.Unix(), 10)},
	}
	u.RawQuery = vals.Encode()

	return u, nil
}
