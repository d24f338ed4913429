package inputkit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bookingcom/inputkit/pkg/aggregate"
	bnet "github.com/bookingcom/inputkit/pkg/backend/net"
	"github.com/bookingcom/inputkit/pkg/cache"
	"github.com/bookingcom/inputkit/pkg/date"
	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/parser"
	"github.com/bookingcom/inputkit/pkg/query"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/types/encoding"
	"github.com/bookingcom/inputkit/pkg/types/encoding/carbonapi_v2"
	"github.com/bookingcom/inputkit/pkg/types/encoding/csv"
	ourJson "github.com/bookingcom/inputkit/pkg/types/encoding/json"
	"github.com/bookingcom/inputkit/pkg/types/encoding/pickle"
	"github.com/bookingcom/inputkit/pkg/util"
)

const (
	jsonFormat     = "json"
	protobufFormat = "protobuf"
	pickleFormat   = "pickle"
	csvFormat      = "csv"
)

const (
	intValues    = "int"
	floatValues  = "float"
	stringValues = "string"
)

const (
	contentTypeJSON     = "application/json"
	contentTypeProtobuf = "application/x-protobuf"
	contentTypePickle   = "application/pickle"
	contentTypeCSV      = "text/csv"
)

// maxIngestBytes bounds the body of one /ingest request.
const maxIngestBytes = 64 << 20

var timeNow = time.Now

type queryForm struct {
	req          query.Request
	valueType    string
	format       string
	tz           string
	useCache     bool
	cacheTimeout int32
	cacheKey     string
}

func (app *App) parseQueryForm(r *http.Request, handler string, toLog *AccessLogDetails) (queryForm, error) {
	form := queryForm{format: jsonFormat, valueType: floatValues}
	if err := r.ParseForm(); err != nil {
		return form, types.NewConfigurationError("query", r.URL.RawQuery, err.Error())
	}

	if f := r.FormValue("format"); f != "" {
		form.format = f
	}
	toLog.Format = form.format
	switch form.format {
	case jsonFormat, protobufFormat, pickleFormat, csvFormat:
	default:
		return form, types.NewConfigurationError("format", form.format, "expected json, protobuf, pickle or csv")
	}

	form.req.Measurement = r.FormValue("measurement")
	toLog.Measurement = form.req.Measurement

	form.tz = r.FormValue("tz")
	fromRaw, untilRaw := r.FormValue("from"), r.FormValue("until")
	toLog.Tz, toLog.FromRaw, toLog.UntilRaw = form.tz, fromRaw, untilRaw

	now := timeNow()
	from, err := date.ParamToTime(fromRaw, form.tz, now.Add(-24*time.Hour), app.defaultTimeZone)
	if err != nil {
		return form, types.NewConfigurationError("from", fromRaw, err.Error())
	}
	until, err := date.ParamToTime(untilRaw, form.tz, now, app.defaultTimeZone)
	if err != nil {
		return form, types.NewConfigurationError("until", untilRaw, err.Error())
	}
	form.req.Range = types.TimeRange{Start: from, End: until}
	toLog.From, toLog.Until = from.UnixMilli(), until.UnixMilli()

	form.req.Interval = app.config.DefaultInterval
	if s := r.FormValue("interval"); s != "" {
		if form.req.Interval, err = types.ParseInterval(s); err != nil {
			return form, err
		}
	}
	toLog.Interval = form.req.Interval.String()

	form.req.UseAggregation = parser.TruthyBool(r.FormValue("aggregate"))

	if s := r.FormValue("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			return form, types.NewConfigurationError("limit", s, "must be a positive integer")
		}
		form.req.Limit = limit
	}

	if form.req.Order, err = aggregate.ParseOrder(r.FormValue("order")); err != nil {
		return form, err
	}

	if s := r.FormValue("valueType"); s != "" {
		form.valueType = s
	}
	toLog.ValueType = form.valueType
	switch form.valueType {
	case intValues, floatValues, stringValues:
	default:
		return form, types.NewConfigurationError("valueType", form.valueType, "expected int, float or string")
	}

	form.useCache = !parser.TruthyBool(r.FormValue("noCache"))
	form.cacheTimeout = app.config.Cache.DefaultTTL
	if s := r.FormValue("cacheTimeout"); s != "" {
		t, err := strconv.ParseInt(s, 10, 32)
		if err != nil || t < 0 {
			return form, types.NewConfigurationError("cacheTimeout", s, "must be a number of seconds")
		}
		form.cacheTimeout = int32(t)
	}
	toLog.UseCache, toLog.CacheTimeout = form.useCache, form.cacheTimeout

	form.cacheKey = cache.Key(handler,
		form.req.Measurement,
		strconv.FormatInt(toLog.From, 10),
		strconv.FormatInt(toLog.Until, 10),
		form.req.Interval.String(),
		strconv.FormatBool(form.req.UseAggregation),
		strconv.Itoa(form.req.Limit),
		form.req.Order.String(),
		form.valueType,
		form.format,
	)

	return form, nil
}

// errorCode is the HTTP status a failed query answers with.
func errorCode(err error) int {
	var rangeErr *types.InvalidRangeError
	var configErr *types.ConfigurationError
	var cancelErr bnet.ErrContextCancel
	switch {
	case errors.As(err, &rangeErr), errors.As(err, &configErr):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &cancelErr):
		return http.StatusGatewayTimeout
	}

	return http.StatusBadGateway
}

func writeResponse(ctx context.Context, w http.ResponseWriter, b []byte, format string) error {
	w.Header().Set("X-Inputkit-UUID", util.GetUUID(ctx))
	switch format {
	case jsonFormat:
		w.Header().Set("Content-Type", contentTypeJSON)
	case protobufFormat:
		w.Header().Set("Content-Type", contentTypeProtobuf)
	case pickleFormat:
		w.Header().Set("Content-Type", contentTypePickle)
	case csvFormat:
		w.Header().Set("Content-Type", contentTypeCSV)
	}
	_, err := w.Write(b)

	return err
}

func writeError(uuid string, w http.ResponseWriter, code int, s string, accessLogDetails *AccessLogDetails) {
	accessLogDetails.HttpCode = int32(code)
	accessLogDetails.Reason = s
	w.Header().Set("X-Inputkit-UUID", uuid)
	http.Error(w, http.StatusText(code)+" ("+strconv.Itoa(code)+") Details: "+s, code)
}

func (app *App) encode(series []encoding.Series, format string) ([]byte, error) {
	switch format {
	case protobufFormat:
		return carbonapi_v2.Encoder(series)
	case pickleFormat:
		return pickle.Encoder(series)
	case csvFormat:
		return csv.Encoder(series, app.defaultTimeZone, csv.DefaultLayout)
	}

	return ourJson.Encoder(series)
}

type queryFunc func(ctx context.Context, form queryForm) ([]encoding.Series, error)

// serveQuery is what every query endpoint is served through. run is only
// called for valid forms that missed the cache.
func (app *App) serveQuery(w http.ResponseWriter, r *http.Request, lg *zap.Logger, handler string, run queryFunc) {
	t0 := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), app.config.Timeouts.Global)
	defer cancel()
	uuid := util.GetUUID(ctx)

	lg = lg.With(zap.String("request_type", handler))
	util.Trace(lg, "received request")

	toLog := NewAccessLogDetails(r, handler, app.config.HeadersToLog)
	logLevel := zap.InfoLevel
	defer func() {
		app.deferredAccessLogging(lg, r, &toLog, t0, logLevel)
	}()

	app.ms.Requests.Inc()
	app.gm.Requests.Add(1)

	form, err := app.parseQueryForm(r, handler, &toLog)
	if err != nil {
		writeError(uuid, w, http.StatusBadRequest, err.Error(), &toLog)
		return
	}
	if err := form.req.Validate(); err != nil {
		writeError(uuid, w, http.StatusBadRequest, err.Error(), &toLog)
		return
	}

	if form.useCache {
		util.Trace(lg, "query request cache")
		response, cacheErr := app.queryCache.Get(form.cacheKey)
		if cacheErr == nil {
			util.Trace(lg, "request found in cache")
			app.gm.CacheHits.Add(1)
			toLog.FromCache = true
			toLog.ResponseSize = int64(len(response))
			toLog.HttpCode = http.StatusOK
			if writeErr := writeResponse(ctx, w, response, form.format); writeErr != nil {
				toLog.HttpCode = 499
				logLevel = zapcore.WarnLevel
			}
			return
		}
		app.gm.CacheMisses.Add(1)
		if cacheErr != cache.ErrNotFound {
			util.Trace(lg, "request cache error", zap.Error(cacheErr))
			addCacheErrorToLogDetails(&toLog, true, cacheErr)
		}
	}

	if chunks, err := app.engine.Chunks(form.req); err == nil {
		toLog.Chunks = len(chunks)
	}

	series, err := run(ctx, form)
	if err != nil {
		code := errorCode(err)
		if code == http.StatusGatewayTimeout {
			app.ms.RequestCancel.WithLabelValues(handler, bnet.ContextCancelCause(err)).Inc()
		}
		if code >= 500 {
			logLevel = zapcore.ErrorLevel
		}
		writeError(uuid, w, code, err.Error(), &toLog)
		return
	}
	for _, s := range series {
		toLog.Points += len(s.Points)
	}

	body, err := app.encode(series, form.format)
	if err != nil {
		writeError(uuid, w, http.StatusInternalServerError, err.Error(), &toLog)
		logLevel = zapcore.ErrorLevel
		return
	}

	toLog.ResponseSize = int64(len(body))
	if writeErr := writeResponse(ctx, w, body, form.format); writeErr != nil {
		toLog.HttpCode = 499
		logLevel = zapcore.WarnLevel
	} else {
		toLog.HttpCode = http.StatusOK
	}

	if form.useCache {
		go func() {
			if err := app.queryCache.Set(form.cacheKey, body, form.cacheTimeout); err != nil {
				util.Trace(lg, "writing request to cache failed", zap.Error(err))
			}
		}()
	}
}

func (app *App) bucketsHandler(w http.ResponseWriter, r *http.Request, lg *zap.Logger) {
	app.serveQuery(w, r, lg, "buckets", func(ctx context.Context, form queryForm) ([]encoding.Series, error) {
		name := form.req.Measurement
		switch form.valueType {
		case intValues:
			b, err := query.Buckets[int64](ctx, app.engine, form.req, history.AsInt, types.IntArithmetic[int64]{})
			if err != nil {
				return nil, err
			}
			return []encoding.Series{encoding.FromBuckets(name, b)}, nil
		case floatValues:
			b, err := query.Buckets[float64](ctx, app.engine, form.req, history.AsFloat, types.FloatArithmetic[float64]{})
			if err != nil {
				return nil, err
			}
			return []encoding.Series{encoding.FromBuckets(name, b)}, nil
		}

		return nil, types.NewConfigurationError("valueType", form.valueType, "buckets hold int or float values")
	})
}

func (app *App) totalHandler(w http.ResponseWriter, r *http.Request, lg *zap.Logger) {
	app.serveQuery(w, r, lg, "total", func(ctx context.Context, form queryForm) ([]encoding.Series, error) {
		var v history.Value
		switch form.valueType {
		case intValues:
			t, err := query.Total[int64](ctx, app.engine, form.req, history.AsInt, types.IntArithmetic[int64]{})
			if err != nil {
				return nil, err
			}
			v = history.IntValue(t)
		case floatValues:
			t, err := query.Total[float64](ctx, app.engine, form.req, history.AsFloat, types.FloatArithmetic[float64]{})
			if err != nil {
				return nil, err
			}
			v = history.FloatValue(t)
		case stringValues:
			req := form.req
			req.Limit = 0
			samples, err := query.Samples[string](ctx, app.engine, req, history.AsString)
			if err != nil {
				return nil, err
			}
			values := make([]string, len(samples))
			for i, s := range samples {
				values[i] = s.Value
			}
			t, err := aggregate.DecimalTotal(values)
			if err != nil {
				return nil, err
			}
			v = history.StringValue(t)
		}

		return []encoding.Series{{
			Name:   form.req.Measurement,
			Points: []encoding.Point{{Range: form.req.Range.In(app.defaultTimeZone), Value: v}},
		}}, nil
	})
}

func (app *App) samplesHandler(w http.ResponseWriter, r *http.Request, lg *zap.Logger) {
	app.serveQuery(w, r, lg, "samples", func(ctx context.Context, form queryForm) ([]encoding.Series, error) {
		name := form.req.Measurement
		switch form.valueType {
		case intValues:
			s, err := query.Samples[int64](ctx, app.engine, form.req, history.AsInt)
			if err != nil {
				return nil, err
			}
			return []encoding.Series{encoding.FromSamples(name, s)}, nil
		case floatValues:
			s, err := query.Samples[float64](ctx, app.engine, form.req, history.AsFloat)
			if err != nil {
				return nil, err
			}
			return []encoding.Series{encoding.FromSamples(name, s)}, nil
		}

		s, err := query.Samples[string](ctx, app.engine, form.req, history.AsString)
		if err != nil {
			return nil, err
		}
		return []encoding.Series{encoding.FromSamples(name, s)}, nil
	})
}

type jsonChunk struct {
	From  int64 `json:"from"`
	Until int64 `json:"until"`
}

func (app *App) chunksHandler(w http.ResponseWriter, r *http.Request, lg *zap.Logger) {
	t0 := time.Now()
	uuid := util.GetUUID(r.Context())

	app.ms.Requests.Inc()
	app.gm.Requests.Add(1)
	toLog := NewAccessLogDetails(r, "chunks", app.config.HeadersToLog)
	logLevel := zap.InfoLevel
	defer func() {
		app.deferredAccessLogging(lg, r, &toLog, t0, logLevel)
	}()

	form, err := app.parseQueryForm(r, "chunks", &toLog)
	if err == nil && form.format != jsonFormat {
		err = types.NewConfigurationError("format", form.format, "chunks are only encoded as json")
	}
	if err != nil {
		writeError(uuid, w, http.StatusBadRequest, err.Error(), &toLog)
		return
	}

	chunks, err := app.engine.Chunks(form.req)
	if err != nil {
		writeError(uuid, w, errorCode(err), err.Error(), &toLog)
		return
	}
	toLog.Chunks = len(chunks)

	out := make([]jsonChunk, len(chunks))
	for i, c := range chunks {
		out[i] = jsonChunk{From: c.StartMillis(), Until: c.EndMillis()}
	}
	body, err := json.Marshal(out)
	if err != nil {
		writeError(uuid, w, http.StatusInternalServerError, err.Error(), &toLog)
		logLevel = zapcore.ErrorLevel
		return
	}

	toLog.HttpCode = http.StatusOK
	if writeErr := writeResponse(r.Context(), w, body, jsonFormat); writeErr != nil {
		toLog.HttpCode = 499
		logLevel = zapcore.WarnLevel
	}
}

func (app *App) ingestHandler(w http.ResponseWriter, r *http.Request, lg *zap.Logger) {
	t0 := time.Now()
	uuid := util.GetUUID(r.Context())

	toLog := NewAccessLogDetails(r, "ingest", app.config.HeadersToLog)
	logLevel := zap.InfoLevel
	defer func() {
		app.deferredAccessLogging(lg, r, &toLog, t0, logLevel)
	}()

	if app.store == nil {
		writeError(uuid, w, http.StatusNotFound, "local store is not enabled", &toLog)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.Header().Set("Allow", "POST, PUT")
		writeError(uuid, w, http.StatusMethodNotAllowed, "series are written with POST", &toLog)
		return
	}

	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	if err != nil {
		writeError(uuid, w, http.StatusBadRequest, err.Error(), &toLog)
		return
	}
	series, err := ourJson.Decoder(blob)
	if err != nil {
		writeError(uuid, w, http.StatusBadRequest, err.Error(), &toLog)
		return
	}

	written := 0
	for _, s := range series {
		points := make([]history.DataPoint, len(s.Points))
		for i, p := range s.Points {
			points[i] = history.NewDataPoint(p.Range.Start, p.Range.End, p.Value)
		}
		if err := app.store.Write(r.Context(), s.Name, points); err != nil {
			code := http.StatusInternalServerError
			if errorCode(err) == http.StatusBadRequest {
				code = http.StatusBadRequest
			} else {
				logLevel = zapcore.ErrorLevel
			}
			writeError(uuid, w, code, err.Error(), &toLog)
			return
		}
		written += len(points)
		toLog.Measurement = s.Name
	}
	app.ms.IngestedPoints.Add(float64(written))
	toLog.Points = written

	body, _ := json.Marshal(map[string]int{"series": len(series), "points": written})
	toLog.HttpCode = http.StatusOK
	if writeErr := writeResponse(r.Context(), w, body, jsonFormat); writeErr != nil {
		toLog.HttpCode = 499
		logLevel = zapcore.WarnLevel
	}
}

func (app *App) lbcheckHandler(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	t0 := time.Now()

	app.ms.Requests.Inc()
	toLog := NewAccessLogDetails(r, "lbcheck", app.config.HeadersToLog)
	logLevel := zap.InfoLevel
	defer func() {
		app.deferredAccessLogging(logger, r, &toLog, t0, logLevel)
	}()

	_, writeErr := w.Write([]byte("Ok\n"))

	toLog.HttpCode = http.StatusOK
	if writeErr != nil {
		toLog.HttpCode = 499
		logLevel = zapcore.WarnLevel
	}
}

func (app *App) versionHandler(w http.ResponseWriter, r *http.Request, lg *zap.Logger) {
	t0 := time.Now()

	app.ms.Requests.Inc()
	toLog := NewAccessLogDetails(r, "version", app.config.HeadersToLog)
	toLog.HttpCode = http.StatusOK
	logLevel := zap.InfoLevel
	defer func() {
		app.deferredAccessLogging(lg, r, &toLog, t0, logLevel)
	}()

	if _, err := w.Write([]byte(BuildVersion + "\n")); err != nil {
		toLog.HttpCode = 499
		logLevel = zapcore.WarnLevel
	}
}

var usageMsg = []byte(`
supported requests:
	/buckets/?measurement=steps&from=-7d&interval=day
		evenly spaced buckets of a measurement
	/total/?measurement=steps&from=-7d&valueType=int
		the sum of the buckets /buckets would return
	/samples/?measurement=steps&from=-1h&valueType=string
		the raw samples overlapping the range
	/chunks/?from=20200101&until=20200301&interval=hour
		the ranges a query is read in

common parameters:
	from, until: epoch milliseconds, now, -2d or YYYYMMDD (default: the last 24 hours)
	tz: IANA location dates are read in
	interval: week, day, hour, halfHour, tenMinutes or oneMinute
	aggregate: ask the sources to pre-aggregate
	order: asc or desc
	limit: number of buckets or samples to keep after ordering
	valueType: int, float or string
	format: json, protobuf, pickle or csv
	noCache, cacheTimeout: result cache control
`)

func (app *App) usageHandler(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	t0 := time.Now()
	app.ms.Requests.Inc()
	toLog := NewAccessLogDetails(r, "usage", app.config.HeadersToLog)
	logLevel := zap.InfoLevel
	defer func() {
		app.deferredAccessLogging(logger, r, &toLog, t0, logLevel)
	}()
	toLog.HttpCode = http.StatusOK
	_, err := w.Write(usageMsg)
	if err != nil {
		toLog.HttpCode = 499
		logLevel = zapcore.WarnLevel
	}
}
