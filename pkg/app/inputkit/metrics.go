package inputkit

import (
	"expvar"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/peterbourgon/g2g"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/cfg"
	"github.com/bookingcom/inputkit/pkg/query"
	"github.com/bookingcom/inputkit/pkg/util"
)

// timeBucketsNum is the number of 50ms request time buckets pushed to
// Graphite, plus one for everything slower.
const timeBucketsNum = 20

// PrometheusMetrics are metrics exported via /metrics endpoint for Prom scraping
type PrometheusMetrics struct {
	Requests      prometheus.Counter
	Responses     *prometheus.CounterVec
	PartialFail   prometheus.Counter
	RequestCancel *prometheus.CounterVec
	DurationExp   prometheus.Histogram
	DurationLin   prometheus.Histogram

	Reads           prometheus.Counter
	ReadErrors      prometheus.Counter
	ReadDurationExp prometheus.Histogram
	ActiveReads     prometheus.Gauge
	WaitingReads    prometheus.Gauge

	IngestedPoints prometheus.Counter

	CacheRequests  *prometheus.CounterVec
	CacheResponses *prometheus.CounterVec
	CacheTimeouts  prometheus.Counter
}

func newPrometheusMetrics(config cfg.Config) PrometheusMetrics {
	return PrometheusMetrics{
		Requests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Count of HTTP requests",
			},
		),
		Responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_responses_total",
				Help: "Count of HTTP responses, partitioned by return code and handler",
			},
			[]string{"code", "handler", "from_cache"},
		),
		PartialFail: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_partial_fail",
				Help: "Count of queries where some chunk reads failed",
			},
		),
		RequestCancel: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_cancel",
				Help: "Context cancellations of incoming requests due to manual cancels or timeouts",
			},
			[]string{"handler", "cause"},
		),
		DurationExp: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds_exp",
				Help: "The duration of HTTP requests (exponential)",
				Buckets: prometheus.ExponentialBuckets(
					config.Monitoring.RequestDurationExp.Start,
					config.Monitoring.RequestDurationExp.BucketSize,
					config.Monitoring.RequestDurationExp.BucketsNum),
			},
		),
		DurationLin: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds_lin",
				Help: "The duration of HTTP requests (linear)",
				Buckets: prometheus.LinearBuckets(
					config.Monitoring.RequestDurationLin.Start,
					config.Monitoring.RequestDurationLin.BucketSize,
					config.Monitoring.RequestDurationLin.BucketsNum),
			},
		),
		Reads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "source_reads_total",
				Help: "Count of chunk reads sent to the sources",
			},
		),
		ReadErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "source_read_errors_total",
				Help: "Count of chunk reads that failed",
			},
		),
		ReadDurationExp: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: "source_read_duration_seconds_exp",
				Help: "The duration of chunk reads (exponential)",
				Buckets: prometheus.ExponentialBuckets(
					config.Monitoring.ReadDurationExp.Start,
					config.Monitoring.ReadDurationExp.BucketSize,
					config.Monitoring.ReadDurationExp.BucketsNum),
			},
		),
		ActiveReads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "source_reads_active",
				Help: "Number of chunk reads in flight",
			},
		),
		WaitingReads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "source_reads_waiting",
				Help: "Number of chunk reads waiting for a free slot",
			},
		),
		IngestedPoints: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingested_points_total",
				Help: "Count of points written to the local store",
			},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_requests_total",
				Help: "Count of requests to the replicated cache",
			},
			[]string{"operation"},
		),
		CacheResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_responses_total",
				Help: "Count of replicated cache responses, partitioned by status",
			},
			[]string{"operation", "status"},
		),
		CacheTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_timeouts_total",
				Help: "Count of replicated cache reads that timed out",
			},
		),
	}
}

func (ms PrometheusMetrics) queryMetrics() *query.Metrics {
	return &query.Metrics{
		Reads:       ms.Reads,
		ReadErrors:  ms.ReadErrors,
		PartialFail: ms.PartialFail,
		ReadLatency: ms.ReadDurationExp,
	}
}

func (app *App) registerPrometheusMetrics() {
	prometheus.MustRegister(app.ms.Requests)
	prometheus.MustRegister(app.ms.Responses)
	prometheus.MustRegister(app.ms.PartialFail)
	prometheus.MustRegister(app.ms.RequestCancel)
	prometheus.MustRegister(app.ms.DurationExp)
	prometheus.MustRegister(app.ms.DurationLin)

	prometheus.MustRegister(app.ms.Reads)
	prometheus.MustRegister(app.ms.ReadErrors)
	prometheus.MustRegister(app.ms.ReadDurationExp)
	prometheus.MustRegister(app.ms.ActiveReads)
	prometheus.MustRegister(app.ms.WaitingReads)

	prometheus.MustRegister(app.ms.IngestedPoints)

	prometheus.MustRegister(app.ms.CacheRequests)
	prometheus.MustRegister(app.ms.CacheResponses)
	prometheus.MustRegister(app.ms.CacheTimeouts)
}

// graphiteMetrics are pushed to Graphite when a host is configured.
type graphiteMetrics struct {
	Requests    *expvar.Int
	Responses   *expvar.Int
	Errors      *expvar.Int
	CacheHits   *expvar.Int
	CacheMisses *expvar.Int

	// timeBuckets count requests by duration, 50ms apart on a log2 scale.
	timeBuckets []int64
}

func newGraphiteMetrics() graphiteMetrics {
	return graphiteMetrics{
		Requests:    new(expvar.Int),
		Responses:   new(expvar.Int),
		Errors:      new(expvar.Int),
		CacheHits:   new(expvar.Int),
		CacheMisses: new(expvar.Int),
		timeBuckets: make([]int64, timeBucketsNum+1),
	}
}

func (app *App) bucketEntry(b int) expvar.Var {
	return expvar.Func(func() interface{} {
		return strconv.Itoa(int(atomic.LoadInt64(&app.gm.timeBuckets[b])))
	})
}

// bucketRequestTimes is called by httputil.TimeHandler once a request is
// served.
func (app *App) bucketRequestTimes(req *http.Request, t time.Duration) {
	app.ms.DurationExp.Observe(t.Seconds())
	app.ms.DurationLin.Observe(t.Seconds())

	b := util.Bucket(t, timeBucketsNum)
	atomic.AddInt64(&app.gm.timeBuckets[b], 1)
}

func graphiteHost(config cfg.GraphiteConfig) string {
	envhost := os.Getenv("GRAPHITEHOST") + ":" + os.Getenv("GRAPHITEPORT")
	switch {
	case config.Host != "":
		return config.Host
	case envhost != ":":
		return envhost
	}

	return ""
}

func graphitePattern(config cfg.GraphiteConfig) string {
	hostname, _ := os.Hostname()
	hostname = strings.Replace(hostname, ".", "_", -1)

	pattern := config.Pattern
	if pattern == "" {
		pattern = "{prefix}.{fqdn}"
	}
	pattern = strings.Replace(pattern, "{prefix}", config.Prefix, -1)
	pattern = strings.Replace(pattern, "{fqdn}", hostname, -1)

	return pattern
}

func (app *App) registerGraphiteMetrics(logger *zap.Logger) {
	host := graphiteHost(app.config.Graphite)
	if host == "" {
		return
	}

	graphite := g2g.NewGraphite(host, app.config.Graphite.Interval, 10*time.Second)
	pattern := graphitePattern(app.config.Graphite)
	logger.Info("pushing metrics to graphite",
		zap.String("host", host),
		zap.String("pattern", pattern),
		zap.Duration("interval", app.config.Graphite.Interval),
	)

	graphite.Register(fmt.Sprintf("%s.requests", pattern), app.gm.Requests)
	graphite.Register(fmt.Sprintf("%s.responses", pattern), app.gm.Responses)
	graphite.Register(fmt.Sprintf("%s.errors", pattern), app.gm.Errors)
	graphite.Register(fmt.Sprintf("%s.request_cache_hits", pattern), app.gm.CacheHits)
	graphite.Register(fmt.Sprintf("%s.request_cache_misses", pattern), app.gm.CacheMisses)

	for i := 0; i <= timeBucketsNum; i++ {
		lower, upper := util.Bounds(i)
		graphite.Register(fmt.Sprintf("%s.exp.requests_in_%05dms_to_%05dms", pattern,
			lower.Milliseconds(), upper.Milliseconds()), app.bucketEntry(i))
	}

	startMinute := time.Now().Unix() / 60
	graphite.Register(fmt.Sprintf("%s.uptime", pattern), expvar.Func(func() interface{} {
		return time.Now().Unix()/60 - startMinute
	}))
	graphite.Register(fmt.Sprintf("%s.goroutines", pattern), expvar.Func(func() interface{} {
		return runtime.NumGoroutine()
	}))
}
