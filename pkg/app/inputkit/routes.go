package inputkit

import (
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/dgryski/httputil"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	muxtrace "go.opentelemetry.io/contrib/instrumentation/gorilla/mux"
	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/handlerlog"
	"github.com/bookingcom/inputkit/pkg/util"
)

func initHandlersInternal(app *App, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ingest", handlerlog.WithLogger(app.ingestHandler, logger, app.config.HeadersToLog...))

	r.Handle("/metrics", promhttp.Handler())

	r.HandleFunc("/debug/pprof", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return removeTrailingSlash(r)
}

func initHandlers(app *App, lg *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.Use(handlers.CompressHandler)
	r.Use(handlers.CORS())
	r.Use(handlers.ProxyHeaders)
	r.Use(util.UUIDHandler)
	r.Use(muxtrace.Middleware("inputkit"))

	timed := func(h handlerlog.HandlerWithLogger) http.HandlerFunc {
		return httputil.TimeHandler(handlerlog.WithLogger(h, lg, app.config.HeadersToLog...), app.bucketRequestTimes)
	}

	r.HandleFunc("/buckets", timed(app.bucketsHandler))
	r.HandleFunc("/total", timed(app.totalHandler))
	r.HandleFunc("/samples", timed(app.samplesHandler))
	r.HandleFunc("/chunks", timed(app.chunksHandler))
	r.HandleFunc("/lb_check", handlerlog.WithLogger(app.lbcheckHandler, lg))
	r.HandleFunc("/version", handlerlog.WithLogger(app.versionHandler, lg))
	r.HandleFunc("/", handlerlog.WithLogger(app.usageHandler, lg))

	r.NotFoundHandler = handlerlog.WithLogger(app.usageHandler, lg)

	return removeTrailingSlash(r)
}

func removeTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}
