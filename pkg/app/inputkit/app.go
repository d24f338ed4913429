/*
Package inputkit is the HTTP application: it answers bucket, total and sample
queries over the configured sources, and accepts writes into the embedded
store on its internal listener.
*/
package inputkit

import (
	"net"
	"net/http"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/facebookgo/pidfile"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/backend"
	"github.com/bookingcom/inputkit/pkg/backend/local"
	bnet "github.com/bookingcom/inputkit/pkg/backend/net"
	"github.com/bookingcom/inputkit/pkg/cache"
	"github.com/bookingcom/inputkit/pkg/cfg"
	"github.com/bookingcom/inputkit/pkg/prioritylimiter"
	"github.com/bookingcom/inputkit/pkg/query"
	"github.com/bookingcom/inputkit/pkg/trace"
)

// BuildVersion is provided to be overridden at build time. Eg. go build -ldflags -X 'main.BuildVersion=...'
var BuildVersion string

// App is the main inputkit runnable
type App struct {
	config     cfg.Config
	engine     *query.Engine
	store      *local.Store
	queryCache cache.BytesCache

	defaultTimeZone *time.Location

	ms PrometheusMetrics
	gm graphiteMetrics
	Lg *zap.Logger
}

// New creates a new app
func New(config cfg.Config, lg *zap.Logger, buildVersion string) (*App, error) {
	BuildVersion = buildVersion

	backends, store, err := initBackends(config, lg)
	if err != nil {
		return nil, errors.WithMessage(err, "couldn't initialize backends")
	}

	app, err := newApp(config, backends, store, lg)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	if app.config.PidFile != "" {
		pidfile.SetPidfilePath(app.config.PidFile)
	}
	err = pidfile.Write()
	if err != nil && !pidfile.IsNotConfigured(err) {
		return nil, errors.Wrap(err, "error during pidfile.Write()")
	}

	return app, nil
}

func newApp(config cfg.Config, backends []backend.Backend, store *local.Store, lg *zap.Logger) (*App, error) {
	loc, err := config.Location()
	if err != nil {
		return nil, err
	}

	app := &App{
		config:          config,
		store:           store,
		defaultTimeZone: loc,
		ms:              newPrometheusMetrics(config),
		gm:              newGraphiteMetrics(),
		Lg:              lg,
	}

	app.engine, err = query.New(query.Config{
		Backends:    backends,
		Caps:        config.Chunking,
		Location:    loc,
		Concurrency: config.FetchConcurrency,
		Timeout:     config.Timeouts.Read,
		DayTimeout:  config.Timeouts.DayRead,
		Logger:      lg.Named("query"),
		Metrics:     app.ms.queryMetrics(),
		LimiterOptions: []prioritylimiter.Option{
			prioritylimiter.WithMetrics(app.ms.ActiveReads, app.ms.WaitingReads),
		},
	})
	if err != nil {
		return nil, err
	}

	app.queryCache, err = cache.New(config.Cache, cache.Metrics{
		Requests:  app.ms.CacheRequests,
		Responses: app.ms.CacheResponses,
		Timeouts:  app.ms.CacheTimeouts,
	}, lg)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Start starts the app: inits handlers, logger, starts HTTP server
func (app *App) Start(logger *zap.Logger) func() {
	flush, err := trace.InitTracer(BuildVersion, "inputkit", logger, app.config.Traces)
	if err != nil {
		logger.Error("tracing is disabled", zap.Error(err))
		flush = func() {}
	}
	app.registerPrometheusMetrics()
	app.registerGraphiteMetrics(logger)

	handler := initHandlers(app, logger)
	internalHandler := initHandlersInternal(app, logger)

	gracehttp.SetLogger(zap.NewStdLog(logger))
	err = gracehttp.Serve(
		&http.Server{
			Addr:         app.config.Listen,
			Handler:      handler,
			ReadTimeout:  time.Second,
			WriteTimeout: app.config.Timeouts.Global * 2, // It has to be greater than Timeout.Global because we use that value as per-request context timeout
		},
		&http.Server{
			Addr:         app.config.ListenInternal,
			Handler:      internalHandler,
			ReadTimeout:  time.Minute,
			WriteTimeout: time.Minute, // This long timeout is necessary for profiling.
		},
	)
	if err != nil {
		logger.Fatal("gracehttp failed", zap.Error(err))
	}

	return func() {
		flush()
		if app.store != nil {
			if err := app.store.Close(); err != nil {
				logger.Error("failed to close the local store", zap.Error(err))
			}
		}
	}
}

func initBackends(config cfg.Config, logger *zap.Logger) ([]backend.Backend, *local.Store, error) {
	client := &http.Client{}
	client.Transport = &http.Transport{
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		DialContext: (&net.Dialer{
			Timeout:   config.Timeouts.Connect,
			KeepAlive: config.KeepAliveInterval,
		}).DialContext,
	}

	netConfig := func(address string) bnet.Config {
		return bnet.Config{
			Address:            address,
			Client:             client,
			Timeout:            config.Timeouts.Global,
			Limit:              config.ConcurrencyLimitPerServer,
			PathCacheExpirySec: uint32(config.ExpireDelaySec),
			Logger:             logger.With(zap.String("backend", address)),
		}
	}

	var backends []backend.Backend
	for _, host := range config.Backends {
		b, err := bnet.New(netConfig(host))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "couldn't create backend for '%s'", host)
		}
		backends = append(backends, b)
	}

	for _, host := range config.GrpcBackends {
		b, err := bnet.NewGrpc(bnet.GrpcConfig{Config: netConfig(host), GrpcAddress: host})
		if err != nil {
			return nil, nil, errors.Wrapf(err, "couldn't create gRPC backend for '%s'", host)
		}
		backends = append(backends, b)
	}

	var store *local.Store
	if config.Local.Enabled {
		var err error
		store, err = local.Open(config.Local.Config, logger.Named("local"))
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, store)
	}

	if len(backends) == 0 {
		return nil, nil, errors.New("got empty list of backends from config")
	}

	logger.Info("backends configured",
		zap.Strings("http", config.Backends),
		zap.Strings("grpc", config.GrpcBackends),
		zap.Bool("local", store != nil),
	)

	return backends, store, nil
}
