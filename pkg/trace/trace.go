/*
Package trace sets up trace collection.

Traces are exported to Jaeger when an endpoint is configured, through the
config file or JAEGER_ENDPOINT; otherwise a no-op provider is installed.
*/
package trace

import (
	"net/http"
	"os"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/api/global"
	"go.opentelemetry.io/otel/api/kv"
	"go.opentelemetry.io/otel/api/propagation"
	"go.opentelemetry.io/otel/api/trace"
	"go.opentelemetry.io/otel/exporters/trace/jaeger"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/cfg"
)

// Endpoint is the collector traces are sent to; empty disables tracing.
func Endpoint(config cfg.Traces) string {
	if endpoint := os.Getenv("JAEGER_ENDPOINT"); endpoint != "" {
		return endpoint
	}

	return config.JaegerEndpoint
}

// InitTracer registers the global trace provider and returns its flush
// function.
func InitTracer(buildVersion, serviceName string, logger *zap.Logger, config cfg.Traces) (func(), error) {
	endpoint := Endpoint(config)
	logger.Info("Traces", zap.String("jaegerEndpoint", endpoint))
	if endpoint == "" {
		global.SetTraceProvider(trace.NoopProvider{})
		return func() {}, nil
	}

	client := &http.Client{
		Transport: &http.Transport{Proxy: nil},
		Timeout:   config.Timeout,
	}

	fqdn, _ := os.Hostname()
	_, flush, err := jaeger.NewExportPipeline(
		jaeger.WithCollectorEndpoint(endpoint, jaeger.WithHTTPClient(client)),
		jaeger.WithProcess(jaeger.Process{
			ServiceName: serviceName,
			Tags: []kv.KeyValue{
				kv.String("exporter", "jaeger"),
				kv.String("host.hostname", fqdn),
				kv.String("service.version", buildVersion),
			},
		}),
		jaeger.RegisterAsGlobal(),
		jaeger.WithSDK(&sdktrace.Config{DefaultSampler: sdktrace.AlwaysSample()}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up the jaeger exporter")
	}

	// Grafana propagates traces over b3 headers
	oldProps := global.Propagators()
	props := propagation.New(
		propagation.WithExtractors(trace.B3{}),
		propagation.WithExtractors(oldProps.HTTPExtractors()...),
		propagation.WithInjectors(oldProps.HTTPInjectors()...),
	)
	global.SetPropagators(props)

	return flush, nil
}
