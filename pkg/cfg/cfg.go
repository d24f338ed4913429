/*
Package cfg reads the inputkit configuration file.

Every setting has a default in DefaultConfig; the YAML file only needs the
settings it changes.
*/
package cfg

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/bookingcom/inputkit/pkg/backend/local"
	"github.com/bookingcom/inputkit/pkg/cache"
	"github.com/bookingcom/inputkit/pkg/chunk"
	"github.com/bookingcom/inputkit/pkg/types"
)

// DEBUG makes parsing reject unknown keys.
var DEBUG bool = false

// Config is the inputkit configuration.
type Config struct {
	Listen         string `yaml:"listen"`
	ListenInternal string `yaml:"listenInternal"`

	// Backends are HTTP sources answering Graphite render requests.
	Backends []string `yaml:"backends"`
	// GrpcBackends are sources answering the carbonapi_v2 gRPC render call.
	GrpcBackends []string `yaml:"grpcBackends"`
	Local        Local    `yaml:"local"`

	MaxProcs int      `yaml:"maxProcs"`
	Timeouts Timeouts `yaml:"timeouts"`
	// ConcurrencyLimitPerServer bounds the requests in flight to one source.
	ConcurrencyLimitPerServer int `yaml:"concurrencyLimit"`
	// FetchConcurrency bounds the chunk reads in flight across all queries.
	FetchConcurrency    int           `yaml:"fetchConcurrency"`
	KeepAliveInterval   time.Duration `yaml:"keepAliveInterval"`
	MaxIdleConnsPerHost int           `yaml:"maxIdleConnsPerHost"`
	// ExpireDelaySec is how long a source is remembered to hold a measurement.
	ExpireDelaySec int32 `yaml:"expireDelaySec"`

	Chunking        chunk.Caps     `yaml:"chunking"`
	DefaultInterval types.Interval `yaml:"defaultInterval"`
	// TimezoneString is an IANA name or "NAME,offsetSeconds". Empty means UTC.
	TimezoneString string       `yaml:"tz"`
	Cache          cache.Config `yaml:"cache"`

	Graphite     GraphiteConfig `yaml:"graphite"`
	Traces       Traces         `yaml:"traces"`
	PidFile      string         `yaml:"pidFile"`
	HeadersToLog []string       `yaml:"headersToLog"`
	Monitoring   Monitoring     `yaml:"monitoring"`
	LoggerConfig zap.Config     `yaml:"logger"`
}

// Local configures the embedded store. When enabled it is both a source and
// the target of /ingest.
type Local struct {
	Enabled      bool `yaml:"enabled"`
	local.Config `yaml:",inline"`
}

type Timeouts struct {
	// Global bounds a whole HTTP request.
	Global  time.Duration `yaml:"global"`
	Connect time.Duration `yaml:"connect"`
	// Read bounds one chunk read; DayRead replaces it for day and week
	// intervals.
	Read    time.Duration `yaml:"read"`
	DayRead time.Duration `yaml:"dayRead"`
}

type GraphiteConfig struct {
	Pattern  string        `yaml:"pattern"`
	Host     string        `yaml:"host"`
	Interval time.Duration `yaml:"interval"`
	Prefix   string        `yaml:"prefix"`
}

type Traces struct {
	JaegerEndpoint string        `yaml:"jaegerEndpoint"`
	Timeout        time.Duration `yaml:"timeout"`
}

// HistogramConfig is the shape of exponential or linear histogram buckets.
type HistogramConfig struct {
	Start      float64 `yaml:"start"`
	BucketSize float64 `yaml:"bucketSize"`
	BucketsNum int     `yaml:"bucketsNum"`
}

type Monitoring struct {
	RequestDurationExp HistogramConfig `yaml:"requestDurationExp"`
	RequestDurationLin HistogramConfig `yaml:"requestDurationLin"`
	ReadDurationExp    HistogramConfig `yaml:"readDurationExp"`
}

// DefaultConfig returns a working configuration without sources.
func DefaultConfig() Config {
	return Config{
		Listen:         ":8080",
		ListenInternal: ":7080",

		Timeouts: Timeouts{
			Global:  200 * time.Second,
			Connect: 200 * time.Millisecond,
			Read:    60 * time.Second,
			DayRead: 150 * time.Second,
		},
		ConcurrencyLimitPerServer: 20,
		FetchConcurrency:          16,
		KeepAliveInterval:         30 * time.Second,
		MaxIdleConnsPerHost:       100,
		ExpireDelaySec:            10 * 60,

		Chunking:        chunk.DefaultCaps(),
		DefaultInterval: types.TenMinutes,
		Cache: cache.Config{
			Type:       "mem",
			Size:       100,
			Prefix:     "inputkit",
			DefaultTTL: 60,
			TimeoutMs:  50,
		},

		Graphite: GraphiteConfig{
			Interval: 60 * time.Second,
			Prefix:   "inputkit",
			Pattern:  "{prefix}.{fqdn}",
		},
		Traces: Traces{
			Timeout: 10 * time.Second,
		},
		Monitoring: Monitoring{
			RequestDurationExp: HistogramConfig{Start: 0.05, BucketSize: 2, BucketsNum: 12},
			RequestDurationLin: HistogramConfig{Start: 0.05, BucketSize: 0.5, BucketsNum: 40},
			ReadDurationExp:    HistogramConfig{Start: 0.05, BucketSize: 2, BucketsNum: 12},
		},
		LoggerConfig: zap.NewProductionConfig(),
	}
}

// Parse decodes r on top of DefaultConfig and validates the result.
func Parse(r io.Reader) (Config, error) {
	d := yaml.NewDecoder(r)
	d.SetStrict(DEBUG)

	c := DefaultConfig()
	if err := d.Decode(&c); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}

	return c, c.Validate()
}

// Validate checks settings that have no usable fallback.
func (c Config) Validate() error {
	if len(c.Backends)+len(c.GrpcBackends) == 0 && !c.Local.Enabled {
		return types.NewConfigurationError("backends", "", "no source configured")
	}
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	if !c.DefaultInterval.Valid() {
		return types.NewConfigurationError("defaultInterval", c.DefaultInterval.String(), "unsupported time interval")
	}
	if c.Local.Enabled && !c.Local.InMemory && c.Local.Path == "" {
		return types.NewConfigurationError("local.path", "", "required unless inMemory is set")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}

// Location resolves TimezoneString.
func (c Config) Location() (*time.Location, error) {
	if c.TimezoneString == "" {
		return time.UTC, nil
	}

	fields := strings.Split(c.TimezoneString, ",")
	if len(fields) == 2 {
		// "UTC+1,3600"
		offs, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, types.NewConfigurationError("tz", c.TimezoneString, "offset must be a number of seconds")
		}
		return time.FixedZone(fields[0], offs), nil
	}

	loc, err := time.LoadLocation(c.TimezoneString)
	if err != nil {
		return nil, types.NewConfigurationError("tz", c.TimezoneString, err.Error())
	}

	return loc, nil
}
