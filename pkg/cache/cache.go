/*
Package cache stores encoded query answers.

Answers are cached as bytes under a key derived from every query parameter
that changes the answer, so a key never needs to be parsed back.
*/
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/dgryski/go-expirecache"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/types"
)

var (
	ErrTimeout  = errors.New("cache: timeout")
	ErrNotFound = errors.New("cache: not found")
)

// BytesCache is what query answers are cached in. Expire is in seconds.
type BytesCache interface {
	Get(k string) ([]byte, error)
	Set(k string, v []byte, expire int32) error
}

// Config selects and sizes a cache.
type Config struct {
	// Type is one of null, mem, memcache and replicatedMemcache.
	Type       string   `yaml:"type"`
	Size       int      `yaml:"size_mb"`
	Servers    []string `yaml:"memcachedServers"`
	Prefix     string   `yaml:"prefix"`
	DefaultTTL int32    `yaml:"defaultTimeoutSec"`
	TimeoutMs  uint64   `yaml:"timeoutMs"`
}

// Metrics are required by the replicated memcache.
type Metrics struct {
	Requests  *prometheus.CounterVec
	Responses *prometheus.CounterVec
	Timeouts  prometheus.Counter
}

// New builds the cache cfg describes.
func New(cfg Config, metrics Metrics, logger *zap.Logger) (BytesCache, error) {
	switch cfg.Type {
	case "", "null":
		return NullCache{}, nil
	case "mem":
		size := uint64(cfg.Size) * 1024 * 1024
		logger.Info("memory cache enabled", zap.String("size", humanize.IBytes(size)))
		return NewExpireCache(size), nil
	case "memcache":
		if len(cfg.Servers) == 0 {
			return nil, types.NewConfigurationError("cache", cfg.Type, "no memcached servers")
		}
		logger.Info("memcached cache enabled", zap.Strings("servers", cfg.Servers))
		return NewMemcached(cfg.Prefix, cfg.TimeoutMs, cfg.Servers...), nil
	case "replicatedMemcache":
		if len(cfg.Servers) == 0 {
			return nil, types.NewConfigurationError("cache", cfg.Type, "no memcached servers")
		}
		logger.Info("replicated memcached cache enabled",
			zap.Strings("servers", cfg.Servers),
			zap.String("replicas", humanize.Comma(int64(len(cfg.Servers)))),
		)
		return NewReplicatedMemcached(cfg.Prefix, cfg.TimeoutMs, metrics, cfg.Servers...), nil
	}

	return nil, types.NewConfigurationError("cache type", cfg.Type, "expected null, mem, memcache or replicatedMemcache")
}

// Key builds the cache key of one answer. parts are the handler and its
// parameters, in a fixed order.
func Key(parts ...string) string {
	return strings.Join(parts, "&")
}

type NullCache struct{}

func (NullCache) Get(string) ([]byte, error)      { return nil, ErrNotFound }
func (NullCache) Set(string, []byte, int32) error { return nil }

// NewExpireCache keeps up to maxsize bytes in memory.
func NewExpireCache(maxsize uint64) *ExpireCache {
	ec := expirecache.New(maxsize)
	go ec.ApproximateCleaner(10 * time.Second)
	return &ExpireCache{ec: ec}
}

type ExpireCache struct {
	ec *expirecache.Cache
}

func (ec *ExpireCache) Get(k string) ([]byte, error) {
	v, ok := ec.ec.Get(k)
	if !ok {
		return nil, ErrNotFound
	}

	return v.([]byte), nil
}

func (ec *ExpireCache) Set(k string, v []byte, expire int32) error {
	ec.ec.Set(k, v, uint64(len(v)), expire)
	return nil
}

func (ec *ExpireCache) Items() int { return ec.ec.Items() }

func (ec *ExpireCache) Size() uint64 { return ec.ec.Size() }

// client is the part of a memcached client the caches use.
type client interface {
	Get(string) (*memcache.Item, error)
	Set(*memcache.Item) error
}

// NewMemcached caches in a single memcached pool, giving up on reads slower
// than timeoutMs.
func NewMemcached(prefix string, timeoutMs uint64, servers ...string) *MemcachedCache {
	return &MemcachedCache{
		prefix:    prefix,
		timeoutMs: timeoutMs,
		client:    memcache.New(servers...),
	}
}

type MemcachedCache struct {
	prefix    string
	client    client
	timeouts  uint64
	timeoutMs uint64
}

func (m *MemcachedCache) Get(k string) ([]byte, error) {
	type result struct {
		item *memcache.Item
		err  error
	}
	done := make(chan result, 1)

	go func() {
		item, err := m.client.Get(m.prefix + hashKey(k))
		done <- result{item, err}
	}()

	var res result
	select {
	case <-time.After(time.Duration(m.timeoutMs) * time.Millisecond):
		atomic.AddUint64(&m.timeouts, 1)
		return nil, ErrTimeout
	case res = <-done:
	}

	if res.err == memcache.ErrCacheMiss {
		return nil, ErrNotFound
	}
	if res.err != nil {
		return nil, res.err
	}
	if res.item == nil {
		return nil, ErrNotFound
	}

	return res.item.Value, nil
}

func (m *MemcachedCache) Set(k string, v []byte, expire int32) error {
	return m.client.Set(&memcache.Item{Key: m.prefix + hashKey(k), Value: v, Expiration: expire})
}

func (m *MemcachedCache) Timeouts() uint64 {
	return atomic.LoadUint64(&m.timeouts)
}

// ReplicatedMemcached caches in identical memcached instances. Each write goes
// to all of them; a read takes the first answer.
type ReplicatedMemcached struct {
	prefix    string
	instances []client
	timeoutMs uint64
	metrics   Metrics
}

func NewReplicatedMemcached(prefix string, timeoutMs uint64, metrics Metrics, servers ...string) *ReplicatedMemcached {
	m := &ReplicatedMemcached{
		prefix:    prefix,
		timeoutMs: timeoutMs,
		metrics:   metrics,
	}
	for _, s := range servers {
		m.instances = append(m.instances, memcache.New(s))
	}

	return m
}

func (m *ReplicatedMemcached) count(vec *prometheus.CounterVec, labels prometheus.Labels) {
	if vec != nil {
		vec.With(labels).Inc()
	}
}

// Get asks every replica and returns the first hit. It is a miss when most
// replicas miss, and an error when most fail or time out.
func (m *ReplicatedMemcached) Get(k string) ([]byte, error) {
	resCh := make(chan cacheResponse, len(m.instances))
	for _, replica := range m.instances {
		m.count(m.metrics.Requests, prometheus.Labels{"operation": "get"})
		go getFromReplica(replica, k, m.prefix, resCh)
	}

	tout := time.After(time.Duration(m.timeoutMs) * time.Millisecond)
	var errs []string
	misses := 0
wait:
	for range m.instances {
		select {
		case res := <-resCh:
			switch {
			case res.err != nil:
				m.count(m.metrics.Responses, prometheus.Labels{"operation": "get", "status": "error"})
				errs = append(errs, res.err.Error())
			case !res.found:
				m.count(m.metrics.Responses, prometheus.Labels{"operation": "get", "status": "not_found"})
				misses++
			default:
				m.count(m.metrics.Responses, prometheus.Labels{"operation": "get", "status": "ok"})
				return res.data, nil
			}
		case <-tout:
			if m.metrics.Timeouts != nil {
				m.metrics.Timeouts.Inc()
			}
			errs = append(errs, ErrTimeout.Error())
			break wait
		}
	}

	if misses > len(m.instances)/2 {
		return nil, ErrNotFound
	}

	return nil, errors.New("majority of caches failed: " + strings.Join(errs, "; "))
}

// Set writes to every replica and fails if any write failed.
func (m *ReplicatedMemcached) Set(k string, val []byte, expire int32) error {
	item := memcache.Item{Key: m.prefix + hashKey(k), Value: val, Expiration: expire}
	errCh := make(chan error, len(m.instances))
	for _, replica := range m.instances {
		m.count(m.metrics.Requests, prometheus.Labels{"operation": "set"})
		go func(c client) {
			it := item
			errCh <- c.Set(&it)
		}(replica)
	}

	var errs []string
	for range m.instances {
		if err := <-errCh; err != nil {
			m.count(m.metrics.Responses, prometheus.Labels{"operation": "set", "status": "error"})
			errs = append(errs, err.Error())
		} else {
			m.count(m.metrics.Responses, prometheus.Labels{"operation": "set", "status": "ok"})
		}
	}
	if len(errs) == 0 {
		return nil
	}

	return errors.New("caches failed: " + strings.Join(errs, "; "))
}

type cacheResponse struct {
	found bool
	data  []byte
	err   error
}

func getFromReplica(c client, k string, prefix string, res chan<- cacheResponse) {
	item, err := c.Get(prefix + hashKey(k))
	switch {
	case err == memcache.ErrCacheMiss:
		res <- cacheResponse{}
	case err != nil:
		res <- cacheResponse{err: err}
	default:
		res <- cacheResponse{found: true, data: item.Value}
	}
}

// hashKey keeps keys within memcached's length and charset limits.
func hashKey(k string) string {
	key := sha256.Sum256([]byte(k))
	return hex.EncodeToString(key[:])
}
