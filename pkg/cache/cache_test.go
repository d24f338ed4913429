package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"go.uber.org/zap"
)

type testMemcache struct {
	delay   time.Duration
	mu      sync.Mutex
	data    map[string][]byte
	errKeys map[string]bool
	setErr  error
}

func (m *testMemcache) Get(k string) (*memcache.Item, error) {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errKeys[k] {
		return nil, errors.New("cache test err")
	}
	if v, ok := m.data[k]; ok {
		return &memcache.Item{Key: k, Value: v}, nil
	}
	return nil, memcache.ErrCacheMiss
}

func (m *testMemcache) Set(i *memcache.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[i.Key] = i.Value
	return nil
}

func TestGetFromReplica(t *testing.T) {
	m := &testMemcache{
		data:    map[string][]byte{hashKey("a"): []byte("aval")},
		errKeys: map[string]bool{hashKey("c"): true},
	}

	tests := []struct {
		key       string
		wantFound bool
		wantErr   bool
	}{
		{"a", true, false},
		{"b", false, false},
		{"c", false, true},
	}

	for _, tt := range tests {
		resCh := make(chan cacheResponse, 1)
		getFromReplica(m, tt.key, "", resCh)
		res := <-resCh
		if res.found != tt.wantFound || (res.err != nil) != tt.wantErr {
			t.Errorf("getFromReplica(%q) = %+v, want found %v, err %v", tt.key, res, tt.wantFound, tt.wantErr)
		}
	}
}

func replicated(instances ...*testMemcache) *ReplicatedMemcached {
	m := &ReplicatedMemcached{timeoutMs: 100}
	for _, i := range instances {
		m.instances = append(m.instances, i)
	}
	return m
}

func TestReplicatedGet(t *testing.T) {
	hit := func() *testMemcache {
		return &testMemcache{data: map[string][]byte{hashKey("k"): []byte("v")}}
	}
	miss := func() *testMemcache { return &testMemcache{} }
	broken := func() *testMemcache { return &testMemcache{errKeys: map[string]bool{hashKey("k"): true}} }
	slow := func() *testMemcache { return &testMemcache{delay: time.Second} }

	tests := []struct {
		name      string
		instances []*testMemcache
		want      string
		wantErr   error
	}{
		{"one hit is enough", []*testMemcache{miss(), broken(), hit()}, "v", nil},
		{"majority miss", []*testMemcache{miss(), miss(), broken()}, "", ErrNotFound},
		{"majority broken", []*testMemcache{miss(), broken(), broken()}, "", nil},
		{"timeout", []*testMemcache{slow(), slow()}, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := replicated(tt.instances...).Get("k")
			if tt.want != "" {
				if err != nil || string(got) != tt.want {
					t.Fatalf("Get() = %q, %v, want %q", got, err, tt.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("Get() = %q, want an error", got)
			}
			if tt.wantErr != nil && err != tt.wantErr {
				t.Errorf("Get() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && err == ErrNotFound {
				t.Errorf("Get() error = %v, want a failure", err)
			}
		})
	}
}

func TestReplicatedSet(t *testing.T) {
	a, b := &testMemcache{}, &testMemcache{}
	m := replicated(a, b)

	if err := m.Set("k", []byte("v"), 60); err != nil {
		t.Fatal(err)
	}
	for i, inst := range []*testMemcache{a, b} {
		if string(inst.data[hashKey("k")]) != "v" {
			t.Errorf("replica %d holds %q, want %q", i, inst.data[hashKey("k")], "v")
		}
	}

	b.setErr = errors.New("out of memory")
	if err := m.Set("k", []byte("w"), 60); err == nil {
		t.Error("Set() with a failing replica succeeded")
	}
}

func TestMemcachedGet(t *testing.T) {
	m := &MemcachedCache{
		prefix:    "p",
		timeoutMs: 50,
		client:    &testMemcache{data: map[string][]byte{"p" + hashKey("k"): []byte("v")}},
	}

	if got, err := m.Get("k"); err != nil || string(got) != "v" {
		t.Errorf("Get(k) = %q, %v, want v", got, err)
	}
	if _, err := m.Get("other"); err != ErrNotFound {
		t.Errorf("Get(other) error = %v, want %v", err, ErrNotFound)
	}

	m.client = &testMemcache{delay: time.Second}
	if _, err := m.Get("k"); err != ErrTimeout {
		t.Errorf("Get() on a slow server error = %v, want %v", err, ErrTimeout)
	}
	if m.Timeouts() != 1 {
		t.Errorf("Timeouts() = %d, want 1", m.Timeouts())
	}
}

func TestExpireCache(t *testing.T) {
	c := NewExpireCache(1024)
	if _, err := c.Get("k"); err != ErrNotFound {
		t.Fatalf("Get() on an empty cache error = %v, want %v", err, ErrNotFound)
	}

	if err := c.Set("k", []byte("value"), 60); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get("k")
	if err != nil || string(got) != "value" {
		t.Errorf("Get() = %q, %v, want value", got, err)
	}
	if c.Items() != 1 || c.Size() != 5 {
		t.Errorf("Items(), Size() = %d, %d, want 1, 5", c.Items(), c.Size())
	}
}

func TestNew(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		cfg     Config
		want    string
		wantErr bool
	}{
		{Config{}, "cache.NullCache", false},
		{Config{Type: "null"}, "cache.NullCache", false},
		{Config{Type: "mem", Size: 1}, "*cache.ExpireCache", false},
		{Config{Type: "memcache", Servers: []string{"localhost:11211"}}, "*cache.MemcachedCache", false},
		{Config{Type: "replicatedMemcache", Servers: []string{"a:11211", "b:11211"}}, "*cache.ReplicatedMemcached", false},
		{Config{Type: "memcache"}, "", true},
		{Config{Type: "redis"}, "", true},
	}

	for _, tt := range tests {
		c, err := New(tt.cfg, Metrics{}, logger)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%+v) error = %v, want error %v", tt.cfg, err, tt.wantErr)
			continue
		}
		if got := typeName(c); !tt.wantErr && got != tt.want {
			t.Errorf("New(%+v) = %s, want %s", tt.cfg, got, tt.want)
		}
	}
}

func typeName(c BytesCache) string {
	switch c.(type) {
	case NullCache:
		return "cache.NullCache"
	case *ExpireCache:
		return "*cache.ExpireCache"
	case *MemcachedCache:
		return "*cache.MemcachedCache"
	case *ReplicatedMemcached:
		return "*cache.ReplicatedMemcached"
	}
	return "unknown"
}

func TestKey(t *testing.T) {
	if got, want := Key("buckets", "m=steps", "i=day"), "buckets&m=steps&i=day"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}
