package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBucket(t *testing.T) {
	tests := []struct {
		in      time.Duration
		buckets int
		want    int
	}{
		{0, 1, 0},
		{time.Second, 1, 1},
		{0, 4, 0},
		{49 * time.Millisecond, 4, 0},
		{50 * time.Millisecond, 4, 1},
		{99 * time.Millisecond, 4, 1},
		{100 * time.Millisecond, 4, 2},
		{399 * time.Millisecond, 4, 3},
		{400 * time.Millisecond, 4, 4},
		{time.Minute, 4, 4},
	}

	for _, tt := range tests {
		if got := Bucket(tt.in, tt.buckets); got != tt.want {
			t.Errorf("Bucket(%v, %d) = %d, want %d", tt.in, tt.buckets, got, tt.want)
		}
	}
}

func TestBounds(t *testing.T) {
	tests := []struct {
		bucket       int
		lower, upper time.Duration
	}{
		{0, 0, 50 * time.Millisecond},
		{1, 50 * time.Millisecond, 100 * time.Millisecond},
		{2, 100 * time.Millisecond, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		lower, upper := Bounds(tt.bucket)
		if lower != tt.lower || upper != tt.upper {
			t.Errorf("Bounds(%d) = [%v, %v), want [%v, %v)", tt.bucket, lower, upper, tt.lower, tt.upper)
		}
	}
}

func TestUUIDHandler(t *testing.T) {
	var got string
	h := UUIDHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUUID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/buckets", nil)
	req.Header.Set(Header, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "abc" {
		t.Errorf("GetUUID() = %q, want the caller's id", got)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/buckets", nil))
	if got == "" || got == "abc" {
		t.Errorf("GetUUID() = %q, want a fresh id", got)
	}
}

func TestMarshalCtx(t *testing.T) {
	ctx := WithUUID(context.Background())
	if WithUUID(ctx) != ctx {
		t.Error("WithUUID() replaced an existing id")
	}

	req := MarshalCtx(ctx, httptest.NewRequest("GET", "/render/", nil))
	if req.Header.Get(Header) != GetUUID(ctx) {
		t.Errorf("MarshalCtx() header = %q, want %q", req.Header.Get(Header), GetUUID(ctx))
	}
}
