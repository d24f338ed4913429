// Package util carries request ids through contexts and HTTP requests.
package util

import (
	"context"
	"net/http"

	uuid "github.com/satori/go.uuid"
)

// Header is the HTTP header request ids travel in.
const Header = "X-CTX-Inputkit-UUID"

type ctxKey struct{}

// GetUUID returns the request id carried by ctx, or "".
func GetUUID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}

	return ""
}

// SetUUID returns a copy of ctx carrying id.
func SetUUID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// WithUUID ensures that a context has a request id.
func WithUUID(ctx context.Context) context.Context {
	if GetUUID(ctx) != "" {
		return ctx
	}

	return SetUUID(ctx, uuid.NewV4().String())
}

// MarshalCtx copies the request id of ctx onto an outgoing request.
func MarshalCtx(ctx context.Context, request *http.Request) *http.Request {
	if id := GetUUID(ctx); id != "" {
		request.Header.Set(Header, id)
	}

	return request
}

type uuidHandler struct {
	handler http.Handler
}

// UUIDHandler is middleware that gives every request an id, reusing the one
// the caller sent if any.
func UUIDHandler(h http.Handler) http.Handler {
	return uuidHandler{handler: h}
}

func (h uuidHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(Header)
	if id == "" {
		id = uuid.NewV4().String()
	}

	h.handler.ServeHTTP(w, r.WithContext(SetUUID(r.Context(), id)))
}
