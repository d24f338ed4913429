// Package handlerlog hands HTTP handlers a logger scoped to the request.
package handlerlog

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/util"
)

type HandlerWithLogger func(w http.ResponseWriter, r *http.Request, logger *zap.Logger)

// WithLogger tags logger with the request id and the values of headersToLog
// before calling handlerFunc.
func WithLogger(handlerFunc HandlerWithLogger, logger *zap.Logger, headersToLog ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields := []zap.Field{zap.String("request_id", util.GetUUID(r.Context()))}
		for _, h := range headersToLog {
			if v := r.Header.Get(h); v != "" {
				fields = append(fields, zap.String("header_"+strings.ToLower(h), v))
			}
		}

		handlerFunc(w, r, logger.With(fields...))
	}
}
