package backend

import (
	"context"

	"go.uber.org/zap"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
)

// Backend is a source of raw samples.
//
// At the moment of writing can be one of:
// * mock, used for tests
// * net, HTTP or streaming gRPC to a Graphite compatible store
// * local, an embedded store fed through the ingest endpoint
type Backend interface {
	// Read returns what the source holds for one measurement over one safe
	// chunk. A source holding nothing returns types.ErrSamplesNotFound.
	Read(context.Context, types.ReadRequest) (history.Response, error)

	Contains([]string) bool // Reports whether a backend is known to hold any of the given measurements.
	Logger() *zap.Logger    // A logger used to communicate non-fatal warnings.
	GetServerAddress() string
}
