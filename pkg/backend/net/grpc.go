package net

import (
	"context"
	"io"

	capi_v2_grpc "github.com/go-graphite/protocol/carbonapi_v2_grpc"
	"github.com/go-graphite/protocol/carbonapi_v2_pb"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/types/encoding/carbonapi_v2"
	"github.com/bookingcom/inputkit/pkg/util"
)

// GrpcBackend represents a host that streams render responses over gRPC.
// It shares limits, timeouts and the known measurement cache with the HTTP
// Backend it embeds.
type GrpcBackend struct {
	*Backend
	carbonV2Client capi_v2_grpc.CarbonV2Client
}

type GrpcConfig struct {
	Config
	GrpcAddress string
}

// NewGrpc creates a new gRPC backend from the given configuration.
func NewGrpc(cfg GrpcConfig) (*GrpcBackend, error) {
	b, err := New(cfg.Config)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.Dial(cfg.GrpcAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	return newGrpc(b, capi_v2_grpc.NewCarbonV2Client(conn)), nil
}

func newGrpc(b *Backend, c capi_v2_grpc.CarbonV2Client) *GrpcBackend {
	return &GrpcBackend{
		Backend:        b,
		carbonV2Client: c,
	}
}

func multiFetchRequest(request types.ReadRequest) *carbonapi_v2_pb.MultiFetchRequest {
	return &carbonapi_v2_pb.MultiFetchRequest{
		Metrics: []*carbonapi_v2_pb.FetchRequest{{
			Name:      Target(request),
			StartTime: int32(request.Range.Start.Unix()),
			StopTime:  int32(request.Range.End.Unix()),
		}},
	}
}

// Read fetches the points of a measurement from a backend.
func (gb *GrpcBackend) Read(ctx context.Context, request types.ReadRequest) (history.Response, error) {
	ctx, cancel := gb.setTimeout(ctx)
	defer cancel()

	if err := gb.enter(ctx); err != nil {
		return history.Response{}, err
	}
	defer func() {
		if err := gb.leave(); err != nil {
			gb.logger.Error("Backend limiter full",
				zap.String("host", gb.address),
				zap.String("request_id", util.GetUUID(ctx)),
				zap.Error(err),
			)
		}
	}()

	stream, err := gb.carbonV2Client.Render(ctx, multiFetchRequest(request))
	if err != nil {
		return history.Response{}, err
	}

	var sets []history.DataSet
	for {
		fetchResponse, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return history.Response{}, ErrContextCancel{Err: ctx.Err()}
			}
			return history.Response{}, err
		}
		sets = append(sets, carbonapi_v2.DataSet(fetchResponse))
	}

	return gb.response(request, sets)
}
