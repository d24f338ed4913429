package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bookingcom/inputkit/pkg/backend/mock"
	"github.com/bookingcom/inputkit/pkg/backend/net"
	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
)

var t0 = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func at(m int) time.Time { return t0.Add(time.Duration(m) * time.Minute) }

func request() types.ReadRequest {
	return types.ReadRequest{Measurement: "steps", Range: types.TimeRange{Start: at(0), End: at(60)}}
}

func replica(points ...history.DataPoint) Backend {
	return mock.New(mock.Config{Read: mock.Points("steps", points)})
}

func failing(err error) Backend {
	return mock.New(mock.Config{Read: func(context.Context, types.ReadRequest) (history.Response, error) {
		return history.Response{}, err
	}})
}

func TestReadsMergesReplicas(t *testing.T) {
	a := history.NewDataPoint(at(0), at(5), history.IntValue(1))
	b := history.NewDataPoint(at(5), at(10), history.IntValue(2))

	got, err := Reads(context.Background(), []Backend{replica(a, b), replica(b)}, request())
	if err != nil {
		t.Fatalf("Reads() unexpected error: %v", err)
	}

	if len(got.DataSets) != 1 || got.Len() != 2 {
		t.Errorf("Reads() = %+v, want one data set with 2 points", got)
	}
}

func TestReadsPartialFailure(t *testing.T) {
	a := history.NewDataPoint(at(0), at(5), history.IntValue(1))
	bs := []Backend{replica(a), failing(net.NewErrHTTPCode(http.StatusInternalServerError, "boom"))}

	got, err := Reads(context.Background(), bs, request())
	if err != nil {
		t.Fatalf("Reads() unexpected error: %v", err)
	}
	if got.Len() != 1 {
		t.Errorf("Reads() returned %d points, want 1", got.Len())
	}
}

func TestReadsAllFailed(t *testing.T) {
	boom := net.NewErrHTTPCode(http.StatusInternalServerError, "boom")
	bs := []Backend{failing(boom), failing(boom), failing(errors.New("refused"))}

	_, err := Reads(context.Background(), bs, request())
	if err == nil {
		t.Fatal("Reads() expected an error")
	}
	if !strings.Contains(err.Error(), "boom: 2 backends") || !strings.Contains(err.Error(), "refused: 1 backends") {
		t.Errorf("Reads() error = %q, want counted messages", err)
	}

	var code *net.ErrHTTPCode
	if !errors.As(err, &code) || code.Code() != http.StatusInternalServerError {
		t.Errorf("Reads() error does not expose the HTTP failure: %v", err)
	}
}

func TestReadsNotFound(t *testing.T) {
	_, err := Reads(context.Background(), []Backend{replica(), replica()}, request())
	if !errors.Is(err, types.ErrSamplesNotFound) {
		t.Errorf("Reads() error = %v, want ErrSamplesNotFound", err)
	}

	a := history.NewDataPoint(at(0), at(5), history.IntValue(1))
	got, err := Reads(context.Background(), []Backend{replica(), replica(a)}, request())
	if err != nil || got.Len() != 1 {
		t.Errorf("Reads() = %d points, %v, want 1 point", got.Len(), err)
	}
}

func TestFilter(t *testing.T) {
	yes := mock.New(mock.Config{Address: "yes", Contains: func([]string) bool { return true }})
	no := mock.New(mock.Config{Address: "no"})

	got := Filter([]Backend{yes, no}, []string{"steps"})
	if len(got) != 1 || got[0].GetServerAddress() != "yes" {
		t.Errorf("Filter() = %v, want only the backend holding the measurement", got)
	}

	if got := Filter([]Backend{no}, []string{"steps"}); len(got) != 1 {
		t.Errorf("Filter() = %v, want every backend when none is known", got)
	}
}
