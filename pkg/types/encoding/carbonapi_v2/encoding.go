/*
Package carbonapi_v2 encodes and decodes series in the carbonapi v2 protocol
buffer format.

A series is sent as one FetchResponse. Its step is the length of the first
point; a point that does not start on a step boundary is rejected.
*/
package carbonapi_v2

import (
	"math"
	"strconv"
	"time"

	"github.com/go-graphite/protocol/carbonapi_v2_pb"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/types/encoding"
)

// Encoder encodes series as a MultiFetchResponse.
func Encoder(series []encoding.Series) ([]byte, error) {
	out := &carbonapi_v2_pb.MultiFetchResponse{
		Metrics: make([]*carbonapi_v2_pb.FetchResponse, 0, len(series)),
	}

	for _, s := range series {
		fr, err := fetchResponse(s)
		if err != nil {
			return nil, err
		}
		out.Metrics = append(out.Metrics, fr)
	}

	return proto.Marshal(out)
}

func fetchResponse(s encoding.Series) (*carbonapi_v2_pb.FetchResponse, error) {
	fr := &carbonapi_v2_pb.FetchResponse{
		Name:     s.Name,
		Values:   make([]float64, len(s.Points)),
		IsAbsent: make([]bool, len(s.Points)),
	}
	if len(s.Points) == 0 {
		return fr, nil
	}

	step := int64(s.Step() / time.Second)
	start := s.Points[0].Range.Start.Unix()
	fr.StartTime = int32(start)
	fr.StopTime = int32(s.Points[len(s.Points)-1].Range.End.Unix())
	fr.StepTime = int32(step)

	for i, p := range s.Points {
		if p.Range.Start.Unix() != start+int64(i)*step {
			return nil, errors.Errorf("series %s is not evenly spaced at point %d", s.Name, i)
		}

		if v, ok := float(p.Value); ok {
			fr.Values[i] = v
		} else {
			fr.IsAbsent[i] = true
		}
	}

	return fr, nil
}

func float(v history.Value) (float64, bool) {
	switch v.Format {
	case history.FormatInt:
		return float64(v.Int), true
	case history.FormatFloat:
		return v.Float, !math.IsNaN(v.Float)
	case history.FormatString:
		f, err := strconv.ParseFloat(v.Str, 64)
		return f, err == nil
	}

	return 0, false
}

// Decoder reads a MultiFetchResponse into one data set per metric.
func Decoder(blob []byte) ([]history.DataSet, error) {
	resp := &carbonapi_v2_pb.MultiFetchResponse{}
	if err := proto.Unmarshal(blob, resp); err != nil {
		return nil, err
	}

	sets := make([]history.DataSet, 0, len(resp.Metrics))
	for _, m := range resp.Metrics {
		sets = append(sets, DataSet(m))
	}

	return sets, nil
}

// DataSet turns a fetched metric into points, one per present value, each
// lasting one step.
func DataSet(m *carbonapi_v2_pb.FetchResponse) history.DataSet {
	ds := history.DataSet{
		DataType: m.Name,
		Points:   make([]history.DataPoint, 0, len(m.Values)),
	}

	step := time.Duration(m.StepTime) * time.Second
	for i, v := range m.Values {
		if (i < len(m.IsAbsent) && m.IsAbsent[i]) || math.IsNaN(v) {
			continue
		}
		start := time.Unix(int64(m.StartTime), 0).UTC().Add(time.Duration(i) * step)
		ds.Points = append(ds.Points, history.NewDataPoint(start, start.Add(step), history.FloatValue(v)))
	}

	return ds
}

// Groups turns data sets read with server side aggregation into one group per
// point range, in the order the ranges first appear.
func Groups(sets []history.DataSet) []history.Group {
	var groups []history.Group
	idx := make(map[[2]int64]int)

	for _, ds := range sets {
		for _, p := range ds.Points {
			key := [2]int64{p.Start.Unix(), p.End.Unix()}
			i, ok := idx[key]
			if !ok {
				i = len(groups)
				idx[key] = i
				groups = append(groups, history.Group{Range: types.TimeRange{Start: p.Start, End: p.End}})
			}

			g := &groups[i]
			if n := len(g.DataSets); n > 0 && g.DataSets[n-1].DataType == ds.DataType {
				g.DataSets[n-1].Points = append(g.DataSets[n-1].Points, p)
			} else {
				g.DataSets = append(g.DataSets, history.DataSet{DataType: ds.DataType, Points: []history.DataPoint{p}})
			}
		}
	}

	return groups
}
