package history

import (
	"github.com/bookingcom/inputkit/pkg/types"
)

// Flatten turns a response into samples, keeping the order the source gave.
// With aggregation the groups are walked (group, then data set, then point);
// without it the flat data sets are.
func Flatten[T any](resp Response, useAggregation bool, conv Converter[T]) []types.Sample[T] {
	samples := make([]types.Sample[T], 0, resp.Len())

	if useAggregation {
		for _, g := range resp.Groups {
			samples = appendDataSets(samples, g.DataSets, conv)
		}
		return samples
	}

	return appendDataSets(samples, resp.DataSets, conv)
}

func appendDataSets[T any](samples []types.Sample[T], sets []DataSet, conv Converter[T]) []types.Sample[T] {
	for _, ds := range sets {
		for _, p := range ds.Points {
			samples = append(samples, types.Sample[T]{
				Value: conv(p),
				Range: types.TimeRange{Start: p.Start, End: p.End},
			})
		}
	}

	return samples
}

type pointKey struct {
	dataType string
	start    int64
	end      int64
}

// Merge combines responses read from replicas of the same source.
// Groups with the same range are merged, and a point is kept only the first
// time its data type and range are seen.
func Merge(responses []Response) Response {
	if len(responses) == 1 {
		return responses[0]
	}

	var merged Response
	seenGrouped := make(map[pointKey]struct{})
	seenFlat := make(map[pointKey]struct{})
	groupIdx := make(map[[2]int64]int)

	for _, resp := range responses {
		for _, g := range resp.Groups {
			key := [2]int64{g.Range.Start.UnixNano(), g.Range.End.UnixNano()}
			i, ok := groupIdx[key]
			if !ok {
				i = len(merged.Groups)
				groupIdx[key] = i
				merged.Groups = append(merged.Groups, Group{Range: g.Range})
			}
			merged.Groups[i].DataSets = mergeDataSets(merged.Groups[i].DataSets, g.DataSets, seenGrouped)
		}
		merged.DataSets = mergeDataSets(merged.DataSets, resp.DataSets, seenFlat)
	}

	return merged
}

func mergeDataSets(dst, src []DataSet, seen map[pointKey]struct{}) []DataSet {
	for _, ds := range src {
		i := -1
		for j := range dst {
			if dst[j].DataType == ds.DataType {
				i = j
				break
			}
		}
		if i < 0 {
			i = len(dst)
			dst = append(dst, DataSet{DataType: ds.DataType})
		}

		for _, p := range ds.Points {
			k := pointKey{dataType: ds.DataType, start: p.Start.UnixNano(), end: p.End.UnixNano()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			dst[i].Points = append(dst[i].Points, p)
		}
	}

	return dst
}
