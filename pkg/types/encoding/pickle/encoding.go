// Package pickle encodes results in a format graphite-web can read.
// Decoding is not supported.
package pickle

import (
	"bytes"

	pickle "github.com/lomik/og-rek"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types/encoding"
)

// Encoder encodes series as a list of dicts with name, start, end, step and
// values. Absent values are None.
func Encoder(series []encoding.Series) ([]byte, error) {
	p := make([]interface{}, 0, len(series))

	for _, s := range series {
		values := make([]interface{}, len(s.Points))
		for i, pt := range s.Points {
			values[i] = value(pt.Value)
		}

		var start, end int64
		if n := len(s.Points); n > 0 {
			start = s.Points[0].Range.Start.Unix()
			end = s.Points[n-1].Range.End.Unix()
		}

		p = append(p, map[string]interface{}{
			"name":   s.Name,
			"start":  start,
			"end":    end,
			"step":   int64(s.Step().Seconds()),
			"values": values,
		})
	}

	var buf bytes.Buffer
	penc := pickle.NewEncoder(&buf)
	err := penc.Encode(p)

	return buf.Bytes(), err
}

func value(v history.Value) interface{} {
	switch v.Format {
	case history.FormatInt:
		return v.Int
	case history.FormatFloat:
		return v.Float
	case history.FormatString:
		return v.Str
	}

	return pickle.None{}
}
