// Package csv encodes results as "name",start,end,value lines.
package csv

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/tebeka/strftime"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types/encoding"
)

// DefaultLayout is the strftime layout used when none is given.
const DefaultLayout = "%Y-%m-%d %H:%M:%S"

// Encoder writes one line per point, with times in location formatted with a
// strftime layout. Absent values leave the last column empty.
func Encoder(series []encoding.Series, location *time.Location, layout string) ([]byte, error) {
	if layout == "" {
		layout = DefaultLayout
	}

	var b []byte
	for _, s := range series {
		for _, p := range s.Points {
			b = append(b, '"')
			b = append(b, s.Name...)
			b = append(b, '"')

			for _, t := range []time.Time{p.Range.Start, p.Range.End} {
				if location != nil {
					t = t.In(location)
				}
				ts, err := strftime.Format(layout, t)
				if err != nil {
					return nil, errors.Wrapf(err, "bad time layout %q", layout)
				}
				b = append(b, ',')
				b = append(b, ts...)
			}

			b = append(b, ',')
			b = appendValue(b, p.Value)
			b = append(b, '\n')
		}
	}

	return b, nil
}

func appendValue(b []byte, v history.Value) []byte {
	switch v.Format {
	case history.FormatInt:
		return strconv.AppendInt(b, v.Int, 10)
	case history.FormatFloat:
		return strconv.AppendFloat(b, v.Float, 'f', -1, 64)
	case history.FormatString:
		return strconv.AppendQuote(b, v.Str)
	}

	return b
}
