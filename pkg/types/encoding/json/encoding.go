/*
Package json encodes results as JSON.

Every series becomes an object with its name and a list of datapoints, each
datapoint being [value, startMillis, endMillis]. Absent and non-finite values
are null.
*/
package json

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/types/encoding"
)

type jsonSeries struct {
	Name       string              `json:"name"`
	Datapoints [][3]json.RawMessage `json:"datapoints"`
}

var null = json.RawMessage("null")

// Encoder encodes series.
func Encoder(series []encoding.Series) ([]byte, error) {
	out := make([]jsonSeries, 0, len(series))

	for _, s := range series {
		js := jsonSeries{
			Name:       s.Name,
			Datapoints: make([][3]json.RawMessage, len(s.Points)),
		}
		for i, p := range s.Points {
			v, err := encodeValue(p.Value)
			if err != nil {
				return nil, err
			}
			js.Datapoints[i] = [3]json.RawMessage{
				v,
				json.RawMessage(strconv.FormatInt(p.Range.StartMillis(), 10)),
				json.RawMessage(strconv.FormatInt(p.Range.EndMillis(), 10)),
			}
		}
		out = append(out, js)
	}

	return json.Marshal(out)
}

func encodeValue(v history.Value) (json.RawMessage, error) {
	switch v.Format {
	case history.FormatInt:
		return json.RawMessage(strconv.FormatInt(v.Int, 10)), nil
	case history.FormatFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return null, nil
		}
		return json.RawMessage(strconv.FormatFloat(v.Float, 'f', -1, 64)), nil
	case history.FormatString:
		return json.Marshal(v.Str)
	}

	return null, nil
}

// Decoder reads what Encoder wrote. Numbers without a fraction or exponent
// decode as integers.
func Decoder(blob []byte) ([]encoding.Series, error) {
	var in []jsonSeries
	if err := json.Unmarshal(blob, &in); err != nil {
		return nil, errors.Wrap(err, "malformed series")
	}

	series := make([]encoding.Series, 0, len(in))
	for _, js := range in {
		s := encoding.Series{Name: js.Name, Points: make([]encoding.Point, len(js.Datapoints))}
		for i, dp := range js.Datapoints {
			v, err := decodeValue(dp[0])
			if err != nil {
				return nil, err
			}
			start, err := strconv.ParseInt(string(dp[1]), 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "datapoint %d of %s", i, js.Name)
			}
			end, err := strconv.ParseInt(string(dp[2]), 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "datapoint %d of %s", i, js.Name)
			}

			s.Points[i] = encoding.Point{
				Range: types.TimeRange{Start: time.UnixMilli(start).UTC(), End: time.UnixMilli(end).UTC()},
				Value: v,
			}
		}
		series = append(series, s)
	}

	return series, nil
}

func decodeValue(raw json.RawMessage) (history.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, null) {
		return history.Value{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return history.Value{}, err
		}
		return history.StringValue(s), nil
	}

	text := string(raw)
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return history.IntValue(i), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return history.Value{}, errors.Wrapf(err, "bad value %s", text)
	}

	return history.FloatValue(f), nil
}
