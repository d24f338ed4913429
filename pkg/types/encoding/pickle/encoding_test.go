package pickle

import (
	"bytes"
	"testing"
	"time"

	pickle "github.com/lomik/og-rek"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/types/encoding"
)

func TestEncoder(t *testing.T) {
	t0 := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	series := []encoding.Series{{Name: "steps", Points: []encoding.Point{
		{Range: types.TimeRange{Start: t0, End: t0.Add(time.Minute)}, Value: history.IntValue(3)},
		{Range: types.TimeRange{Start: t0.Add(time.Minute), End: t0.Add(2 * time.Minute)}},
	}}}

	blob, err := Encoder(series)
	if err != nil {
		t.Fatal(err)
	}

	d := pickle.NewDecoder(bytes.NewReader(blob))
	got, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode() unexpected error: %v", err)
	}
	list, ok := got.([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("Encoder() wrote %#v, want a list of one dict", got)
	}
}
