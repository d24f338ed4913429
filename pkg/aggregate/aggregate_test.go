package aggregate

import (
	"errors"
	"testing"
	"time"

	"github.com/bookingcom/inputkit/pkg/history"
	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/google/go-cmp/cmp"
)

func TestSum(t *testing.T) {
	if got := Sum(1, 2, 3); got != 6 {
		t.Errorf("Sum(1, 2, 3) = %d, want 6", got)
	}
	if got := Sum[float32](); got != 0 {
		t.Errorf("Sum() = %v, want 0", got)
	}
	if got := Add(int16(200), int16(50)); got != 250 {
		t.Errorf("Add(200, 50) = %d, want 250", got)
	}

	start := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	buckets := []types.Bucket[float64]{
		{Value: 1.5, Range: types.TimeRange{Start: start, End: start.Add(time.Hour)}},
		{Value: 2.25, Range: types.TimeRange{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)}},
	}
	if got := Total(buckets); got != 3.75 {
		t.Errorf("Total() = %v, want 3.75", got)
	}
}

func TestSumValues(t *testing.T) {
	tests := []struct {
		name    string
		acc, v  history.Value
		want    history.Value
		wantErr bool
	}{
		{name: "ints", acc: history.IntValue(2), v: history.IntValue(3), want: history.IntValue(5)},
		{name: "int and float", acc: history.IntValue(2), v: history.FloatValue(0.5), want: history.FloatValue(2.5)},
		{name: "float and int", acc: history.FloatValue(1.25), v: history.IntValue(1), want: history.FloatValue(2.25)},
		{name: "unset accumulator", acc: history.Value{}, v: history.IntValue(4), want: history.IntValue(4)},
		{name: "unset value", acc: history.FloatValue(4), v: history.Value{}, want: history.FloatValue(4)},
		{name: "string", acc: history.IntValue(1), v: history.StringValue("2"), want: history.IntValue(1), wantErr: true},
		{name: "unknown format", acc: history.Value{Format: history.Format(42)}, v: history.IntValue(1), want: history.Value{Format: history.Format(42)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SumValues(tt.acc, tt.v)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("SumValues() error = %v, want ErrUnsupportedFormat", err)
				}
			} else if err != nil {
				t.Fatalf("SumValues() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SumValues() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
