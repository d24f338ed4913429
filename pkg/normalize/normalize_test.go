package normalize

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/bookingcom/inputkit/pkg/window"
	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func at(m int) time.Time { return t0.Add(time.Duration(m) * time.Minute) }

func span(from, to int) types.TimeRange { return types.TimeRange{Start: at(from), End: at(to)} }

func windows(t *testing.T, from, to int, iv types.Interval) []types.TimeRange {
	t.Helper()
	w, err := window.Build(span(from, to), iv)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func values[T any](buckets []types.Bucket[T]) []T {
	out := make([]T, len(buckets))
	for i, b := range buckets {
		out[i] = b.Value
	}
	return out
}

func repeat[T any](s types.Sample[T], n int) []types.Sample[T] {
	out := make([]types.Sample[T], n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestInts(t *testing.T) {
	tests := []struct {
		name    string
		samples []types.Sample[int64]
		to      int
		want    []int64
	}{
		{
			name:    "straddling sample is split with compensation",
			samples: []types.Sample[int64]{{Value: 15, Range: span(5, 15)}},
			to:      20,
			want:    []int64{7, 8},
		},
		{
			name:    "many samples across the same boundary are rounded together",
			samples: repeat(types.Sample[int64]{Value: 1, Range: span(9, 11)}, 10),
			to:      20,
			want:    []int64{5, 5},
		},
		{
			name:    "odd number of samples across a boundary",
			samples: repeat(types.Sample[int64]{Value: 1, Range: span(9, 11)}, 3),
			to:      20,
			want:    []int64{1, 2},
		},
		{
			name: "start on a bucket end belongs to the next bucket",
			samples: []types.Sample[int64]{
				{Value: 3, Range: span(0, 10)},
				{Value: 4, Range: span(10, 12)},
			},
			to:   20,
			want: []int64{3, 4},
		},
		{
			name:    "sample over many buckets",
			samples: []types.Sample[int64]{{Value: 60, Range: span(0, 60)}},
			to:      60,
			want:    []int64{10, 10, 10, 10, 10, 10},
		},
		{
			name:    "uneven sample over many buckets",
			samples: []types.Sample[int64]{{Value: 8, Range: span(0, 60)}},
			to:      60,
			want:    []int64{1, 2, 1, 1, 2, 1},
		},
		{
			name: "unsorted and overlapping samples",
			samples: []types.Sample[int64]{
				{Value: 3, Range: span(12, 14)},
				{Value: 2, Range: span(1, 2)},
				{Value: 15, Range: span(5, 15)},
			},
			to:   20,
			want: []int64{9, 11},
		},
		{
			name: "samples clipped by the range",
			samples: []types.Sample[int64]{
				{Value: 30, Range: span(-10, 10)},
				{Value: 20, Range: span(15, 35)},
			},
			to:   20,
			want: []int64{15, 5},
		},
		{
			name:    "sample wider than the range",
			samples: []types.Sample[int64]{{Value: 40, Range: span(-10, 30)}},
			to:      20,
			want:    []int64{10, 10},
		},
		{
			name: "zero length samples",
			samples: []types.Sample[int64]{
				{Value: 5, Range: span(10, 10)},
				{Value: 9, Range: span(20, 20)},
			},
			to:   20,
			want: []int64{0, 5},
		},
		{
			name: "sub-minute sample across a boundary stays in the earlier bucket",
			samples: []types.Sample[int64]{{Value: 6, Range: types.TimeRange{
				Start: at(10).Add(-10 * time.Second),
				End:   at(10).Add(10 * time.Second),
			}}},
			to:   20,
			want: []int64{6, 0},
		},
		{
			name: "samples outside the range or reversed are ignored",
			samples: []types.Sample[int64]{
				{Value: 1, Range: span(-20, -10)},
				{Value: 1, Range: span(20, 30)},
				{Value: 1, Range: span(8, 2)},
			},
			to:   20,
			want: []int64{0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ints(tt.samples, windows(t, 0, tt.to, types.TenMinutes))
			if diff := cmp.Diff(tt.want, values(got)); diff != "" {
				t.Errorf("Ints() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFloats(t *testing.T) {
	got := Floats([]types.Sample[float64]{{Value: 15, Range: span(5, 15)}}, windows(t, 0, 20, types.TenMinutes))
	want := []types.Bucket[float64]{
		{Value: 7.5, Range: span(0, 10)},
		{Value: 7.5, Range: span(10, 20)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Floats() mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyWindows(t *testing.T) {
	w, err := window.Build(span(0, 0), types.Day)
	if err != nil {
		t.Fatal(err)
	}

	got := Ints([]types.Sample[int]{{Value: 15, Range: span(0, 10)}}, w)
	if len(got) != 0 {
		t.Errorf("Ints() on no windows = %v, want empty", got)
	}
}

func TestInputNotModified(t *testing.T) {
	samples := []types.Sample[int32]{
		{Value: 3, Range: span(12, 14)},
		{Value: 15, Range: span(5, 15)},
		{Value: 2, Range: span(1, 2)},
	}
	orig := make([]types.Sample[int32], len(samples))
	copy(orig, samples)
	w := windows(t, 0, 20, types.TenMinutes)

	first := Ints(samples, w)
	second := Ints(samples, w)

	if diff := cmp.Diff(orig, samples); diff != "" {
		t.Errorf("Ints() modified its input (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Ints() is not repeatable (-first +second):\n%s", diff)
	}
}

// inRange is the share of s inside bounds, computed the slow way.
func inRange(s types.Sample[int64], bounds types.TimeRange) float64 {
	if s.Range.End.Before(s.Range.Start) || !bounds.Overlaps(s.Range) {
		return 0
	}
	if bounds.Covers(s.Range) {
		return float64(s.Value)
	}
	total := math.Max(math.Floor(s.Range.Duration().Seconds()/60), 1)
	clipped := bounds.Intersect(s.Range)
	return float64(s.Value) / total * math.Floor(clipped.Duration().Seconds()/60)
}

func TestConservation(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	bounds := span(0, 120)

	for _, iv := range []types.Interval{types.OneMinute, types.TenMinutes, types.HalfHour, types.Hour} {
		w := windows(t, 0, 120, iv)

		for round := 0; round < 50; round++ {
			n := rnd.Intn(20)
			ints := make([]types.Sample[int64], n)
			floats := make([]types.Sample[float64], n)
			var want float64

			for i := range ints {
				start := rnd.Intn(180) - 30
				r := span(start, start+rnd.Intn(90))
				ints[i] = types.Sample[int64]{Value: int64(rnd.Intn(1000)), Range: r}
				floats[i] = types.Sample[float64]{Value: float64(ints[i].Value), Range: r}

				want += inRange(ints[i], bounds)
			}

			var gotInt int64
			for _, b := range Ints(ints, w) {
				gotInt += b.Value
			}
			if math.Abs(float64(gotInt)-want) > 0.5+1e-6 {
				t.Errorf("%v round %d: Ints() total = %d, want %v rounded", iv, round, gotInt, want)
			}

			var gotFloat float64
			for _, b := range Floats(floats, w) {
				gotFloat += b.Value
			}
			if math.Abs(gotFloat-want) > 1e-6 {
				t.Errorf("%v round %d: Floats() total = %v, want %v", iv, round, gotFloat, want)
			}
		}
	}
}
