package aggregate

import (
	"errors"
	"testing"

	"github.com/bookingcom/inputkit/pkg/types"
	"github.com/google/go-cmp/cmp"
)

func TestLimit(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	tests := []struct {
		name  string
		limit int
		want  []int
	}{
		{name: "first three", limit: 3, want: []int{0, 1, 2}},
		{name: "zero", limit: 0, want: items},
		{name: "negative", limit: -1, want: items},
		{name: "whole list", limit: 10, want: items},
		{name: "larger than list", limit: 11, want: items},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Limit(items, tt.limit)); diff != "" {
				t.Errorf("Limit() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestArrange(t *testing.T) {
	items := []string{"a", "b", "c", "d"}

	if diff := cmp.Diff(items, Arrange(items, Ascending)); diff != "" {
		t.Errorf("Arrange(asc) mismatch (-want +got):\n%s", diff)
	}

	got := Limit(Arrange(items, Descending), 2)
	if diff := cmp.Diff([]string{"d", "c"}, got); diff != "" {
		t.Errorf("Arrange(desc) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, items); diff != "" {
		t.Errorf("Arrange() modified its input (-want +got):\n%s", diff)
	}
}

func TestParseOrder(t *testing.T) {
	for in, want := range map[string]Order{"": Ascending, "asc": Ascending, "DESC": Descending} {
		got, err := ParseOrder(in)
		if err != nil || got != want {
			t.Errorf("ParseOrder(%q) = %v, %v, want %v", in, got, err, want)
		}
	}

	_, err := ParseOrder("newest")
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("ParseOrder(newest) error = %v, want *ConfigurationError", err)
	}
}
