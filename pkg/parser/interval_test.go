package parser

import (
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestInterval(t *testing.T) {
	var tests = []struct {
		t       string
		seconds int32
		sign    int
	}{
		{"1s", 1, 1},
		{"2d", 2 * 60 * 60 * 24, 1},
		{"10hours", 60 * 60 * 10, 1},
		{"7d13h45min21s", 7*24*60*60 + 13*60*60 + 45*60 + 21, 1},
		{"01hours", 60 * 60 * 1, 1},
		{"2d2d", 4 * 60 * 60 * 24, 1},
		{"3weeks", 3 * 7 * 24 * 60 * 60, 1},

		{"1s", -1, -1},
		{"10m10s", 610, 1},
		{"+2d", 2 * 60 * 60 * 24, -1},
		{"-10hours", -60 * 60 * 10, -1},
		{"-360h2min", -360*60*60 - 2*60, -1},
		{"+2mon1w", 2*30*24*60*60 + 7*24*60*60, -1},
		{"-1y", -365 * 24 * 60 * 60, 1},
	}

	for _, tt := range tests {
		if secs, err := IntervalString(tt.t, tt.sign); secs != tt.seconds || err != nil {
			t.Errorf("IntervalString(%q, %d) = %d, %v, want %d\n%s", tt.t, tt.sign, secs, err, tt.seconds, spew.Sdump(tt))
		}
	}

	var exceptTests = []struct {
		t   string
		err string
	}{
		{"", "unknown time units"},
		{"-", "unknown time units"},
		{"+", "unknown time units"},
		{"10", "unknown time units"},
		{"10x10s", "unknown time units"},
		{"d", "invalid syntax"},
		{"10000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000y", "value out of range"},
	}
	for _, tt := range exceptTests {
		secs, err := IntervalString(tt.t, 1)
		if secs != 0 || err == nil {
			t.Errorf("IntervalString(%q) = %d, %v, want an error", tt.t, secs, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.err) {
			t.Errorf("IntervalString(%q) error = %v, want it to contain %q", tt.t, err, tt.err)
		}
	}
}

func TestTruthyBool(t *testing.T) {
	trueWords := []string{"1", "true", "True", "yes", "Yes", "on"}
	falseWords := []string{"", "0", "false", "False", "no", "No", "maybe"}

	for _, word := range trueWords {
		if !TruthyBool(word) {
			t.Errorf("TruthyBool(%q) = false, want true", word)
		}
	}

	for _, word := range falseWords {
		if TruthyBool(word) {
			t.Errorf("TruthyBool(%q) = true, want false", word)
		}
	}
}
