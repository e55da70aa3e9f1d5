package synth

import (
	"math"
	"testing"
)

func TestParsePitch(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int
	}{
		{"A4", 69},
		{"C4", 60},
		{"C5", 72},
		{"A#5", 82},
		{"Gb6", 90},
		{"G#6", 92},
		{"D7", 98},
		{"c-1", 0},
		{"B#4", 72},
	} {
		got, err := ParsePitch(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("%s = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParsePitchErrors(t *testing.T) {
	for _, in := range []string{"", "X4", "C", "C#", "A99", "Cb-1"} {
		if _, err := ParsePitch(in); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}

func TestMidiToFreq(t *testing.T) {
	if f := midiToFreq(69); f != 440 {
		t.Fatalf("A4 = %f", f)
	}
	if f := midiToFreq(81); math.Abs(f-880) > 1e-9 {
		t.Fatalf("A5 = %f", f)
	}
}
