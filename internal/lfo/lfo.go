// Package lfo is a low-frequency oscillator for tremolo on the comb.
package lfo

import "math"

type Shape int

const (
	Sine Shape = iota
	Triangle
	Square
)

// LFO produces one modulation value per audio frame in [-depth, +depth].
// It is shared by all voices of an engine.
type LFO struct {
	depth  float64
	rateHz float64
	shape  Shape
	phase  float64 // [0, 1)
}

// Set configures the oscillator. Unknown shapes fall back to Sine.
func (l *LFO) Set(depth, rateHz float64, shape Shape) {
	if shape < Sine || shape > Square {
		shape = Sine
	}
	l.depth = depth
	l.rateHz = rateHz
	l.shape = shape
}

// Sample returns the value at the current phase, then advances one frame.
func (l *LFO) Sample(sampleRate float64) float64 {
	if !l.Active() || sampleRate <= 0 {
		return 0
	}
	var v float64
	switch l.shape {
	case Triangle:
		v = 1 - 4*math.Abs(l.phase-0.5)
	case Square:
		v = 1
		if l.phase >= 0.5 {
			v = -1
		}
	default:
		v = math.Sin(2 * math.Pi * l.phase)
	}
	l.phase += l.rateHz / sampleRate
	l.phase -= math.Floor(l.phase)
	return v * l.depth
}

func (l *LFO) Active() bool {
	return l.depth != 0 && l.rateHz != 0
}

func (l *LFO) Reset() {
	l.phase = 0
}
