package effects

import "math"

// Limiter keeps chords of many tines from clipping. It is a stereo-linked
// compressor with a fast attack, followed by a hard ceiling at 0 dBFS.
type Limiter struct {
	threshold float32
	ratio     float32
	attack    float32 // coefficient
	release   float32 // coefficient
	env       float32
}

// NewLimiter creates a limiter.
// thresholdDB: level where gain reduction starts (e.g. -3)
// ratio: reduction above threshold; values below 1 are treated as 1
// releaseMs: recovery time
func NewLimiter(sampleRate int, thresholdDB, ratio, releaseMs float32) *Limiter {
	sr := float64(sampleRate)
	if ratio < 1 {
		ratio = 1
	}
	return &Limiter{
		threshold: float32(math.Pow(10, float64(thresholdDB)/20)),
		ratio:     ratio,
		attack:    coefficient(0.5, sr),
		release:   coefficient(float64(releaseMs), sr),
	}
}

func coefficient(ms, sampleRate float64) float32 {
	if ms <= 0 || sampleRate <= 0 {
		return 1
	}
	return float32(1.0 - math.Exp(-1.0/(ms*sampleRate/1000.0)))
}

func (c *Limiter) Process(l, r float32) (float32, float32) {
	peak := float32(math.Max(math.Abs(float64(l)), math.Abs(float64(r))))
	if peak > c.env {
		c.env += c.attack * (peak - c.env)
	} else {
		c.env += c.release * (peak - c.env)
	}
	g := c.gain()
	return clamp(l*g, -1, 1), clamp(r*g, -1, 1)
}

func (c *Limiter) gain() float32 {
	if c.env <= c.threshold || c.threshold <= 0 {
		return 1.0
	}
	over := c.env / c.threshold
	return float32(math.Pow(float64(over), float64(1.0/c.ratio-1)))
}

// GainReduction reports the current reduction in dB (0 or negative).
func (c *Limiter) GainReduction() float64 {
	return 20 * math.Log10(float64(c.gain()))
}

func (c *Limiter) Reset() {
	c.env = 0
}
