package effects

// Reverb is a Schroeder reverb sized for a small wooden box: four parallel
// combs into two allpasses, with the right channel's combs slightly longer
// for width.
type Reverb struct {
	combs   [2][4]combFilter
	allpass [2][2]allpassFilter
	wet     float32
}

type combFilter struct {
	buf []float32
	pos int
	fb  float32
}

type allpassFilter struct {
	buf []float32
	pos int
	fb  float32
}

// stereoSpread is the extra right-channel delay in samples at 44.1 kHz.
const stereoSpread = 23

// NewReverb creates a reverb.
// roomSize: 0..1 scales delay lengths (1 is about 50 ms)
// feedback: 0..0.95 controls the tail
// wet: wet/dry mix 0..1
func NewReverb(sampleRate int, roomSize, feedback, wet float32) *Reverb {
	base := int(float32(sampleRate) * clamp(roomSize, 0, 1) * 0.05)
	if base < 10 {
		base = 10
	}
	spread := stereoSpread * sampleRate / 44100
	fb := clamp(feedback, 0, 0.95)
	r := &Reverb{wet: clamp(wet, 0, 1)}
	for ch := range r.combs {
		off := ch * spread
		lens := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
		for i := range r.combs[ch] {
			r.combs[ch][i] = combFilter{buf: make([]float32, lens[i]+off), fb: fb}
		}
		apLens := [2]int{base * 347 / 1000, base * 213 / 1000}
		for i := range r.allpass[ch] {
			r.allpass[ch][i] = allpassFilter{buf: make([]float32, maxInt(apLens[i]+off, 1)), fb: 0.5}
		}
	}
	return r
}

func (r *Reverb) Process(l, r2 float32) (float32, float32) {
	mono := (l + r2) * 0.5
	var out [2]float32
	for ch := range r.combs {
		for i := range r.combs[ch] {
			out[ch] += r.combs[ch][i].process(mono)
		}
		out[ch] *= 0.25
		for i := range r.allpass[ch] {
			out[ch] = r.allpass[ch][i].process(out[ch])
		}
	}
	return l*(1-r.wet) + out[0]*r.wet, r2*(1-r.wet) + out[1]*r.wet
}

func (r *Reverb) Reset() {
	for ch := range r.combs {
		for i := range r.combs[ch] {
			clear(r.combs[ch][i].buf)
			r.combs[ch][i].pos = 0
		}
		for i := range r.allpass[ch] {
			clear(r.allpass[ch][i].buf)
			r.allpass[ch][i].pos = 0
		}
	}
}

func (c *combFilter) process(in float32) float32 {
	out := c.buf[c.pos]
	c.buf[c.pos] = in + out*c.fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (a *allpassFilter) process(in float32) float32 {
	bufOut := a.buf[a.pos]
	out := -in + bufOut
	a.buf[a.pos] = in + bufOut*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
