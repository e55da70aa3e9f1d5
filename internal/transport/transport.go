package transport

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidTempo is returned for non-positive or non-finite tempos.
var ErrInvalidTempo = errors.New("tempo must be a positive number of beats per minute")

// Time is a position on the audio clock in frames since the transport
// started.
type Time int64

// Seconds converts the frame position to seconds.
func (t Time) Seconds(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(t) / float64(sampleRate)
}

// Tick is one firing of the transport clock.
type Tick struct {
	Index int64   // ticks since Start, starting at 0
	At    Time    // frame the tick is scheduled on
	BPM   float64 // tempo in effect at At
}

// Transport is the global playback clock. It has no goroutine of its own:
// the audio callback drives it with Advance, so ticks are quantized to
// sample frames and carry no wall-clock jitter.
type Transport struct {
	mu           sync.Mutex
	sampleRate   int
	subdivision  Notation
	bpm          float64
	rampTarget   float64
	rampStep     float64
	rampFrames   int
	running      bool
	frame        int64
	tickFrac     float64
	tickInt      int64
	ticksPerBeat float64
}

func New(sampleRate int) *Transport {
	t := &Transport{
		sampleRate:  sampleRate,
		subdivision: MustParseNotation("8n"),
		bpm:         120,
	}
	t.ticksPerBeat = 1 / t.subdivision.Beats()
	return t
}

func validBPM(bpm float64) bool {
	return bpm > 0 && !math.IsInf(bpm, 0) && !math.IsNaN(bpm)
}

// SetSubdivision sets the interval between ticks. Only tempo-relative
// notations are accepted.
func (t *Transport) SetSubdivision(n Notation) error {
	if !n.Relative() {
		return errors.Errorf("subdivision %q must be tempo-relative", n.String())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subdivision = n
	t.ticksPerBeat = 1 / n.Beats()
	return nil
}

func (t *Transport) Subdivision() Notation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subdivision
}

// Start rewinds the clock to frame zero and begins ticking at bpm. The first
// tick lands on frame zero.
func (t *Transport) Start(bpm float64) error {
	if !validBPM(bpm) {
		return ErrInvalidTempo
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bpm = bpm
	t.rampFrames = 0
	t.frame = 0
	t.tickFrac = 0
	t.tickInt = 0
	t.running = true
	return nil
}

// Stop halts the clock. Tempo is kept for the next Start.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.frame = 0
	t.tickFrac = 0
	t.tickInt = 0
	if t.rampFrames > 0 {
		t.bpm = t.rampTarget
		t.rampFrames = 0
	}
}

func (t *Transport) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// BPM returns the instantaneous tempo, which may be mid-ramp.
func (t *Transport) BPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bpm
}

// SetBPM jumps to bpm immediately.
func (t *Transport) SetBPM(bpm float64) error {
	return t.RampTo(bpm, 0)
}

// RampTo moves the tempo linearly to bpm over d. A stopped transport, or a
// ramp shorter than one frame, jumps straight to the target.
func (t *Transport) RampTo(bpm float64, d time.Duration) error {
	if !validBPM(bpm) {
		return ErrInvalidTempo
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	frames := int(d.Seconds() * float64(t.sampleRate))
	if !t.running || frames <= 0 {
		t.bpm = bpm
		t.rampFrames = 0
		return nil
	}
	t.rampTarget = bpm
	t.rampFrames = frames
	t.rampStep = (bpm - t.bpm) / float64(frames)
	return nil
}

// Now returns the next frame the transport will render.
func (t *Transport) Now() Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Time(t.frame)
}

// Advance moves the clock forward by frames, calling onTick for every tick
// boundary crossed in strictly increasing order. onTick runs with the
// transport locked and must not call back into it.
func (t *Transport) Advance(frames int, onTick func(Tick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	for f := 0; f < frames; f++ {
		t.advanceFrame(onTick)
	}
}

func (t *Transport) advanceFrame(onTick func(Tick)) {
	if t.rampFrames > 0 {
		t.bpm += t.rampStep
		t.rampFrames--
		if t.rampFrames == 0 {
			t.bpm = t.rampTarget
		}
	}
	next := int64(t.tickFrac)
	for t.tickInt <= next {
		if onTick != nil {
			onTick(Tick{Index: t.tickInt, At: Time(t.frame), BPM: t.bpm})
		}
		t.tickInt++
	}
	t.tickFrac += t.bpm / 60 * t.ticksPerBeat / float64(t.sampleRate)
	t.frame++
}

// FramesPerTick is the tick interval at the current tempo.
func (t *Transport) FramesPerTick() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.sampleRate) * 60 / t.bpm / t.ticksPerBeat
}
