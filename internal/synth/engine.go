// Package synth is the polyphonic tine voice behind the sequencer: a
// triangle oscillator per voice with an ADSR envelope, shared tremolo, and
// attack/release triggers scheduled on the audio clock.
package synth

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cbegin/musicbox-go/internal/lfo"
	"github.com/cbegin/musicbox-go/internal/transport"
)

const twoPi = math.Pi * 2

type Params struct {
	Voices       int
	MasterGain   float64 // linear; 0.56 is about -5 dB
	AttackSec    float64
	DecaySec     float64
	SustainLvl   float64
	ReleaseSec   float64
	TremoloDepth float64 // fraction of amplitude, 0 disables
	TremoloRate  float64 // Hz
	LPFCutoff    float64 // lowpass filter cutoff in Hz (0 = disabled)
}

func DefaultParams() Params {
	return Params{
		Voices:     24,
		MasterGain: 0.56,
		AttackSec:  0.005,
		DecaySec:   0.1,
		SustainLvl: 0.1,
		ReleaseSec: 1,
		LPFCutoff:  9000,
	}
}

// DecibelsToGain converts a level in dB to a linear factor.
func DecibelsToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type voice struct {
	active   bool
	note     int
	age      int
	hold     int // frames until release
	relStep  float64
	freq     float64
	phase    float64
	env      float64
	envState envState
}

type trigger struct {
	at   transport.Time
	note int
	hold int
}

// Engine renders one stereo frame at a time. TriggerAttackRelease may be
// called from any goroutine; RenderFrame and Reset belong to the audio
// goroutine.
type Engine struct {
	sampleRate float64
	params     Params
	voices     []voice
	masterGain uint64

	mu      sync.Mutex
	pending []trigger
	now     transport.Time

	dcPrevIn  float64
	dcPrevOut float64
	lpf       float64
	lpfAlpha  float64
	tremolo   lfo.LFO
}

func New(sampleRate int, params Params) *Engine {
	if params.Voices <= 0 {
		params.Voices = DefaultParams().Voices
	}
	e := &Engine{
		sampleRate: float64(sampleRate),
		params:     params,
		voices:     make([]voice, params.Voices),
		masterGain: math.Float64bits(params.MasterGain),
	}
	if params.LPFCutoff > 0 && params.LPFCutoff < float64(sampleRate)/2 {
		rc := 1.0 / (twoPi * params.LPFCutoff)
		dt := 1.0 / float64(sampleRate)
		e.lpfAlpha = dt / (rc + dt)
	}
	e.tremolo.Set(params.TremoloDepth, params.TremoloRate, lfo.Sine)
	return e
}

// TriggerAttackRelease schedules pitch to start at frame at and release
// after seconds. A time already in the past starts on the next frame.
func (e *Engine) TriggerAttackRelease(pitch string, seconds float64, at transport.Time) error {
	note, err := ParsePitch(pitch)
	if err != nil {
		return err
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return errors.Errorf("invalid note duration %v", seconds)
	}
	t := trigger{at: at, note: note, hold: int(math.Round(seconds * e.sampleRate))}
	e.mu.Lock()
	defer e.mu.Unlock()
	i := sort.Search(len(e.pending), func(i int) bool { return e.pending[i].at > at })
	e.pending = append(e.pending, trigger{})
	copy(e.pending[i+1:], e.pending[i:])
	e.pending[i] = t
	return nil
}

// Now is the frame RenderFrame will produce next.
func (e *Engine) Now() transport.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// Reset silences every voice, drops pending triggers and rewinds the clock
// to frame 0.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.pending = e.pending[:0]
	e.now = 0
	e.mu.Unlock()
	for i := range e.voices {
		e.voices[i] = voice{}
	}
	e.dcPrevIn, e.dcPrevOut, e.lpf = 0, 0, 0
	e.tremolo.Reset()
}

func (e *Engine) startDue() {
	e.mu.Lock()
	n := 0
	for n < len(e.pending) && e.pending[n].at <= e.now {
		e.noteOn(e.pending[n])
		n++
	}
	if n > 0 {
		e.pending = append(e.pending[:0], e.pending[n:]...)
	}
	e.now++
	e.mu.Unlock()
}

func (e *Engine) noteOn(t trigger) {
	v := &e.voices[e.stealVoice()]
	*v = voice{
		active:   true,
		note:     t.note,
		hold:     t.hold,
		freq:     midiToFreq(t.note),
		envState: envAttack,
	}
}

func (e *Engine) RenderFrame() (float32, float32) {
	e.startDue()
	amp := 1 + e.tremolo.Sample(e.sampleRate)
	gain := e.masterGainValue()

	var out float64
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active {
			continue
		}
		if v.age >= v.hold && v.envState < envRelease {
			e.release(v)
		}
		v.age++
		env := e.advanceEnv(v)
		if !v.active {
			continue
		}
		out += triangle(v, e.sampleRate) * env * amp * gain
	}
	out = e.dcBlock(out)
	if e.lpfAlpha > 0 {
		e.lpf += e.lpfAlpha * (out - e.lpf)
		out = e.lpf
	}
	s := float32(clamp(out, -1, 1))
	return s, s
}

func triangle(v *voice, sampleRate float64) float64 {
	v.phase += v.freq / sampleRate
	if v.phase >= 1 {
		v.phase -= 1
	}
	return 2*math.Abs(2*v.phase-1) - 1
}

func (e *Engine) dcBlock(x float64) float64 {
	const r = 0.995
	y := x - e.dcPrevIn + r*e.dcPrevOut
	e.dcPrevIn = x
	e.dcPrevOut = y
	return y
}

func (e *Engine) stealVoice() int {
	for i := range e.voices {
		if !e.voices[i].active {
			return i
		}
	}
	// Steal the oldest releasing voice, or failing that the oldest active voice.
	oldestRelease, oldestReleaseAge := -1, -1
	oldestActive, oldestActiveAge := 0, -1
	for i := range e.voices {
		v := &e.voices[i]
		if v.envState == envRelease && v.age > oldestReleaseAge {
			oldestRelease = i
			oldestReleaseAge = v.age
		}
		if v.age > oldestActiveAge {
			oldestActive = i
			oldestActiveAge = v.age
		}
	}
	if oldestRelease >= 0 {
		return oldestRelease
	}
	return oldestActive
}

func (e *Engine) advanceEnv(v *voice) float64 {
	switch v.envState {
	case envAttack:
		v.env += rate(1, e.params.AttackSec, e.sampleRate)
		if v.env >= 1 {
			v.env = 1
			v.envState = envDecay
		}
	case envDecay:
		v.env -= rate(1-e.params.SustainLvl, e.params.DecaySec, e.sampleRate)
		if v.env <= e.params.SustainLvl {
			v.env = e.params.SustainLvl
			v.envState = envSustain
		}
	case envSustain:
	case envRelease:
		v.env -= v.relStep
		if v.env <= 0.0001 {
			v.env = 0
			v.envState = envOff
			v.active = false
		}
	case envOff:
		v.active = false
		v.env = 0
	}
	return v.env
}

// release fades from the current level, so a note cut during its attack
// still takes ReleaseSec to die away.
func (e *Engine) release(v *voice) {
	v.envState = envRelease
	v.relStep = rate(math.Max(v.env, 0.0001), e.params.ReleaseSec, e.sampleRate)
}

// rate is the per-frame step covering span in sec seconds. Zero-length
// stages complete in one frame.
func rate(span, sec, sampleRate float64) float64 {
	if sec <= 0 || sampleRate <= 0 {
		return math.Max(span, 1)
	}
	return span / (sec * sampleRate)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Engine) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&e.masterGain, math.Float64bits(gain))
}

func (e *Engine) masterGainValue() float64 {
	return math.Float64frombits(atomic.LoadUint64(&e.masterGain))
}

func (e *Engine) ActiveVoiceCount() int {
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

// PendingCount is the number of triggers not yet started.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
