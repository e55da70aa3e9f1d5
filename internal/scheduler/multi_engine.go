package scheduler

import (
	"sync"

	"github.com/cbegin/musicbox-go/internal/transport"
)

// MultiEngine fans every trigger out to several SoundEngines and mixes their
// output, so the synth and a MIDI port can play the same timeline.
type MultiEngine struct {
	mu      sync.Mutex
	engines []SoundEngine
}

func NewMultiEngine(engines ...SoundEngine) *MultiEngine {
	m := &MultiEngine{}
	for _, e := range engines {
		m.AddEngine(e)
	}
	return m
}

// AddEngine registers e; nil is ignored.
func (m *MultiEngine) AddEngine(e SoundEngine) {
	if e == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engines = append(m.engines, e)
}

// AllEngines returns the registered engines in the order they were added.
func (m *MultiEngine) AllEngines() []SoundEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SoundEngine(nil), m.engines...)
}

// TriggerAttackRelease triggers every engine and returns the first error.
// One failing engine does not stop the others from playing.
func (m *MultiEngine) TriggerAttackRelease(pitch string, seconds float64, at transport.Time) error {
	var first error
	for _, e := range m.AllEngines() {
		if err := e.TriggerAttackRelease(pitch, seconds, at); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiEngine) RenderFrame() (float32, float32) {
	var l, r float32
	for _, e := range m.AllEngines() {
		el, er := e.RenderFrame()
		l += el
		r += er
	}
	return l, r
}

func (m *MultiEngine) Reset() {
	for _, e := range m.AllEngines() {
		e.Reset()
	}
}
