// Package midiout plays the timeline on an external MIDI instrument. It is a
// sound engine like the synth: triggers are queued against the audio clock
// and sent from the audio callback when their frame comes up, so MIDI stays
// locked to the rendered audio.
package midiout

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/cbegin/musicbox-go/internal/synth"
	"github.com/cbegin/musicbox-go/internal/transport"
)

// Sender delivers one message to a port, as returned by midi.SendTo.
type Sender func(msg midi.Message) error

type event struct {
	at  transport.Time
	on  bool
	key uint8
}

type Engine struct {
	send       Sender
	sampleRate float64
	channel    uint8
	velocity   uint8
	log        logrus.FieldLogger

	mu      sync.Mutex
	now     transport.Time
	pending []event
	due     []event

	keyMu    sync.Mutex // held while messages go out
	sounding map[uint8]int
	out      drivers.Out
}

type Option func(*Engine)

// WithChannel selects the MIDI channel, 0-15.
func WithChannel(ch uint8) Option {
	return func(e *Engine) { e.channel = ch & 0x0f }
}

func WithVelocity(v uint8) Option {
	return func(e *Engine) { e.velocity = v & 0x7f }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

func New(send Sender, sampleRate int, opts ...Option) *Engine {
	e := &Engine{
		send:       send,
		sampleRate: float64(sampleRate),
		velocity:   100,
		log:        logrus.StandardLogger(),
		sounding:   map[uint8]int{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithField("component", "midiout")
	return e
}

// Open connects to the output port whose name contains port, or the first
// port when port is empty. A driver must be registered by the caller.
func Open(port string, sampleRate int, opts ...Option) (*Engine, error) {
	var (
		out drivers.Out
		err error
	)
	if port == "" {
		out, err = midi.OutPort(0)
	} else {
		out, err = midi.FindOutPort(port)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "midi out port %q", port)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, errors.Wrapf(err, "open midi port %q", out.String())
	}
	e := New(send, sampleRate, opts...)
	e.out = out
	return e, nil
}

// Ports lists the names of the available output ports.
func Ports() []string {
	outs := midi.GetOutPorts()
	names := make([]string, len(outs))
	for i, out := range outs {
		names[i] = out.String()
	}
	return names
}

func (e *Engine) TriggerAttackRelease(pitch string, seconds float64, at transport.Time) error {
	note, err := synth.ParsePitch(pitch)
	if err != nil {
		return err
	}
	if seconds < 0 {
		return errors.Errorf("invalid note duration %v", seconds)
	}
	key := uint8(note)
	off := at + transport.Time(seconds*e.sampleRate)
	if off <= at {
		off = at + 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insert(event{at: at, on: true, key: key})
	e.insert(event{at: off, key: key})
	return nil
}

func (e *Engine) insert(ev event) {
	i := sort.Search(len(e.pending), func(i int) bool { return e.pending[i].at > ev.at })
	e.pending = append(e.pending, event{})
	copy(e.pending[i+1:], e.pending[i:])
	e.pending[i] = ev
}

// RenderFrame sends every message due at the current frame. It contributes
// no audio.
func (e *Engine) RenderFrame() (float32, float32) {
	e.mu.Lock()
	n := 0
	for n < len(e.pending) && e.pending[n].at <= e.now {
		n++
	}
	e.due = append(e.due[:0], e.pending[:n]...)
	if n > 0 {
		e.pending = append(e.pending[:0], e.pending[n:]...)
	}
	e.now++
	e.mu.Unlock()
	e.keyMu.Lock()
	for _, ev := range e.due {
		e.dispatch(ev)
	}
	e.keyMu.Unlock()
	return 0, 0
}

func (e *Engine) dispatch(ev event) {
	var msg midi.Message
	if ev.on {
		// Retriggering a sounding key on a single channel needs a NoteOff
		// first or most instruments ignore the new NoteOn.
		if e.sounding[ev.key] > 0 {
			e.write(midi.NoteOff(e.channel, ev.key))
		}
		e.sounding[ev.key]++
		msg = midi.NoteOn(e.channel, ev.key, e.velocity)
	} else {
		if e.sounding[ev.key] == 0 {
			return
		}
		e.sounding[ev.key]--
		if e.sounding[ev.key] > 0 {
			return
		}
		delete(e.sounding, ev.key)
		msg = midi.NoteOff(e.channel, ev.key)
	}
	e.write(msg)
}

func (e *Engine) write(msg midi.Message) {
	if err := e.send(msg); err != nil {
		e.log.WithError(err).WithField("msg", msg.String()).Warn("midi send failed")
	}
}

// Reset releases every sounding key and drops pending messages.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.pending = e.pending[:0]
	e.now = 0
	e.mu.Unlock()
	e.keyMu.Lock()
	defer e.keyMu.Unlock()
	for key := range e.sounding {
		e.write(midi.NoteOff(e.channel, key))
	}
	clear(e.sounding)
}

// Sounding is the number of keys currently held.
func (e *Engine) Sounding() int {
	e.keyMu.Lock()
	defer e.keyMu.Unlock()
	return len(e.sounding)
}

// Close releases every held key and closes the port opened by Open. Engines
// built with New only release their keys.
func (e *Engine) Close() error {
	e.Reset()
	if e.out == nil {
		return nil
	}
	return errors.Wrapf(e.out.Close(), "close midi port %q", e.out.String())
}
