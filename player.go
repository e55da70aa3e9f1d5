// Package musicbox is a step sequencer for a music-box comb: an 18-row grid
// of pitches played by a looping transport through a tine synth.
package musicbox

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	intaudio "github.com/cbegin/musicbox-go/internal/audio"
	intcfg "github.com/cbegin/musicbox-go/internal/config"
	intsched "github.com/cbegin/musicbox-go/internal/scheduler"
	intsynth "github.com/cbegin/musicbox-go/internal/synth"
	"github.com/cbegin/musicbox-go/internal/timeline"
	"github.com/cbegin/musicbox-go/internal/transport"
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	logger       logrus.FieldLogger
	store        *timeline.Store
	synth        intsynth.Params
	effects      intsched.Effect
	engines      []intsched.SoundEngine
	output       intsched.Output
	noteDuration transport.Notation
	subdivision  transport.Notation
	tempoRamp    time.Duration
	readyTimeout time.Duration
	sampleTap    func([]float32)
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		logger:       logrus.StandardLogger(),
		synth:        intsynth.DefaultParams(),
		readyTimeout: 5 * time.Second,
	}
}

func WithLogger(l logrus.FieldLogger) PlayerOption {
	return func(cfg *playerConfig) { cfg.logger = l }
}

// WithStore plays an existing timeline instead of a fresh one.
func WithStore(s *timeline.Store) PlayerOption {
	return func(cfg *playerConfig) { cfg.store = s }
}

func WithSynthParams(p intsynth.Params) PlayerOption {
	return func(cfg *playerConfig) { cfg.synth = p }
}

// WithEffects sets the master bus. A nil effect leaves the bus empty.
func WithEffects(fx intsched.Effect) PlayerOption {
	return func(cfg *playerConfig) { cfg.effects = fx }
}

// WithEngine adds a sound engine that plays alongside the synth, such as a
// MIDI output.
func WithEngine(e intsched.SoundEngine) PlayerOption {
	return func(cfg *playerConfig) { cfg.engines = append(cfg.engines, e) }
}

// WithOutput replaces the ebiten audio device.
func WithOutput(out intsched.Output) PlayerOption {
	return func(cfg *playerConfig) { cfg.output = out }
}

func WithNoteDuration(n transport.Notation) PlayerOption {
	return func(cfg *playerConfig) { cfg.noteDuration = n }
}

func WithSubdivision(n transport.Notation) PlayerOption {
	return func(cfg *playerConfig) { cfg.subdivision = n }
}

// WithTempoRamp sets how long tempo changes take; negative jumps.
func WithTempoRamp(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) { cfg.tempoRamp = d }
}

// WithReadyTimeout bounds how long Start waits for the audio device.
func WithReadyTimeout(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) { cfg.readyTimeout = d }
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) { cfg.sampleTap = tap }
}

// ConfigOptions turns a loaded config file into player options.
func ConfigOptions(c intcfg.Config) []PlayerOption {
	opts := []PlayerOption{
		WithSynthParams(c.SynthParams()),
		WithNoteDuration(c.NoteDurationNotation()),
		WithSubdivision(c.SubdivisionNotation()),
		WithTempoRamp(c.TempoRamp),
		WithReadyTimeout(c.AudioReadyTimeout),
	}
	if fx := c.Effects(); fx != nil {
		opts = append(opts, WithEffects(fx))
	}
	return opts
}

type Player struct {
	mu         sync.Mutex
	sampleRate int
	store      *timeline.Store
	synth      *intsynth.Engine
	sched      *intsched.Scheduler
	baseGain   float64
	volume     float64
}

// tapOutput hands the sample tap every buffer the scheduler renders.
type tapOutput struct {
	intsched.Output
	tap func([]float32)
}

type tapSource struct {
	src intaudio.SampleSource
	tap func([]float32)
}

func (t tapSource) Process(dst []float32) {
	t.src.Process(dst)
	t.tap(dst)
}

func (o tapOutput) Open(src intaudio.SampleSource) (intaudio.Stream, error) {
	return o.Output.Open(tapSource{src: src, tap: o.tap})
}

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		cfg.store = timeline.NewStore()
	}
	if cfg.output == nil {
		cfg.output = intaudio.NewOutput(sampleRate)
	}
	if cfg.sampleTap != nil {
		cfg.output = tapOutput{Output: cfg.output, tap: cfg.sampleTap}
	}
	syn := intsynth.New(sampleRate, cfg.synth)
	var engine intsched.SoundEngine = syn
	if len(cfg.engines) > 0 {
		engine = intsched.NewMultiEngine(append([]intsched.SoundEngine{syn}, cfg.engines...)...)
	}
	sched, err := intsched.NewWithOptions(cfg.store, engine, cfg.output, sampleRate, intsched.Options{
		Logger:       cfg.logger,
		Effects:      cfg.effects,
		NoteDuration: cfg.noteDuration,
		Subdivision:  cfg.subdivision,
		TempoRamp:    cfg.tempoRamp,
		ReadyTimeout: cfg.readyTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Player{
		sampleRate: sampleRate,
		store:      cfg.store,
		synth:      syn,
		sched:      sched,
		baseGain:   cfg.synth.MasterGain,
		volume:     1,
	}, nil
}

// Store is the timeline the player reads on every tick. Edits take effect
// on the next tick.
func (p *Player) Store() *timeline.Store { return p.store }

func (p *Player) SampleRate() int { return p.sampleRate }

// Start waits for the audio device and begins playback from step 0.
func (p *Player) Start(ctx context.Context) error { return p.sched.Start(ctx) }

func (p *Player) Stop() { p.sched.Stop() }

// Toggle starts playback when stopped and stops it when playing.
func (p *Player) Toggle(ctx context.Context) error {
	if p.sched.Playing() {
		p.sched.Stop()
		return nil
	}
	return p.sched.Start(ctx)
}

func (p *Player) Playing() bool { return p.sched.Playing() }

// Present publishes the playhead for the audio the listener hears now. Call
// it once per rendered frame.
func (p *Player) Present() int { return p.sched.Present() }

// RunPresenter drives Present from a ticker for hosts with no render loop.
func (p *Player) RunPresenter(ctx context.Context) {
	p.sched.RunPresenter(ctx, 15*time.Millisecond)
}

// PlaybackPosition returns the current output position of the audio driver
// in frames, i.e. what the listener actually hears right now. Returns 0 if
// not playing.
func (p *Player) PlaybackPosition() int64 {
	return int64(p.sched.Position())
}

// BPM is the tempo the transport is running at, which trails the store's
// tempo while a ramp is in progress.
func (p *Player) BPM() float64 { return p.sched.BPM() }

// SetMasterVolume sets runtime volume scalar. 1.0 is default.
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 || math.IsNaN(volume) {
		volume = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	p.synth.SetMasterGain(p.baseGain * p.volume)
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Close stops playback and detaches from the store.
func (p *Player) Close() { p.sched.Close() }
