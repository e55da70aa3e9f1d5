// Package scheduler turns the timeline into sound. It owns the transport,
// drives it from the audio callback, and on every tick triggers the notes of
// the current step and posts the step to the draw queue at the tick's audio
// time.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/musicbox-go/internal/audio"
	"github.com/cbegin/musicbox-go/internal/draw"
	"github.com/cbegin/musicbox-go/internal/timeline"
	"github.com/cbegin/musicbox-go/internal/transport"
)

// SoundEngine plays pitches at audio-clock frames. Frame zero is the frame
// rendered right after Reset.
type SoundEngine interface {
	TriggerAttackRelease(pitch string, seconds float64, at transport.Time) error
	RenderFrame() (float32, float32)
	Reset()
}

// Effect processes the engine output one stereo frame at a time.
type Effect interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Output is the audio device.
type Output interface {
	Ready(ctx context.Context) error
	Open(src audio.SampleSource) (audio.Stream, error)
}

type Options struct {
	Logger       logrus.FieldLogger
	Effects      Effect
	NoteDuration transport.Notation // default 8n
	Subdivision  transport.Notation // default 8n
	TempoRamp    time.Duration      // default 100ms; negative jumps
	ReadyTimeout time.Duration      // 0 waits as long as ctx allows
}

const DefaultTempoRamp = 100 * time.Millisecond

type Scheduler struct {
	store      *timeline.Store
	engine     SoundEngine
	out        Output
	fx         Effect
	log        logrus.FieldLogger
	sampleRate int
	transport  *transport.Transport
	queue      *draw.Queue
	duration   transport.Notation
	ramp       time.Duration
	timeout    time.Duration

	mu     sync.Mutex // lifecycle and stream
	stream audio.Stream

	procMu  sync.Mutex // audio callback state
	counter atomic.Int64

	unsubscribe func()
}

func New(store *timeline.Store, engine SoundEngine, out Output, sampleRate int) (*Scheduler, error) {
	return NewWithOptions(store, engine, out, sampleRate, Options{})
}

func NewWithOptions(store *timeline.Store, engine SoundEngine, out Output, sampleRate int, opts Options) (*Scheduler, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.NoteDuration.String() == "" {
		opts.NoteDuration = transport.MustParseNotation("8n")
	}
	if opts.Subdivision.String() == "" {
		opts.Subdivision = transport.MustParseNotation("8n")
	}
	switch {
	case opts.TempoRamp == 0:
		opts.TempoRamp = DefaultTempoRamp
	case opts.TempoRamp < 0:
		opts.TempoRamp = 0
	}
	tr := transport.New(sampleRate)
	if err := tr.SetSubdivision(opts.Subdivision); err != nil {
		return nil, err
	}
	s := &Scheduler{
		store:      store,
		engine:     engine,
		out:        out,
		fx:         opts.Effects,
		log:        opts.Logger.WithField("component", "scheduler"),
		sampleRate: sampleRate,
		transport:  tr,
		queue:      draw.NewQueue(),
		duration:   opts.NoteDuration,
		ramp:       opts.TempoRamp,
		timeout:    opts.ReadyTimeout,
	}
	_ = tr.SetBPM(store.Tempo())
	s.unsubscribe = store.OnTempoChange(s.onTempo)
	return s, nil
}

func (s *Scheduler) onTempo(bpm float64) {
	if err := s.transport.RampTo(bpm, s.ramp); err != nil {
		s.log.WithError(err).WithField("bpm", bpm).Warn("tempo change ignored")
		return
	}
	s.log.WithField("bpm", bpm).Debug("tempo ramp")
}

// Start begins playback from step 0. Any previous run is stopped first. If
// the audio device cannot be made ready the error is returned and the
// scheduler stays stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.Stop()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.out.Ready(ctx); err != nil {
		s.log.WithError(err).Error("audio not ready, playback not started")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	s.procMu.Lock()
	s.counter.Store(0)
	s.engine.Reset()
	if s.fx != nil {
		s.fx.Reset()
	}
	s.procMu.Unlock()

	s.store.SetCurrentStep(timeline.NoStep)
	bpm := s.store.Tempo()
	if err := s.transport.Start(bpm); err != nil {
		return err
	}
	stream, err := s.out.Open(s)
	if err != nil {
		s.transport.Stop()
		s.log.WithError(err).Error("open audio stream")
		return err
	}
	s.stream = stream
	s.store.SetPlaying(true)
	stream.Play()
	s.log.WithField("bpm", bpm).Info("playback started")
	return nil
}

// Stop halts playback and clears the playhead. Calling it while stopped is a
// no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLocked() {
		s.log.Info("playback stopped")
	}
}

func (s *Scheduler) stopLocked() bool {
	wasRunning := s.stream != nil
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.log.WithError(err).Warn("close audio stream")
		}
		s.stream = nil
	}
	// Order matters: once the transport is stopped no tick can queue a new
	// draw event, and Cancel waits out any Drain already running.
	s.transport.Stop()
	s.queue.Cancel()
	if wasRunning {
		// Releases held voices and note-offs still queued for later frames.
		s.procMu.Lock()
		s.engine.Reset()
		s.procMu.Unlock()
	}
	s.store.SetCurrentStep(timeline.NoStep)
	s.store.SetPlaying(false)
	return wasRunning
}

// Process is the audio callback. dst holds interleaved stereo frames.
func (s *Scheduler) Process(dst []float32) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	frames := len(dst) / 2
	for f := 0; f < frames; f++ {
		s.transport.Advance(1, s.dispatchTick)
		l, r := s.engine.RenderFrame()
		if s.fx != nil {
			l, r = s.fx.Process(l, r)
		}
		dst[f*2] = l
		dst[f*2+1] = r
	}
}

func (s *Scheduler) dispatchTick(tick transport.Tick) {
	counter := s.counter.Load()
	step := int(counter % int64(s.store.TotalSteps()))
	seconds := s.duration.Seconds(tick.BPM)
	for _, n := range s.store.NotesAtStep(step) {
		row, ok := s.store.Row(n.RowIndex)
		if !ok {
			s.log.WithFields(logrus.Fields{"row": n.RowIndex, "step": step}).Warn("note row out of range, skipped")
			continue
		}
		if err := s.engine.TriggerAttackRelease(row.Pitch, seconds, tick.At); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"row": n.RowIndex, "step": step}).Warn("trigger failed")
		}
	}
	s.queue.Schedule(tick.At, func() { s.store.SetCurrentStep(step) })
	s.counter.Store(counter + 1)
}

// Present publishes every step whose audio is now audible. Call it once per
// rendered video frame.
func (s *Scheduler) Present() int {
	now, ok := s.position()
	if !ok {
		return 0
	}
	return s.queue.Drain(now)
}

// Position is the audio-clock frame the listener currently hears.
func (s *Scheduler) Position() transport.Time {
	now, _ := s.position()
	return now
}

func (s *Scheduler) position() (transport.Time, bool) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return 0, false
	}
	return transport.Time(stream.Position().Seconds() * float64(s.sampleRate)), true
}

// RunPresenter calls Present every interval until ctx ends. Headless hosts
// use it in place of a render loop.
func (s *Scheduler) RunPresenter(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Present()
		}
	}
}

// Counter is the number of ticks dispatched since Start.
func (s *Scheduler) Counter() int64 {
	return s.counter.Load()
}

func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// BPM is the transport's instantaneous tempo, which lags the store's during
// a ramp.
func (s *Scheduler) BPM() float64 {
	return s.transport.BPM()
}

// PendingDraws is the number of step publishes not yet presented.
func (s *Scheduler) PendingDraws() int {
	return s.queue.Len()
}

// Close stops playback and detaches from the store.
func (s *Scheduler) Close() {
	s.Stop()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}
