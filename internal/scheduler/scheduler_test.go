package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/musicbox-go/internal/audio"
	"github.com/cbegin/musicbox-go/internal/midiout"
	"github.com/cbegin/musicbox-go/internal/timeline"
	"github.com/cbegin/musicbox-go/internal/transport"
)

const testRate = 1000 // 120 bpm, 8n -> 250 frames per tick

type trigger struct {
	pitch   string
	seconds float64
	at      transport.Time
}

type countingEngine struct {
	mu       sync.Mutex
	triggers []trigger
	resets   int
	frames   int
	fail     bool
}

func (e *countingEngine) TriggerAttackRelease(pitch string, seconds float64, at transport.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("engine failure")
	}
	e.triggers = append(e.triggers, trigger{pitch, seconds, at})
	return nil
}
func (e *countingEngine) RenderFrame() (float32, float32) { e.frames++; return 0, 0 }
func (e *countingEngine) Reset()                          { e.resets++; e.frames = 0 }

func (e *countingEngine) got() []trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]trigger(nil), e.triggers...)
}

type fakeStream struct {
	mu     sync.Mutex
	played bool
	closed int
	pos    time.Duration
}

func (s *fakeStream) Play() { s.mu.Lock(); s.played = true; s.mu.Unlock() }
func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}
func (s *fakeStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}
func (s *fakeStream) seek(frames int) {
	s.mu.Lock()
	s.pos = time.Duration(frames) * time.Second / testRate
	s.mu.Unlock()
}

type fakeOutput struct {
	readyErr error
	streams  []*fakeStream
}

func (o *fakeOutput) Ready(ctx context.Context) error { return o.readyErr }
func (o *fakeOutput) Open(src audio.SampleSource) (audio.Stream, error) {
	st := &fakeStream{}
	o.streams = append(o.streams, st)
	return st, nil
}

func (o *fakeOutput) last() *fakeStream { return o.streams[len(o.streams)-1] }

type fixture struct {
	store  *timeline.Store
	engine *countingEngine
	out    *fakeOutput
	sched  *Scheduler
	hook   *logtest.Hook
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts.Logger = logger
	f := &fixture{
		store:  timeline.NewStore(),
		engine: &countingEngine{},
		out:    &fakeOutput{},
		hook:   hook,
	}
	s, err := NewWithOptions(f.store, f.engine, f.out, testRate, opts)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	f.sched = s
	t.Cleanup(s.Close)
	return f
}

// near allows the one-frame rounding of the tick accumulator.
func near(got, want transport.Time) bool {
	return got >= want-1 && got <= want+1
}

func (f *fixture) run(frames int) {
	f.sched.Process(make([]float32, frames*2))
}

func TestStartResetsAndPlays(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.SetCurrentStep(7)
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !f.store.IsPlaying() || !f.sched.Playing() {
		t.Fatalf("expected playing")
	}
	if f.store.CurrentStep() != timeline.NoStep {
		t.Fatalf("currentStep = %d, want -1", f.store.CurrentStep())
	}
	if f.sched.Counter() != 0 || f.engine.resets != 1 {
		t.Fatalf("counter=%d resets=%d", f.sched.Counter(), f.engine.resets)
	}
	if !f.out.last().played {
		t.Fatalf("stream not played")
	}
}

func TestStepsWrapAroundTotalSteps(t *testing.T) {
	f := newFixture(t, Options{})
	const n = 4
	if err := f.store.SetTotalSteps(n); err != nil {
		t.Fatal(err)
	}
	for step := 0; step < n; step++ {
		if _, err := f.store.ToggleNote(step, step); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(2 * n * 250)
	if f.sched.Counter() != 2*n {
		t.Fatalf("counter = %d, want %d", f.sched.Counter(), 2*n)
	}
	rows := f.store.NoteRows()
	got := f.engine.got()
	if len(got) != 2*n {
		t.Fatalf("got %d triggers, want %d", len(got), 2*n)
	}
	for i, tr := range got {
		step := i % n
		if tr.pitch != rows[step].Pitch {
			t.Errorf("tick %d: pitch %s, want %s", i, tr.pitch, rows[step].Pitch)
		}
		if want := transport.Time(i * 250); !near(tr.at, want) {
			t.Errorf("tick %d at frame %d, want ~%d", i, tr.at, want)
		}
	}
}

func TestSingleNoteScenario(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.store.SetTotalSteps(4); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.ToggleNote(0, 2); err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(1000)
	got := f.engine.got()
	if len(got) != 1 {
		t.Fatalf("expected one trigger per cycle, got %v", got)
	}
	if got[0].pitch != "C5" || got[0].seconds != 0.25 || !near(got[0].at, 500) {
		t.Fatalf("unexpected trigger %+v", got[0])
	}
	f.run(1000)
	got = f.engine.got()
	if len(got) != 2 || !near(got[1].at, 1500) {
		t.Fatalf("expected repeat at frame 1500, got %v", got)
	}
}

func TestNotesOnSameStepArePolyphonic(t *testing.T) {
	f := newFixture(t, Options{})
	for _, row := range []int{5, 0, 11} {
		if _, err := f.store.ToggleNote(row, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(10)
	got := f.engine.got()
	if len(got) != 3 {
		t.Fatalf("expected 3 triggers, got %d", len(got))
	}
	for _, tr := range got {
		if tr.at != 0 {
			t.Errorf("all notes of a step share the tick time, got %d", tr.at)
		}
	}
	if got[0].pitch != "C5" || got[1].pitch != "A#5" || got[2].pitch != "G#6" {
		t.Errorf("expected row order, got %v", got)
	}
}

func TestPresentPublishesAtAudioPosition(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(1000)
	st := f.out.last()

	st.seek(100)
	f.sched.Present()
	if got := f.store.CurrentStep(); got != 0 {
		t.Fatalf("at frame 100 step = %d, want 0", got)
	}
	st.seek(600)
	f.sched.Present()
	if got := f.store.CurrentStep(); got != 2 {
		t.Fatalf("at frame 600 step = %d, want 2", got)
	}
	if f.sched.PendingDraws() != 1 {
		t.Fatalf("step 3 should still be pending, got %d", f.sched.PendingDraws())
	}
}

func TestStopIsIdempotentAndDropsPendingDraws(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(1000)
	st := f.out.last()
	f.sched.Stop()
	f.sched.Stop()
	if st.closed != 1 {
		t.Fatalf("stream closed %d times", st.closed)
	}
	if f.engine.resets != 2 {
		t.Fatalf("engine reset %d times, want once on start and once on stop", f.engine.resets)
	}
	if f.store.IsPlaying() || f.store.CurrentStep() != timeline.NoStep {
		t.Fatalf("unexpected playback state %+v", f.store.Playback())
	}
	// A stale publish must not move the playhead after Stop.
	st.seek(5000)
	f.sched.Present()
	if f.store.CurrentStep() != timeline.NoStep {
		t.Fatalf("stale draw ran after stop: %d", f.store.CurrentStep())
	}
	// Audio callbacks after Stop produce no ticks.
	before := f.sched.Counter()
	f.run(1000)
	if f.sched.Counter() != before {
		t.Fatalf("ticks after stop")
	}
}

func TestRestartBeginsAtStepZero(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.store.ToggleNote(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(1100)
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.out.streams[0].closed != 1 {
		t.Fatalf("previous stream should be closed on restart")
	}
	f.run(1)
	got := f.engine.got()
	if len(got) != 2 || got[1].at != 0 {
		t.Fatalf("restart should trigger step 0 at frame 0, got %v", got)
	}
}

func TestTempoChangeKeepsCounter(t *testing.T) {
	f := newFixture(t, Options{TempoRamp: -1})
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(1000) // 4 ticks at 120
	if err := f.store.SetTempo(60); err != nil {
		t.Fatal(err)
	}
	if f.sched.Counter() != 4 {
		t.Fatalf("counter reset by tempo change: %d", f.sched.Counter())
	}
	f.run(1000) // 2 ticks at 60
	if f.sched.Counter() != 6 {
		t.Fatalf("counter = %d, want 6", f.sched.Counter())
	}
	if f.sched.BPM() != 60 {
		t.Fatalf("bpm = %f", f.sched.BPM())
	}
}

func TestTempoRampIsGradual(t *testing.T) {
	f := newFixture(t, Options{TempoRamp: time.Second})
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.store.SetTempo(240); err != nil {
		t.Fatal(err)
	}
	f.run(500)
	if bpm := f.sched.BPM(); bpm <= 120 || bpm >= 240 {
		t.Fatalf("mid-ramp bpm = %f", bpm)
	}
	f.run(600)
	if bpm := f.sched.BPM(); bpm != 240 {
		t.Fatalf("ramp should land on 240, got %f", bpm)
	}
}

func TestTempoSubscriptionOutlivesStop(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.sched.Stop()
	if err := f.store.SetTempo(90); err != nil {
		t.Fatal(err)
	}
	if f.sched.BPM() != 90 {
		t.Fatalf("stopped transport should jump to new tempo, got %f", f.sched.BPM())
	}
}

func TestNoteDurationFollowsTempo(t *testing.T) {
	f := newFixture(t, Options{TempoRamp: -1})
	if _, err := f.store.ToggleNote(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.store.SetTempo(60); err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(1)
	if got := f.engine.got(); len(got) != 1 || got[0].seconds != 0.5 {
		t.Fatalf("8n at 60 bpm should last 0.5s, got %v", got)
	}
}

func TestOutOfRangeRowIsSkipped(t *testing.T) {
	f := newFixture(t, Options{})
	notes := []timeline.PlacedNote{
		{ID: "bad", RowIndex: 40, StepIndex: 0},
		{ID: "good", RowIndex: 1, StepIndex: 0},
	}
	if err := f.store.Replace(timeline.Patch{Notes: &notes}); err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(1)
	got := f.engine.got()
	if len(got) != 1 || got[0].pitch != "E5" {
		t.Fatalf("expected only the in-range note, got %v", got)
	}
	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["row"] == 40 {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a warning for row 40")
	}
}

func TestEngineErrorDoesNotStopTicks(t *testing.T) {
	f := newFixture(t, Options{})
	f.engine.fail = true
	if _, err := f.store.ToggleNote(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(1000)
	if f.sched.Counter() != 4 {
		t.Fatalf("counter = %d", f.sched.Counter())
	}
}

func TestAudioFailureLeavesStopped(t *testing.T) {
	f := newFixture(t, Options{})
	f.out.readyErr = errors.Wrap(audio.ErrAudioUnavailable, "no gesture")
	err := f.sched.Start(context.Background())
	if errors.Cause(err) != audio.ErrAudioUnavailable {
		t.Fatalf("expected ErrAudioUnavailable, got %v", err)
	}
	if f.store.IsPlaying() || f.sched.Playing() || len(f.out.streams) != 0 {
		t.Fatalf("scheduler should stay stopped")
	}
	if f.hook.LastEntry() == nil || f.hook.LastEntry().Level != logrus.ErrorLevel {
		t.Fatalf("expected the failure to be logged")
	}
}

func TestStepsShrinkWhilePlaying(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.run(250 * 6) // counter 6
	if err := f.store.SetTotalSteps(4); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.ToggleNote(3, 2); err != nil {
		t.Fatal(err)
	}
	f.run(2) // counter 6 -> step 2
	got := f.engine.got()
	if len(got) != 1 || got[0].pitch != "G5" {
		t.Fatalf("expected step 6 mod 4 = 2 to play, got %v", got)
	}
}

func TestStopReleasesMIDIKeys(t *testing.T) {
	var msgs []midi.Message
	send := func(msg midi.Message) error {
		msgs = append(msgs, msg)
		return nil
	}
	store := timeline.NewStore()
	if _, err := store.ToggleNote(0, 0); err != nil {
		t.Fatal(err)
	}
	engine := midiout.New(send, testRate)
	logger, _ := logtest.NewNullLogger()
	s, err := NewWithOptions(store, engine, &fakeOutput{}, testRate, Options{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// The 8n note-off lands at frame 250; stop before it comes due.
	s.Process(make([]float32, 20))
	if len(msgs) != 1 || engine.Sounding() != 1 {
		t.Fatalf("expected one held key, got %v", msgs)
	}
	s.Stop()
	var ch, key uint8
	if len(msgs) != 2 || !msgs[1].GetNoteEnd(&ch, &key) || key != 72 {
		t.Fatalf("expected note off for C5 after stop, got %v", msgs)
	}
	if engine.Sounding() != 0 {
		t.Fatalf("keys still held after stop")
	}
	// The dropped note-off must not fire on later frames.
	s.Process(make([]float32, 600))
	if len(msgs) != 2 {
		t.Fatalf("messages after stop: %v", msgs)
	}
}
