// Package timeline holds the authoritative sequence data and playback flags.
// It has no timing logic. Every call is synchronous; a single RWMutex makes
// each call atomic so the audio goroutine can read the live note set while
// the UI edits it.
package timeline

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultTotalSteps = 32
	// NoStep is the CurrentStep value while stopped.
	NoStep = -1
)

// PlacedNote is one peg on the grid.
type PlacedNote struct {
	ID        string `json:"id"`
	RowIndex  int    `json:"rowIndex"`
	StepIndex int    `json:"stepIndex"`
}

type PlaybackState struct {
	IsPlaying   bool
	CurrentStep int
}

type cell struct{ row, step int }

type Store struct {
	mu       sync.RWMutex
	rows     []NoteRow
	settings DrumSettings
	steps    int
	notes    []PlacedNote
	index    map[cell]int
	playback PlaybackState
	newID    func() string

	obsMu     sync.Mutex
	nextObs   int
	tempoObs  map[int]func(float64)
	changeObs map[int]func()
}

type Option func(*Store)

// WithNoteRows replaces the default 18-row comb.
func WithNoteRows(rows []NoteRow) Option {
	return func(s *Store) {
		s.rows = append([]NoteRow(nil), rows...)
	}
}

// WithIDGenerator sets how ToggleNote names new notes.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		rows:      DefaultNoteRows(),
		settings:  DefaultDrumSettings(),
		steps:     DefaultTotalSteps,
		index:     map[cell]int{},
		playback:  PlaybackState{CurrentStep: NoStep},
		newID:     func() string { return uuid.New().String() },
		tempoObs:  map[int]func(float64){},
		changeObs: map[int]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NoteRows returns a copy of the row-to-pitch mapping.
func (s *Store) NoteRows() []NoteRow {
	return append([]NoteRow(nil), s.rows...)
}

// Row resolves a row index; ok is false when out of range.
func (s *Store) Row(i int) (NoteRow, bool) {
	if i < 0 || i >= len(s.rows) {
		return NoteRow{}, false
	}
	return s.rows[i], true
}

func (s *Store) TotalSteps() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steps
}

func (s *Store) SetTotalSteps(n int) error {
	if n <= 0 {
		return ErrInvalidSteps
	}
	s.mu.Lock()
	changed := s.steps != n
	s.steps = n
	s.mu.Unlock()
	if changed {
		s.notifyChange()
	}
	return nil
}

// PlacedNotes returns a copy of all notes in insertion order.
func (s *Store) PlacedNotes() []PlacedNote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PlacedNote(nil), s.notes...)
}

// NotesAtStep returns the notes on step, ordered by row.
func (s *Store) NotesAtStep(step int) []PlacedNote {
	s.mu.RLock()
	var out []PlacedNote
	for _, n := range s.notes {
		if n.StepIndex == step {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out
}

// HasNote reports whether a note occupies (row, step).
func (s *Store) HasNote(row, step int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[cell{row, step}]
	return ok
}

// ToggleNote removes the note at (row, step) if there is one, otherwise
// places a new one. It returns true when a note was added.
func (s *Store) ToggleNote(row, step int) (bool, error) {
	if row < 0 || row >= len(s.rows) {
		return false, errors.Wrapf(ErrOutOfRange, "row %d", row)
	}
	s.mu.Lock()
	if step < 0 || step >= s.steps {
		s.mu.Unlock()
		return false, errors.Wrapf(ErrOutOfRange, "step %d", step)
	}
	key := cell{row, step}
	added := false
	if i, ok := s.index[key]; ok {
		s.notes = append(s.notes[:i], s.notes[i+1:]...)
		s.reindex()
	} else {
		s.index[key] = len(s.notes)
		s.notes = append(s.notes, PlacedNote{ID: s.newID(), RowIndex: row, StepIndex: step})
		added = true
	}
	s.mu.Unlock()
	s.notifyChange()
	return added, nil
}

func (s *Store) reindex() {
	s.index = make(map[cell]int, len(s.notes))
	for i, n := range s.notes {
		s.index[cell{n.RowIndex, n.StepIndex}] = i
	}
}

func (s *Store) Settings() DrumSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) SetSettings(settings DrumSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.settings.Tempo
	s.settings = settings
	s.mu.Unlock()
	if old != settings.Tempo {
		s.notifyTempo(settings.Tempo)
	}
	s.notifyChange()
	return nil
}

func (s *Store) Tempo() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Tempo
}

func (s *Store) SetTempo(bpm float64) error {
	if !validTempo(bpm) {
		return ErrInvalidTempo
	}
	s.mu.Lock()
	changed := s.settings.Tempo != bpm
	s.settings.Tempo = bpm
	s.mu.Unlock()
	if changed {
		s.notifyTempo(bpm)
		s.notifyChange()
	}
	return nil
}

// Patch is a bulk replacement; nil fields are left untouched.
type Patch struct {
	Settings *DrumSettings
	Notes    *[]PlacedNote
	Steps    *int
}

// Replace applies a Patch atomically. Nothing changes if any part is
// invalid. Notes sharing a (row, step) cell keep only the first.
func (s *Store) Replace(p Patch) error {
	if p.Settings != nil {
		if err := p.Settings.Validate(); err != nil {
			return err
		}
	}
	if p.Steps != nil && *p.Steps <= 0 {
		return ErrInvalidSteps
	}
	s.mu.Lock()
	oldTempo := s.settings.Tempo
	if p.Settings != nil {
		s.settings = *p.Settings
	}
	if p.Notes != nil {
		s.notes = dedupe(*p.Notes)
		s.reindex()
	}
	if p.Steps != nil {
		s.steps = *p.Steps
	}
	tempo := s.settings.Tempo
	s.mu.Unlock()
	if tempo != oldTempo {
		s.notifyTempo(tempo)
	}
	if p.Settings != nil || p.Notes != nil || p.Steps != nil {
		s.notifyChange()
	}
	return nil
}

func dedupe(notes []PlacedNote) []PlacedNote {
	seen := make(map[cell]struct{}, len(notes))
	out := make([]PlacedNote, 0, len(notes))
	for _, n := range notes {
		key := cell{n.RowIndex, n.StepIndex}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Clear removes every note and resets the tempo. Drum dimensions and the
// step count are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	old := s.settings.Tempo
	s.notes = nil
	s.index = map[cell]int{}
	s.settings.Tempo = DefaultTempo
	s.mu.Unlock()
	if old != DefaultTempo {
		s.notifyTempo(DefaultTempo)
	}
	s.notifyChange()
}

func (s *Store) CurrentStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playback.CurrentStep
}

func (s *Store) SetCurrentStep(step int) {
	s.mu.Lock()
	s.playback.CurrentStep = step
	s.mu.Unlock()
}

func (s *Store) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playback.IsPlaying
}

func (s *Store) SetPlaying(playing bool) {
	s.mu.Lock()
	s.playback.IsPlaying = playing
	s.mu.Unlock()
}

func (s *Store) Playback() PlaybackState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playback
}

// OnTempoChange registers fn for every future tempo change. Observers run on
// the goroutine that changed the tempo, after the store is unlocked.
func (s *Store) OnTempoChange(fn func(bpm float64)) (cancel func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.tempoObs[id] = fn
	return func() {
		s.obsMu.Lock()
		delete(s.tempoObs, id)
		s.obsMu.Unlock()
	}
}

// OnChange registers fn for edits to notes, settings or step count.
// Playback flags do not fire it.
func (s *Store) OnChange(fn func()) (cancel func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.changeObs[id] = fn
	return func() {
		s.obsMu.Lock()
		delete(s.changeObs, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) notifyTempo(bpm float64) {
	s.obsMu.Lock()
	fns := make([]func(float64), 0, len(s.tempoObs))
	for _, fn := range s.tempoObs {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn(bpm)
	}
}

func (s *Store) notifyChange() {
	s.obsMu.Lock()
	fns := make([]func(), 0, len(s.changeObs))
	for _, fn := range s.changeObs {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
