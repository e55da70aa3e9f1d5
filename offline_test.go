package musicbox

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/cbegin/musicbox-go/internal/timeline"
	"github.com/cbegin/musicbox-go/internal/transport"
)

func energy(samples []float32) float64 {
	var e float64
	for _, s := range samples {
		e += math.Abs(float64(s))
	}
	return e
}

func TestRenderSamplesPlaysNotes(t *testing.T) {
	store := timeline.NewStore()
	if _, err := store.ToggleNote(0, 0); err != nil {
		t.Fatal(err)
	}
	samples, err := RenderSamples(store, 48000, 0.5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(samples) != 48000 {
		t.Fatalf("got %d samples, want %d", len(samples), 48000)
	}
	if energy(samples) == 0 {
		t.Fatalf("expected non-zero audio energy")
	}
	if store.IsPlaying() || store.CurrentStep() != timeline.NoStep {
		t.Fatalf("render should leave the store stopped")
	}
}

func TestRenderSamplesEmptyTimelineIsSilent(t *testing.T) {
	samples, err := RenderSamples(timeline.NewStore(), 48000, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if e := energy(samples); e != 0 {
		t.Fatalf("expected silence, energy=%f", e)
	}
}

func TestRenderSamplesNoteLandsOnItsStep(t *testing.T) {
	store := timeline.NewStore()
	if _, err := store.ToggleNote(0, 2); err != nil {
		t.Fatal(err)
	}
	const rate = 48000
	samples, err := RenderSamples(store, rate, 0.75)
	if err != nil {
		t.Fatal(err)
	}
	// 8n at 120 bpm: step 2 begins at 0.5s.
	onset := rate / 2 * 2
	if e := energy(samples[:onset-200]); e != 0 {
		t.Fatalf("sound before step 2: %f", e)
	}
	if e := energy(samples[onset:]); e == 0 {
		t.Fatalf("no sound after step 2")
	}
}

func TestRenderSamplesRejectsNegativeLength(t *testing.T) {
	if _, err := RenderSamples(timeline.NewStore(), 48000, -1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoopDuration(t *testing.T) {
	store := timeline.NewStore()
	if got := LoopDuration(store, transport.MustParseNotation("8n")); got != 8*time.Second {
		t.Fatalf("32 eighths at 120 = %v, want 8s", got)
	}
	if err := store.SetTotalSteps(16); err != nil {
		t.Fatal(err)
	}
	if got := LoopDuration(store, transport.MustParseNotation("16n")); got != 2*time.Second {
		t.Fatalf("16 sixteenths at 120 = %v, want 2s", got)
	}
}

func TestEncodeWAVFloat32LEHeader(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	wav := EncodeWAVFloat32LE(samples, 44100, 2)
	if len(wav) != 44+len(samples)*4 {
		t.Fatalf("wav length = %d", len(wav))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) || !bytes.Equal(wav[36:40], []byte("data")) {
		t.Fatalf("bad chunk ids")
	}
	if f := binary.LittleEndian.Uint16(wav[20:]); f != 3 {
		t.Fatalf("format = %d, want IEEE float", f)
	}
	if sr := binary.LittleEndian.Uint32(wav[24:]); sr != 44100 {
		t.Fatalf("sample rate = %d", sr)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(wav[44+4:])); got != 0.5 {
		t.Fatalf("second sample = %f", got)
	}
}
