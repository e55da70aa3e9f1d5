package synth

import (
	"math"
	"testing"
)

func renderUntilSound(e *Engine, max int) int {
	for i := 0; i < max; i++ {
		l, r := e.RenderFrame()
		if l != 0 || r != 0 {
			return i
		}
	}
	return -1
}

func TestTriggerStartsAtScheduledFrame(t *testing.T) {
	e := New(48000, DefaultParams())
	if err := e.TriggerAttackRelease("A4", 0.25, 1000); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	for i := 0; i < 1000; i++ {
		if l, _ := e.RenderFrame(); l != 0 {
			t.Fatalf("sound before scheduled frame at %d", i)
		}
	}
	if e.ActiveVoiceCount() != 0 {
		t.Fatalf("voice started early")
	}
	e.RenderFrame()
	if e.ActiveVoiceCount() != 1 {
		t.Fatalf("expected one voice at frame 1000, got %d", e.ActiveVoiceCount())
	}
	if renderUntilSound(e, 100) < 0 {
		t.Fatalf("expected audible output after trigger")
	}
}

func TestPastTriggerStartsImmediately(t *testing.T) {
	e := New(48000, DefaultParams())
	for i := 0; i < 10; i++ {
		e.RenderFrame()
	}
	if err := e.TriggerAttackRelease("C5", 0.1, 2); err != nil {
		t.Fatal(err)
	}
	e.RenderFrame()
	if e.ActiveVoiceCount() != 1 {
		t.Fatalf("late trigger should start on next frame")
	}
}

func TestVoiceReleasesAndFinishes(t *testing.T) {
	p := DefaultParams()
	p.ReleaseSec = 0.05
	e := New(1000, p)
	if err := e.TriggerAttackRelease("C5", 0.1, 0); err != nil {
		t.Fatal(err)
	}
	// hold 100 frames + release 50 frames, with some slack
	for i := 0; i < 120; i++ {
		e.RenderFrame()
	}
	if e.ActiveVoiceCount() != 1 {
		t.Fatalf("voice should still be releasing")
	}
	for i := 0; i < 100; i++ {
		e.RenderFrame()
	}
	if e.ActiveVoiceCount() != 0 {
		t.Fatalf("voice should have finished, %d active", e.ActiveVoiceCount())
	}
}

func TestSimultaneousTriggersArePolyphonic(t *testing.T) {
	e := New(48000, DefaultParams())
	for _, p := range []string{"C5", "E5", "G5"} {
		if err := e.TriggerAttackRelease(p, 0.5, 0); err != nil {
			t.Fatal(err)
		}
	}
	e.RenderFrame()
	if n := e.ActiveVoiceCount(); n != 3 {
		t.Fatalf("expected 3 voices, got %d", n)
	}
}

func TestVoiceStealingCapsPolyphony(t *testing.T) {
	p := DefaultParams()
	p.Voices = 4
	e := New(48000, p)
	for i := 0; i < 10; i++ {
		if err := e.TriggerAttackRelease("C6", 1, 0); err != nil {
			t.Fatal(err)
		}
	}
	e.RenderFrame()
	if n := e.ActiveVoiceCount(); n != 4 {
		t.Fatalf("expected voices capped at 4, got %d", n)
	}
}

func TestTriggerRejectsBadInput(t *testing.T) {
	e := New(48000, DefaultParams())
	if err := e.TriggerAttackRelease("H2", 0.1, 0); err == nil {
		t.Fatalf("expected pitch error")
	}
	if err := e.TriggerAttackRelease("C5", math.NaN(), 0); err == nil {
		t.Fatalf("expected duration error")
	}
	if e.PendingCount() != 0 {
		t.Fatalf("rejected triggers must not be queued")
	}
}

func TestResetSilencesAndRewinds(t *testing.T) {
	e := New(48000, DefaultParams())
	_ = e.TriggerAttackRelease("C5", 1, 0)
	_ = e.TriggerAttackRelease("D5", 1, 5000)
	for i := 0; i < 100; i++ {
		e.RenderFrame()
	}
	e.Reset()
	if e.ActiveVoiceCount() != 0 || e.PendingCount() != 0 || e.Now() != 0 {
		t.Fatalf("reset left state: voices=%d pending=%d now=%d", e.ActiveVoiceCount(), e.PendingCount(), e.Now())
	}
	for i := 0; i < 6000; i++ {
		if l, _ := e.RenderFrame(); l != 0 {
			t.Fatalf("dropped trigger sounded at %d", i)
		}
	}
}

func TestMasterGainZeroIsSilent(t *testing.T) {
	e := New(48000, DefaultParams())
	e.SetMasterGain(0)
	_ = e.TriggerAttackRelease("A5", 0.1, 0)
	if renderUntilSound(e, 2000) >= 0 {
		t.Fatalf("expected silence at zero gain")
	}
}

func TestDecibelsToGain(t *testing.T) {
	if g := DecibelsToGain(-5); math.Abs(g-0.5623) > 0.001 {
		t.Fatalf("-5 dB = %f", g)
	}
	if g := DecibelsToGain(0); g != 1 {
		t.Fatalf("0 dB = %f", g)
	}
}
