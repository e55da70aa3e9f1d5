// Package audio connects a sample source to the ebiten audio device.
//
// Browsers and some desktop backends keep the device suspended until a user
// gesture. Output.Ready blocks until the device is running so the caller
// never schedules notes against a clock that is not advancing.
package audio

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// ErrAudioUnavailable is returned when the device cannot be started.
var ErrAudioUnavailable = errors.New("audio output unavailable")

// SampleSource fills interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// Stream is one open connection from a source to the device.
type Stream interface {
	Play()
	Close() error
	// Position is the playback position the listener actually hears.
	Position() time.Duration
}

type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

// Read encodes the source as 32-bit little-endian float stereo, the format
// ebiten's NewPlayerF32 expects.
func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

// Output owns the process-wide audio context.
type Output struct {
	sampleRate int
	poll       time.Duration
}

func NewOutput(sampleRate int) *Output {
	return &Output{sampleRate: sampleRate, poll: 10 * time.Millisecond}
}

func (o *Output) SampleRate() int { return o.sampleRate }

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioContextErr  error
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		defer func() {
			if r := recover(); r != nil {
				audioContextErr = errors.Wrapf(ErrAudioUnavailable, "%v", r)
			}
		}()
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioContextErr != nil {
		return nil, audioContextErr
	}
	if audioSampleRate != sampleRate {
		return nil, errors.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// Ready creates the audio context if needed and waits until the device is
// running. It returns ErrAudioUnavailable if ctx ends first.
func (o *Output) Ready(ctx context.Context) error {
	ac, err := sharedAudioContext(o.sampleRate)
	if err != nil {
		return err
	}
	if ac.IsReady() {
		return nil
	}
	t := time.NewTicker(o.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ErrAudioUnavailable, ctx.Err().Error())
		case <-t.C:
			if ac.IsReady() {
				return nil
			}
		}
	}
}

// Open starts pulling from source. The stream is paused until Play.
func (o *Output) Open(source SampleSource) (Stream, error) {
	ac, err := sharedAudioContext(o.sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ac.NewPlayerF32(reader)
	if err != nil {
		return nil, errors.Wrap(err, "open audio player")
	}
	return &Player{player: pl, reader: reader}, nil
}

type Player struct {
	player *ebitaudio.Player
	reader *StreamReader
}

func (p *Player) Play() { p.player.Play() }

func (p *Player) Position() time.Duration {
	return p.player.Position()
}

func (p *Player) Close() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return errors.Wrap(err, "close audio player")
	}
	return p.reader.Close()
}
