package musicbox

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"

	intaudio "github.com/cbegin/musicbox-go/internal/audio"
	"github.com/cbegin/musicbox-go/internal/timeline"
	"github.com/cbegin/musicbox-go/internal/transport"
)

// offlineOutput is always ready and never touches a device; the caller
// pulls samples straight from the scheduler.
type offlineOutput struct{}

type offlineStream struct{}

func (offlineOutput) Ready(context.Context) error { return nil }
func (offlineOutput) Open(intaudio.SampleSource) (intaudio.Stream, error) {
	return offlineStream{}, nil
}

func (offlineStream) Play()                   {}
func (offlineStream) Close() error            { return nil }
func (offlineStream) Position() time.Duration { return 0 }

// LoopDuration is the length of one pass over every step at the store's
// tempo.
func LoopDuration(store *timeline.Store, subdivision transport.Notation) time.Duration {
	if !subdivision.Relative() {
		subdivision = transport.MustParseNotation("8n")
	}
	sec := subdivision.Seconds(store.Tempo()) * float64(store.TotalSteps())
	return time.Duration(sec * float64(time.Second))
}

// RenderSamples plays store from step 0 for seconds and returns interleaved
// stereo samples. The store's playback flags are left stopped afterwards.
func RenderSamples(store *timeline.Store, sampleRate int, seconds float64, opts ...PlayerOption) ([]float32, error) {
	if seconds < 0 || math.IsNaN(seconds) {
		return nil, errors.Errorf("invalid render length %v", seconds)
	}
	opts = append(opts, WithStore(store), WithOutput(offlineOutput{}))
	p, err := NewPlayer(sampleRate, opts...)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	if err := p.Start(context.Background()); err != nil {
		return nil, err
	}
	frames := int(float64(sampleRate) * seconds)
	out := make([]float32, frames*2)
	p.sched.Process(out)
	p.Stop()
	return out, nil
}

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

const wavFormatIEEEFloat = 3

// WriteWAVFloat32LE writes samples as a 32-bit float WAV file.
func WriteWAVFloat32LE(w io.Writer, samples []float32, sampleRate int, channels int) error {
	dataSize := uint32(len(samples) * 4)
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		Format:        wavFormatIEEEFloat,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * 4),
		BlockAlign:    uint16(channels * 4),
		BitsPerSample: 32,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return errors.Wrap(err, "write wav header")
	}
	return errors.Wrap(binary.Write(w, binary.LittleEndian, samples), "write wav data")
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(samples)*4)
	// Writes to a bytes.Buffer cannot fail.
	_ = WriteWAVFloat32LE(&buf, samples, sampleRate, channels)
	return buf.Bytes()
}
