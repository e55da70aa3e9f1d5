package synth

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var semitones = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// ParsePitch converts scientific pitch notation ("C5", "A#5", "Gb6",
// "Bb-1") to a MIDI note number. A4 is 69.
func ParsePitch(name string) (int, error) {
	s := strings.TrimSpace(name)
	if s == "" {
		return 0, errors.New("empty pitch")
	}
	base, ok := semitones[upper(s[0])]
	if !ok {
		return 0, errors.Errorf("pitch %q: unknown letter", name)
	}
	i := 1
	for ; i < len(s); i++ {
		switch s[i] {
		case '#':
			base++
			continue
		case 'b':
			base--
			continue
		}
		break
	}
	octave, err := strconv.Atoi(s[i:])
	if err != nil {
		return 0, errors.Errorf("pitch %q: bad octave", name)
	}
	note := (octave+1)*12 + base
	if note < 0 || note > 127 {
		return 0, errors.Errorf("pitch %q: outside MIDI range", name)
	}
	return note, nil
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func midiToFreq(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}
