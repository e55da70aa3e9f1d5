package transport

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Notation is a musical duration: either tempo-relative ("8n", "4n.",
// "8t", "1m") or an absolute number of seconds ("0.25").
type Notation struct {
	text    string
	beats   float64
	seconds float64
}

// ParseNotation accepts "<N>n", "<N>n." (dotted), "<N>t" (triplet),
// "<N>m" (4/4 measures) and plain seconds.
func ParseNotation(s string) (Notation, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Notation{}, errors.New("empty notation")
	}
	if secs, err := strconv.ParseFloat(text, 64); err == nil {
		if secs <= 0 {
			return Notation{}, errors.Errorf("notation %q: duration must be positive", s)
		}
		return Notation{text: text, seconds: secs}, nil
	}
	body := text
	dotted := strings.HasSuffix(body, ".")
	if dotted {
		body = strings.TrimSuffix(body, ".")
	}
	if len(body) < 2 {
		return Notation{}, errors.Errorf("notation %q: too short", s)
	}
	unit := body[len(body)-1]
	n, err := strconv.Atoi(body[:len(body)-1])
	if err != nil || n <= 0 {
		return Notation{}, errors.Errorf("notation %q: bad divisor", s)
	}
	var beats float64
	switch unit {
	case 'n':
		beats = 4 / float64(n)
	case 't':
		beats = 4 / float64(n) * 2 / 3
	case 'm':
		beats = 4 * float64(n)
	default:
		return Notation{}, errors.Errorf("notation %q: unknown unit %q", s, unit)
	}
	if dotted {
		beats *= 1.5
	}
	return Notation{text: text, beats: beats}, nil
}

// MustParseNotation is for package-level defaults.
func MustParseNotation(s string) Notation {
	n, err := ParseNotation(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Relative reports whether the duration scales with tempo.
func (n Notation) Relative() bool { return n.beats > 0 }

// Beats returns the tempo-relative length in quarter-note beats, or 0 for
// absolute durations.
func (n Notation) Beats() float64 { return n.beats }

// Seconds resolves the duration at the given tempo.
func (n Notation) Seconds(bpm float64) float64 {
	if n.beats > 0 {
		if bpm <= 0 {
			return 0
		}
		return n.beats * 60 / bpm
	}
	return n.seconds
}

func (n Notation) String() string { return n.text }
