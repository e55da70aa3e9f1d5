package timeline

import (
	"math"

	"github.com/pkg/errors"
)

type PegType string

const (
	PegTypePegs  PegType = "pegs"
	PegTypeHoles PegType = "holes"
	PegTypeRamps PegType = "ramps"
)

func (p PegType) Valid() bool {
	switch p {
	case PegTypePegs, PegTypeHoles, PegTypeRamps:
		return true
	}
	return false
}

// DrumSettings describes the physical music-box cylinder plus the playback
// tempo. Dimensions are in millimetres.
type DrumSettings struct {
	Diameter float64 `json:"diameter"`
	Length   float64 `json:"length"`
	LipSize  float64 `json:"lipSize"`
	PegType  PegType `json:"pegType"`
	Tempo    float64 `json:"tempo"`
}

const DefaultTempo = 120.0

func DefaultDrumSettings() DrumSettings {
	return DrumSettings{
		Diameter: 13,
		Length:   19.9,
		LipSize:  0.4,
		PegType:  PegTypePegs,
		Tempo:    DefaultTempo,
	}
}

var (
	ErrInvalidTempo = errors.New("tempo must be a positive number of beats per minute")
	ErrInvalidSteps = errors.New("total steps must be positive")
	ErrOutOfRange   = errors.New("cell outside the grid")
)

func validTempo(bpm float64) bool {
	return bpm > 0 && !math.IsInf(bpm, 0) && !math.IsNaN(bpm)
}

// Validate checks the fields playback depends on. Drum dimensions are only
// used by the 3D view and are accepted as-is.
func (s DrumSettings) Validate() error {
	if !validTempo(s.Tempo) {
		return ErrInvalidTempo
	}
	if s.PegType != "" && !s.PegType.Valid() {
		return errors.Errorf("unknown peg type %q", s.PegType)
	}
	return nil
}
