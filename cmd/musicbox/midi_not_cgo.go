//go:build !cgo

package main

import (
	"github.com/pkg/errors"

	"github.com/cbegin/musicbox-go/internal/midiout"
)

func openMIDI(port string, sampleRate int) (*midiout.Engine, error) {
	// rtmidi needs cgo
	return nil, errors.Errorf("midi out %q: built without cgo", port)
}
