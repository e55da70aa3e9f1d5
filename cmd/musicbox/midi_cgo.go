//go:build cgo

package main

import (
	"github.com/sirupsen/logrus"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver

	"github.com/cbegin/musicbox-go/internal/midiout"
)

func openMIDI(port string, sampleRate int) (*midiout.Engine, error) {
	return midiout.Open(port, sampleRate, midiout.WithLogger(logrus.StandardLogger()))
}
