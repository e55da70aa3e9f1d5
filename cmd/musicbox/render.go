package main

import (
	"bufio"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/musicbox-go"
	"github.com/cbegin/musicbox-go/internal/project"
	"github.com/cbegin/musicbox-go/internal/timeline"
)

var (
	renderOut     string
	renderSeconds float64
	renderLoops   int
)

var renderCmd = &cobra.Command{
	Use:   "render <project.json>",
	Short: "Render a project to a float WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := timeline.NewStore()
		if err := project.LoadFile(args[0], store); err != nil {
			return err
		}
		seconds := renderSeconds
		if seconds <= 0 {
			if renderLoops < 1 {
				return errors.Errorf("--loops must be at least 1, got %d", renderLoops)
			}
			loop := musicbox.LoopDuration(store, cfg.SubdivisionNotation())
			tail := time.Duration(cfg.Synth.Release*float64(time.Second)) + time.Second
			seconds = (time.Duration(renderLoops)*loop + tail).Seconds()
		}
		samples, err := musicbox.RenderSamples(store, cfg.SampleRate, seconds, musicbox.ConfigOptions(cfg)...)
		if err != nil {
			return err
		}
		f, err := os.Create(renderOut)
		if err != nil {
			return errors.Wrap(err, "create output")
		}
		w := bufio.NewWriter(f)
		if err := musicbox.WriteWAVFloat32LE(w, samples, cfg.SampleRate, 2); err != nil {
			f.Close()
			return err
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return errors.Wrap(err, "flush output")
		}
		if err := f.Close(); err != nil {
			return errors.Wrap(err, "close output")
		}
		logrus.WithFields(logrus.Fields{"file": renderOut, "seconds": seconds}).Info("rendered")
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "output", "o", "musicbox.wav", "output WAV file")
	renderCmd.Flags().Float64Var(&renderSeconds, "seconds", 0, "render length; 0 renders whole loops plus the release tail")
	renderCmd.Flags().IntVar(&renderLoops, "loops", 1, "loops to render when --seconds is 0")
	rootCmd.AddCommand(renderCmd)
}
