package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/musicbox-go"
	"github.com/cbegin/musicbox-go/internal/project"
	"github.com/cbegin/musicbox-go/internal/timeline"
)

var playCmd = &cobra.Command{
	Use:   "play [project.json]",
	Short: "Play a project until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := timeline.NewStore()
		if len(args) == 1 {
			if err := project.LoadFile(args[0], store); err != nil {
				return err
			}
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, closeMIDI, err := newPlayer(store)
		if err != nil {
			return err
		}
		defer closeMIDI()
		defer p.Close()
		if err := p.Start(ctx); err != nil {
			return err
		}
		go p.RunPresenter(ctx)
		logrus.WithFields(logrus.Fields{
			"tempo": store.Tempo(),
			"steps": store.TotalSteps(),
			"notes": len(store.PlacedNotes()),
		}).Info("playing, press ctrl-c to stop")
		<-ctx.Done()
		return nil
	},
}

// newPlayer builds a player from the loaded config, adding the MIDI output
// when one is configured. closeMIDI releases the port; call it after the
// player is closed so the final note-offs reach the instrument.
func newPlayer(store *timeline.Store, extra ...musicbox.PlayerOption) (p *musicbox.Player, closeMIDI func(), err error) {
	closeMIDI = func() {}
	opts := append(musicbox.ConfigOptions(cfg), musicbox.WithStore(store))
	if cfg.MIDIOut != "" {
		engine, err := openMIDI(cfg.MIDIOut, cfg.SampleRate)
		if err != nil {
			return nil, nil, err
		}
		closeMIDI = func() {
			if err := engine.Close(); err != nil {
				logrus.WithError(err).Warn("close midi out")
			}
		}
		opts = append(opts, musicbox.WithEngine(engine))
	}
	p, err = musicbox.NewPlayer(cfg.SampleRate, append(opts, extra...)...)
	if err != nil {
		closeMIDI()
		return nil, nil, err
	}
	return p, closeMIDI, nil
}

func init() {
	rootCmd.AddCommand(playCmd)
}
