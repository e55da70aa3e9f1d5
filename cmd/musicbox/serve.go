package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/musicbox-go/internal/httpapi"
	"github.com/cbegin/musicbox-go/internal/project"
	"github.com/cbegin/musicbox-go/internal/timeline"
)

var (
	serveAddr    string
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve [project.json]",
	Short: "Serve the timeline and transport over HTTP",
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
		go p.RunPresenter(ctx)

		addr := serveAddr
		if addr == "" {
			addr = cfg.Listen
		}
		opts := []httpapi.Option{httpapi.WithLogger(logrus.StandardLogger())}
		if len(serveOrigins) > 0 {
			opts = append(opts, httpapi.WithAllowedOrigins(serveOrigins...))
		}
		return httpapi.New(store, p, opts...).ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "listen address (default from config)")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "origin", nil, "allowed CORS origin, repeatable (default any)")
	rootCmd.AddCommand(serveCmd)
}
