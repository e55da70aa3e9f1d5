package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/musicbox-go/internal/config"
)

var (
	configPath string
	logFormat  string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "musicbox",
	Short: "Music-box step sequencer",
	Long: `musicbox plays an 18-tine music-box grid through a built-in synth,
renders projects to WAV, and serves the timeline over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logrus.SetLevel(cfg.Level())
		if logFormat == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
		logrus.WithField("config", configPath).Debug("config loaded")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text|json")
}

func Execute() {
	cobra.CheckErr(rootCmd.ExecuteContext(context.Background()))
}
