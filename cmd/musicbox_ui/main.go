// Command musicbox_ui is the desktop editor: click cells to place pegs,
// space to play.
package main

import (
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/musicbox-go/internal/config"
	"github.com/cbegin/musicbox-go/internal/project"
	"github.com/cbegin/musicbox-go/internal/timeline"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "musicbox_ui [project.json]",
	Short:        "Music-box grid editor",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logrus.SetLevel(cfg.Level())

		store := timeline.NewStore()
		saveDir, saveName := cfg.ProjectDir, project.DefaultName
		if len(args) == 1 {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return errors.Wrapf(err, "resolve %q", args[0])
			}
			if err := project.LoadFile(path, store); err != nil {
				return err
			}
			saveDir = filepath.Dir(path)
			saveName = strings.TrimSuffix(filepath.Base(path), project.Ext)
		}

		g, err := newGame(cfg, store, saveDir, saveName)
		if err != nil {
			return err
		}
		defer g.Close()

		ebiten.SetWindowSize(windowW, windowH)
		ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
		ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
		ebiten.SetWindowTitle("musicbox - " + project.FileName(saveName))
		return ebiten.RunGame(g)
	},
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultPath, "config file")
	cobra.CheckErr(rootCmd.Execute())
}
