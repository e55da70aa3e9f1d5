package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbegin/musicbox-go/internal/midiout"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI output ports",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		names := midiout.Ports()
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no MIDI output ports")
			return
		}
		for i, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i, name)
		}
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
