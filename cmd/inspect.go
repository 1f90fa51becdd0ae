package cmd

import (
	"fmt"
	"os"

	"github.com/encodeous/strata/protocol"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect <channel file>...",
	Aliases: []string{"i"},
	Short:   "Decodes the frames written to channel files",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, path := range args {
			raw, err := os.ReadFile(path)
			if err != nil {
				exitWith(err)
			}
			fmt.Printf("%s:\n", path)
			d := &protocol.Deframer{MaxSize: len(raw) + 1}
			_, _ = d.Write(raw)
			for payload := range d.Frames() {
				p, err := protocol.Unmarshal(payload)
				if err != nil {
					fmt.Printf("  %q: %v\n", payload, err)
					continue
				}
				fmt.Printf("  %s\n", p)
			}
			if d.Buffered() > 0 {
				fmt.Printf("  %d bytes of an incomplete frame\n", d.Buffered())
			}
			if d.Discarded > 0 {
				fmt.Printf("  %d bytes outside of any frame\n", d.Discarded)
			}
		}
	},
	GroupID: "tools",
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
