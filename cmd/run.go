package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/encodeous/strata/core"
	"github.com/encodeous/strata/state"
	"github.com/spf13/cobra"
)

var runOpts struct {
	nodeConfigPath string
	tickMs         int
	payloadSize    int
	channelDir     string
	channelKind    string
	logPath        string
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <id> <duration> <dest> [<message> <start>] <neighbour>...",
	Short: "Run one node",
	Long: `Runs a single node until its duration has elapsed. The node exchanges bytes with
each neighbour through the channel files from<id>to<neighbour>.txt and
from<neighbour>to<id>.txt, and prints every message it received before exiting.

When <dest> equals <id> the node only relays, and <message> <start> are omitted.
The node sends its message once, at the first tick after <start>.`,
	Example: `  strata run 0 20 2 "HELLO!" 10 1
  strata run 1 20 1 0 2
  strata run -n node.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		var cfg state.NodeCfg
		if runOpts.nodeConfigPath != "" {
			ncfg, err := core.ReadNodeConfig(runOpts.nodeConfigPath)
			if err != nil {
				exitWith(fmt.Errorf("reading %s: %w", runOpts.nodeConfigPath, err))
			}
			cfg = *ncfg
		} else {
			ncfg, err := state.ParseNodeArgs(args)
			if err != nil {
				_ = cmd.Usage()
				exitWith(err)
			}
			cfg = ncfg
		}
		applyRunFlags(cmd, &cfg)
		cfg.ApplyDefaults()
		if err := state.NodeConfigValidator(&cfg); err != nil {
			exitWith(err)
		}

		defer core.SetupDebugging()()

		var s *state.State
		err := core.Start(context.Background(), cfg, logLevel(cmd), nil, &s)
		if err != nil {
			exitWith(err)
		}
		for _, m := range core.Get[*core.Transport](s).Received() {
			printMessage(m)
		}
	},
	GroupID: "node",
}

func applyRunFlags(cmd *cobra.Command, cfg *state.NodeCfg) {
	flags := cmd.Flags()
	if flags.Changed("tick") {
		cfg.TickMs = runOpts.tickMs
	}
	if flags.Changed("payload-size") {
		cfg.PayloadSize = runOpts.payloadSize
	}
	if flags.Changed("dir") {
		cfg.ChannelDir = runOpts.channelDir
	}
	if flags.Changed("kind") {
		cfg.ChannelKind = state.ChannelKind(runOpts.channelKind)
	}
	if flags.Changed("log") {
		cfg.LogPath = runOpts.logPath
	}
}

func printMessage(m core.Message) {
	if m.Complete() {
		fmt.Printf("%s -> %s: %s\n", m.Source, m.Dest, m.Data)
		return
	}
	fmt.Printf("%s -> %s: %s (missing chunks %v)\n", m.Source, m.Dest, m.Data, m.Missing)
}

func exitWith(err error) {
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runOpts.nodeConfigPath, "node-config", "n", "", "Read the node configuration from a yaml file instead of arguments")
	runCmd.Flags().IntVar(&runOpts.tickMs, "tick", int(state.DefaultTick.Milliseconds()), "Tick length in milliseconds")
	runCmd.Flags().IntVar(&runOpts.payloadSize, "payload-size", state.DefaultPayloadSize, "Bytes of message data per packet")
	runCmd.Flags().StringVarP(&runOpts.channelDir, "dir", "d", ".", "Directory holding the channel files")
	runCmd.Flags().StringVarP(&runOpts.channelKind, "kind", "k", string(state.FileChannel), "Channel kind, file or fifo")
	runCmd.Flags().StringVarP(&runOpts.logPath, "log", "l", "", "Also write logs to this file")
}
