package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/encodeous/strata/core"
	"github.com/encodeous/strata/sim"
	"github.com/spf13/cobra"
)

var simOpts struct {
	topologyPath string
	tickMs       int
	stats        bool
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a whole topology in one process",
	Long: `Runs every node of a topology file in this process, connected by in-memory
channels. Loss rules in the topology drop selected packets on a directed edge.`,
	Example: `  strata topo chain -c 3 -o topo.yaml
  strata sim -t topo.yaml --tick 50`,
	Run: func(cmd *cobra.Command, args []string) {
		topo, err := core.ReadTopology(simOpts.topologyPath)
		if err != nil {
			exitWith(fmt.Errorf("reading %s: %w", simOpts.topologyPath, err))
		}
		if cmd.Flags().Changed("tick") {
			topo.TickMs = simOpts.tickMs
		}

		defer core.SetupDebugging()()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		results, err := sim.Run(ctx, *topo, logLevel(cmd))
		if err != nil {
			exitWith(err)
		}
		for _, r := range results {
			fmt.Printf("node %s\n", r.Id)
			for _, m := range r.Received {
				fmt.Print("  ")
				printMessage(m)
			}
			if simOpts.stats {
				fmt.Printf("  link %+v\n", r.Link)
				fmt.Printf("  router %+v\n", r.Router)
				fmt.Printf("  transport %+v\n", r.Transport)
				fmt.Printf("  reassembly %+v\n", r.Reassembly)
			}
		}
	},
	GroupID: "node",
}

func init() {
	rootCmd.AddCommand(simCmd)

	simCmd.Flags().StringVarP(&simOpts.topologyPath, "topology", "t", "topology.yaml", "Path to the topology file")
	simCmd.Flags().IntVar(&simOpts.tickMs, "tick", 100, "Override the tick length in milliseconds")
	simCmd.Flags().BoolVarP(&simOpts.stats, "stats", "s", false, "Print per node counters")
}
