package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/encodeous/strata/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var topoOpts struct {
	count   int
	out     string
	message string
	start   int
}

// makeTopology builds a topology of count nodes where node 0 sends a message to
// the last node.
func makeTopology(shape string, count int, message string, start int) (*state.TopologyCfg, error) {
	if count < 2 || count > state.NodeCount {
		return nil, fmt.Errorf("node count must be between 2 and %d, got %d", state.NodeCount, count)
	}
	names := make([]string, 0, count)
	for i := range count {
		names = append(names, state.NodeId(i).String())
	}
	var graph []string
	switch shape {
	case "chain", "ring":
		for i := 0; i+1 < count; i++ {
			graph = append(graph, names[i]+", "+names[i+1])
		}
		if shape == "ring" && count > 2 {
			graph = append(graph, names[count-1]+", "+names[0])
		}
	case "full":
		graph = append(graph, strings.Join(names, ", "))
	default:
		return nil, fmt.Errorf("unknown shape %q, expected chain, ring or full", shape)
	}

	last := state.NodeId(count - 1)
	topo := &state.TopologyCfg{
		TickMs:      int(state.DefaultTick.Milliseconds()),
		PayloadSize: state.DefaultPayloadSize,
		Duration:    start + 10*count,
		Graph:       graph,
	}
	for i := range count {
		node := state.TopologyNode{Id: state.NodeId(i)}
		if i == 0 {
			node.Dest = &last
			node.Message = message
			node.StartOffset = start
		}
		topo.Nodes = append(topo.Nodes, node)
	}
	return topo, state.TopologyValidator(topo)
}

var topoCmd = &cobra.Command{
	Use:       "topo {chain|ring|full}",
	Short:     "Generate a topology file for sim",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"chain", "ring", "full"},
	Run: func(cmd *cobra.Command, args []string) {
		topo, err := makeTopology(args[0], topoOpts.count, topoOpts.message, topoOpts.start)
		if err != nil {
			exitWith(err)
		}
		out, err := yaml.Marshal(topo)
		if err != nil {
			exitWith(err)
		}
		if topoOpts.out == "" || topoOpts.out == "-" {
			fmt.Print(string(out))
			return
		}
		if err := os.WriteFile(topoOpts.out, out, 0600); err != nil {
			exitWith(err)
		}
		fmt.Println("Wrote topology to", topoOpts.out)
	},
	GroupID: "tools",
}

func init() {
	rootCmd.AddCommand(topoCmd)

	topoCmd.Flags().IntVarP(&topoOpts.count, "count", "c", 3, "Number of nodes")
	topoCmd.Flags().StringVarP(&topoOpts.out, "out", "o", "", "Output file, stdout when empty")
	topoCmd.Flags().StringVarP(&topoOpts.message, "message", "m", "HELLO!", "Message node 0 sends to the last node")
	topoCmd.Flags().IntVar(&topoOpts.start, "start", 10, "Tick after which the message is sent")
}
