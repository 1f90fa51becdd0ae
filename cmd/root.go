package cmd

import (
	"log/slog"
	"os"

	"github.com/encodeous/strata/state"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Strata layered network node",
	Long: `Strata runs one node of a small store-and-forward network. Every node frames
packets onto byte channels shared with its neighbours, routes them with a path-vector
protocol and splits messages into sequenced chunks protected by XOR parity.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func logLevel(cmd *cobra.Command) slog.Level {
	if ok, _ := cmd.Flags().GetBool("verbose"); ok {
		return slog.LevelDebug
	}
	if ok, _ := cmd.Flags().GetBool("quiet"); ok {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "node",
		Title: "Node Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "tools",
		Title: "Tools",
	})

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only log warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&state.DBG_debug, "debug", false, "Serve pprof and metrics on "+state.DebugAddr)
	rootCmd.PersistentFlags().BoolVar(&state.DBG_trace, "trace", false, "Write an execution trace to trace.out")
	rootCmd.PersistentFlags().BoolVarP(&state.DBG_log_router, "lroute", "r", false, "Write router updates and the final table to the console")
	rootCmd.PersistentFlags().BoolVarP(&state.DBG_log_packets, "lpacket", "p", false, "Write every packet sent and received to the console")
}
