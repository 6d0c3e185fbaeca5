package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValentinKolb/dGrid/cmd/maps"
	"github.com/ValentinKolb/dGrid/cmd/perf"
	"github.com/ValentinKolb/dGrid/cmd/serve"
	"github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dgrid",
		Short: "in-memory data grid client runtime",
		Long: fmt.Sprintf(`dGrid (v%s)

The client runtime of a partitioned in-memory data grid written in Go:
multiplexed connections, ordered listener events, near caches and a
small in-memory member for development and tests.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dGrid",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dGrid v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(maps.MapCommands)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "none", util.WrapString("print raw response messages with this serializer (none, json, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
// The command context is cancelled on SIGINT and SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
