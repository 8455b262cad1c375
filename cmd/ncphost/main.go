// ncphost — ARPANET NCP host bridging terminal connections to a local
// console.
//
// The process attaches to a simulated IMP over a framed UDP transport,
// listens for NCP connection requests on the two well-known terminal
// sockets, and bridges the established virtual-terminal connection to the
// console of a locally running mainframe simulation.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/obsolescence/arpanet/internal/app"
	"github.com/obsolescence/arpanet/internal/config"
	"github.com/obsolescence/arpanet/internal/util"
)

var version = "dev"

func main() {
	cfg := config.Default()
	var debug bool

	rootCmd := &cobra.Command{
		Use:     "ncphost",
		Short:   "Bridge ARPANET NCP terminal connections to a local console",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				util.EnableDebug()
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return app.Run(ctx, cfg)
		},
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.IMPAddr, "imp", cfg.IMPAddr, "UDP address of the IMP")
	flags.IntVar(&cfg.LocalPort, "port", cfg.LocalPort, "local UDP port the IMP sends to")
	flags.StringVar(&cfg.ConsoleAddr, "console", cfg.ConsoleAddr, "TCP address of the operator console")
	flags.Uint32Var(&cfg.OldSocket, "old-socket", cfg.OldSocket, "listen socket for the old terminal dialect")
	flags.Uint32Var(&cfg.NewSocket, "new-socket", cfg.NewSocket, "listen socket for the new terminal dialect")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
