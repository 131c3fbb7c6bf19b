// clipstash: clipboard and drag-and-drop capture with a shared history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipstash",
		Short: "Clipboard capture with a shared history",
		Long: `clipstash captures clipboard content and dropped files on one machine,
stores them as history entries on a server, and restores any entry to the
clipboard of another machine.

Run "clipstash server" on one host and "clipstash agent" on each desktop.
Use "clipstash send/restore/history/watch" as CLI tools against any server.
Over the network the server is reached with passphrase-pinned TLS (the
token seeds a self-signed certificate, no CA required); on the same host
the CLI uses the local IPC socket.

Config file search order (first found wins):
  /etc/clipstash/clipstash.toml
  $HOME/.config/clipstash/clipstash.toml
  path supplied via --config

All flags can be set via CLIPSTASH_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServerCmd(),
		newAgentCmd(),
		newSendCmd(),
		newRestoreCmd(),
		newHistoryCmd(),
		newWatchCmd(),
		newDeleteCmd(),
		newDescribeCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clipstash %s\n", Version)
		},
	}
}
