package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/render"
	"go.klb.dev/clipstash/internal/subscribe"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print entries as they are stored",
		Long: `Subscribes to the server's real-time feed over gRPC and prints each new
entry as it arrives. Deletes and description edits are reported as store
updates. The stream reconnects with back-off until interrupted.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runWatch(cmd.Context(), v) },
	}
	addClientFlags(cmd)
	addLoggingFlags(cmd)
	return cmd
}

func runWatch(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)

	c, err := newClient(v)
	if err != nil {
		return err
	}
	cc, err := subscribe.Dial(subscribeConfig(v))
	if err != nil {
		return err
	}
	defer cc.Close()

	r := newRenderer(c)
	first := true
	sub := subscribe.New(cc, v.GetString("source"), subscribe.WithLogger(slog.Default()))
	return sub.Run(ctx, func(ev message.Event) {
		switch ev.Event {
		case message.EventNew:
			_ = render.Print(os.Stdout, r.Render(ctx, *ev.Entry))
			fmt.Println()
		case message.EventUpdate:
			if first {
				first = false
				fmt.Printf("connected, %d entries stored\n", len(ev.Store))
				return
			}
			fmt.Printf("store updated, %d entries\n", len(ev.Store))
		}
	})
}
