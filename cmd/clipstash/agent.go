package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/agent"
	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/restore"
	"go.klb.dev/clipstash/internal/subscribe"
)

func newAgentCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Capture clipboard changes and dropped files continuously",
		Long: `Runs in the background on a desktop. Every clipboard change is stored as a
new entry; a capture that starts while another is still being sent is
dropped. Files written to --drop-dir are stored once they stop changing.

With --follow the agent also subscribes to the server's feed and restores
entries captured on other machines to the local clipboard.

Config file search order:
  /etc/clipstash/clipstash.toml
  $HOME/.config/clipstash/clipstash.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPSTASH_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runAgent(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("drop-dir", "", "directory watched for files to capture (empty = disabled)")
	f.Bool("remove-dropped", false, "delete dropped files once stored")
	f.Duration("settle", agent.DefaultSettle, "how long a dropped file must stay unchanged")
	f.Bool("follow", false, "restore entries captured on other machines")
	addClientFlags(cmd)
	addLoggingFlags(cmd)

	return cmd
}

func runAgent(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)

	c, err := newClient(v)
	if err != nil {
		return err
	}
	backend := clip.New()
	source := v.GetString("source")

	cfg := agent.Config{
		Backend:       backend,
		Sender:        c,
		Source:        source,
		DropDir:       v.GetString("drop-dir"),
		RemoveDropped: v.GetBool("remove-dropped"),
		Settle:        v.GetDuration("settle"),
		Logger:        slog.Default(),
	}

	if v.GetBool("follow") {
		cc, err := subscribe.Dial(subscribeConfig(v))
		if err != nil {
			return err
		}
		defer cc.Close()
		cfg.Feed = subscribe.New(cc, source, subscribe.WithLogger(slog.Default()))
		cfg.Restorer = restore.Default(c, clip.NewWriter(backend), restore.NewCommandCopier(), restore.WithLogger(slog.Default()))
	}

	slog.Info("clipstash agent starting", "version", Version, "server", c.Base())

	a, err := agent.New(cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
