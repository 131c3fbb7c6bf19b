package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/client"
	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/restore"
)

func newRestoreCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "restore <id|latest>",
		Short: "Put a stored entry on the system clipboard",
		Long: `Fetches an entry and writes it to the local clipboard.

The rich clipboard writer is tried first with every copyable representation;
if the backend cannot hold them, a plain copy of the entry's HTML or text is
made instead (wl-copy or xclip for HTML).`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, args []string) error { return runRestore(cmd.Context(), v, args[0]) },
	}
	addClientFlags(cmd)
	return cmd
}

func runRestore(ctx context.Context, v *viper.Viper, arg string) error {
	c, err := newClient(v)
	if err != nil {
		return err
	}
	e, err := lookupEntry(ctx, c, arg)
	if err != nil {
		return err
	}

	r := restore.Default(c, clip.NewWriter(clip.New()), restore.NewCommandCopier(), restore.WithLogger(slog.Default()))
	if err := r.Restore(ctx, e); err != nil {
		return err
	}
	fmt.Printf("restored entry %d\n", e.ID)
	return nil
}

// lookupEntry fetches the entry named by arg, an id or "latest".
func lookupEntry(ctx context.Context, c *client.Client, arg string) (item.Entry, error) {
	var (
		e     item.Entry
		found bool
		err   error
	)
	if arg == "latest" {
		e, found, err = c.Latest(ctx)
	} else {
		ids, perr := parseIDs([]string{arg})
		if perr != nil {
			return item.Entry{}, perr
		}
		e, found, err = c.Entry(ctx, ids[0])
	}
	if err != nil {
		return item.Entry{}, err
	}
	if !found {
		return item.Entry{}, fmt.Errorf("entry %s: %w", arg, client.ErrNotFound)
	}
	return e, nil
}
