package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/collect"
	"go.klb.dev/clipstash/internal/item"
)

func newSendCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "send [file...]",
		Short: "Store files, stdin or the clipboard as a new entry",
		Long: `Captures content and stores it as one history entry.

Files named on the command line are sent as-is (a dropped-files capture).
Without arguments, stdin is read; text is sent inline, anything else with
--type is sent as a file. With --clipboard the current system clipboard is
captured instead.`,
		Example: `  clipstash send report.pdf screenshot.png -d "for review"
  echo hello | clipstash send
  clipstash send --clipboard`,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, args []string) error { return runSend(cmd.Context(), v, args) },
	}

	f := cmd.Flags()
	f.StringP("description", "d", "", "description stored with the entry")
	f.Bool("clipboard", false, "capture the system clipboard")
	f.String("type", item.TypeText, "MIME type of stdin data")
	addClientFlags(cmd)

	return cmd
}

func runSend(ctx context.Context, v *viper.Viper, args []string) error {
	c, err := newClient(v)
	if err != nil {
		return err
	}

	var items []item.Item
	switch {
	case v.GetBool("clipboard"):
		if len(args) > 0 {
			return errors.New("--clipboard takes no file arguments")
		}
		items = clip.Read(ctx, collect.New(), clip.New())
	case len(args) > 0:
		files := make([]*collect.File, 0, len(args))
		for _, a := range args {
			f, err := collect.FileFromPath(a)
			if err != nil {
				return err
			}
			files = append(files, f)
		}
		items = collect.New(collect.WithKeepFiles()).FromDrag(ctx, collect.NewDrop(files))
	default:
		if isatty.IsTerminal(os.Stdin.Fd()) {
			return errors.New("nothing to send: pass files, pipe data on stdin or use --clipboard")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if len(data) == 0 {
			return nil
		}
		drop := collect.NewDrop(nil, string(data))
		if typ := v.GetString("type"); typ != item.TypeText {
			drop = collect.NewDrop([]*collect.File{collect.BytesFile("stdin", typ, data)})
		}
		items = collect.New(collect.WithKeepFiles()).FromDrag(ctx, drop)
	}

	out, err := c.Send(ctx, items, v.GetString("description"))
	if err != nil {
		return err
	}
	fmt.Printf("stored entry %d\n", out.ID)
	return nil
}
