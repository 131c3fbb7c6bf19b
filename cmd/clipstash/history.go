package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/client"
	"go.klb.dev/clipstash/internal/item"
	"go.klb.dev/clipstash/internal/render"
)

func newHistoryCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"ls"},
		Short:   "List stored entries",
		Long: `Lists stored entries, oldest first. Each entry is rendered with its text,
stripped HTML, image dimensions and download links; --short prints one
line per entry instead.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runHistory(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.Bool("short", false, "one line per entry")
	f.IntP("limit", "n", 0, "show only the newest n entries (0 = all)")
	addClientFlags(cmd)

	return cmd
}

func runHistory(ctx context.Context, v *viper.Viper) error {
	c, err := newClient(v)
	if err != nil {
		return err
	}
	entries, err := c.History(ctx)
	if err != nil {
		return err
	}
	if n := v.GetInt("limit"); n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	if len(entries) == 0 {
		fmt.Println("No entries stored.")
		return nil
	}

	if v.GetBool("short") {
		return printSummary(os.Stdout, entries)
	}
	return render.Print(os.Stdout, newRenderer(c).RenderAll(ctx, entries)...)
}

func newRenderer(c *client.Client) *render.Renderer {
	return render.New(c, render.WithDataURL(c.DataURL), render.WithLogger(slog.Default()))
}

func printSummary(w io.Writer, entries []item.Entry) error {
	tw := tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\tCAPTURED\tSOURCE\tTYPES\tDESCRIPTION\n")
	_, _ = fmt.Fprintf(tw, "--\t--------\t------\t-----\t-----------\n")
	for _, e := range entries {
		desc := "-"
		if d, _, ok := e.Description(); ok {
			if s, inline := d.Data(); inline {
				desc = oneLine(s, 40)
			} else {
				desc = "(stored)"
			}
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, humanize.Time(e.Time()), orDash(e.Meta.Source), strings.Join(e.Types(), ","), desc)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// oneLine collapses whitespace in s and cuts it to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
