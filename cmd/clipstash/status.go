package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/message"
	"go.klb.dev/clipstash/internal/subscribe"
)

const statusTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server health and connected subscribers",
		Long: `Queries the server over gRPC: its health, the number of stored entries and
every agent, watcher or websocket client currently subscribed to the feed.

If a local server is running, the request is sent via the IPC socket. Pass
--server to target a specific server directly.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd.Context(), v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addClientFlags(cmd)

	return cmd
}

func runStatus(ctx context.Context, v *viper.Viper) error {
	cfg := subscribeConfig(v)
	cc, err := subscribe.Dial(cfg)
	if err != nil {
		return err
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	health, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcservice.ServiceName})
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	resp, err := grpcservice.NewClient(cc).Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if v.GetBool("json") {
		return printStatusJSON(resp, health.GetStatus().String())
	}
	printStatus(resp, health.GetStatus().String(), cfg.Server, cfg.Source)
	return nil
}

// printStatusJSON writes resp as indented JSON via protojson, so the output
// matches what other gRPC tooling prints for the same server.
func printStatusJSON(resp *message.StatusResponse, health string) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	fields["health"] = health
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("status json: %w", err)
	}
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printStatus(resp *message.StatusResponse, health, server, mySource string) {
	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Server:\t%s\n", server)
	fmt.Fprintf(w, "Health:\t%s\n", health)
	fmt.Fprintf(w, "Entries:\t%d\n", resp.Entries)
	fmt.Fprintln(w)
	_ = w.Flush()

	if len(resp.Peers) == 0 {
		fmt.Println("No subscribers connected.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tSOURCE\tADDR\tTRANSPORT\tCONNECTED\tLAST SEEN\n")
	_, _ = fmt.Fprintf(tw, "\t------\t----\t---------\t---------\t---------\n")
	for _, p := range resp.Peers {
		marker := ""
		if p.Source == mySource {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			marker, orDash(p.Source), p.Addr, p.Transport, age(p.ConnectedAt), age(p.LastSeen),
		)
	}
	_ = tw.Flush()
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
