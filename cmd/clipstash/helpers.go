package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/client"
	"go.klb.dev/clipstash/internal/ipc"
	"go.klb.dev/clipstash/internal/subscribe"
)

// defaultServer is used when --server is unset and no local server answers
// on the IPC socket.
const defaultServer = "localhost:8752"

// addClientFlags adds the connection flags shared by every client command.
func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("server", "", `server address: "ipc", http(s)://host:port or host:port (default: IPC socket if a local server is running, else `+defaultServer+`)`)
	f.String("token", "", "shared secret")
	f.String("source", defaultSource(), "name for this host in entries and peer lists")
	addConfigFlag(cmd)
}

func isContainerID(s string) bool {
	if len(s) < 12 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// defaultSource returns a human-readable identifier for this host.
func defaultSource() string {
	for _, env := range []string{
		"CLIPSTASH_SOURCE",
		"CONTAINER_NAME",
		"COMPOSE_SERVICE",
		"SERVICE_NAME",
		"HOSTNAME_FRIENDLY",
	} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	if isContainerID(h) {
		return "container-" + h[:8]
	}
	return h
}

// serverAddr returns --server, or the IPC socket when it was left unset and
// a local server is listening there.
func serverAddr(v *viper.Viper) string {
	if s := v.GetString("server"); s != "" {
		return s
	}
	if ipc.IsRunning() {
		return client.IPC
	}
	return defaultServer
}

// newClient builds an API client from the shared connection flags.
func newClient(v *viper.Viper) (*client.Client, error) {
	return client.New(client.Config{
		Server: serverAddr(v),
		Token:  v.GetString("token"),
		Source: v.GetString("source"),
		Logger: slog.Default(),
	})
}

// subscribeConfig returns the real-time stream settings from the shared
// connection flags.
func subscribeConfig(v *viper.Viper) subscribe.Config {
	return subscribe.Config{
		Server: serverAddr(v),
		Token:  v.GetString("token"),
		Source: v.GetString("source"),
	}
}

// parseIDs parses entry ids given on the command line.
func parseIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid entry id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
