package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/soheilhy/cmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"go.klb.dev/clipstash/internal/blobstore"
	"go.klb.dev/clipstash/internal/crypto"
	"go.klb.dev/clipstash/internal/grpcservice"
	"go.klb.dev/clipstash/internal/httpapi"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/ipc"
	"go.klb.dev/clipstash/internal/service"
	"go.klb.dev/clipstash/internal/store"
	"go.klb.dev/clipstash/internal/tlsconf"
	"go.klb.dev/clipstash/internal/wire"
)

const shutdownGrace = 5 * time.Second

func newServerCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the entry store and its HTTP, websocket and gRPC API",
		Long: `Starts the clipstash server. Entries are kept in a SQLite database and
non-text payloads in a blob directory; with a token, blobs are encrypted at
rest with a key derived from it.

HTTP/1.1 (REST API, /data downloads, /ws feed) and gRPC (Watch, Status,
health) share one TCP port. The port speaks TLS with a certificate derived
from the token unless --plain is given. A second, unauthenticated listener
is opened on the local IPC socket for CLI tools on this host.

Config file search order:
  /etc/clipstash/clipstash.toml
  $HOME/.config/clipstash/clipstash.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPSTASH_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServer(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("addr", "0.0.0.0:8752", "TCP listen address")
	f.String("token", "", "shared secret (empty = no auth, blobs stored unencrypted)")
	f.String("data-dir", defaultDataDir(), "directory for the database and blobs")
	f.Bool("plain", false, "serve plain HTTP and h2c instead of TLS on the TCP port")
	f.Bool("no-ipc", false, "do not listen on the local IPC socket")
	f.Int64("max-body", httpapi.DefaultMaxBody, "largest accepted capture request, in bytes")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func defaultDataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "clipstash")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "clipstash")
	}
	return "clipstash-data"
}

func runServer(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)

	addr := v.GetString("addr")
	token := v.GetString("token")
	dataDir := v.GetString("data-dir")
	plain := v.GetBool("plain")

	slog.Info("clipstash server starting",
		"version", Version,
		"addr", addr,
		"data_dir", dataDir,
		"tls", !plain,
		"auth", token != "",
	)

	st, err := store.Open(filepath.Join(dataDir, "clipstash.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	blobOpts := []blobstore.Option{blobstore.WithLogger(slog.Default())}
	if token != "" {
		key, err := crypto.DeriveKey(token)
		if err != nil {
			return fmt.Errorf("key derivation: %w", err)
		}
		blobOpts = append(blobOpts, blobstore.WithKey(key))
	}
	blobs, err := blobstore.Open(filepath.Join(dataDir, "blobs"), blobOpts...)
	if err != nil {
		return err
	}
	defer blobs.Close()

	h := hub.New(hub.WithSnapshot(st.List), hub.WithLogger(slog.Default()))
	svc := service.New(st, blobs, h, service.WithLogger(slog.Default()))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if !plain {
		cfg, err := tlsconf.ServerConfig(tlsconf.Passphrase(token))
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tls.NewListener(ln, cfg)
	}
	slog.Info("listening", "addr", ln.Addr())

	g, ctx := errgroup.WithContext(ctx)
	surfaces := []*surface{newSurface(svc, h, st, token, v.GetInt64("max-body"))}
	g.Go(func() error { return surfaces[0].serve(ln) })

	if !v.GetBool("no-ipc") {
		ipcLn, err := ipc.Listen()
		if err != nil {
			slog.Warn("IPC socket unavailable", "err", err)
		} else {
			slog.Info("IPC socket listening", "path", ipc.SocketPath())
			local := newSurface(svc, h, st, "", v.GetInt64("max-body"))
			surfaces = append(surfaces, local)
			g.Go(func() error { return local.serve(ipcLn) })
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		for _, s := range surfaces {
			s.shutdown()
		}
		return nil
	})
	return g.Wait()
}

// surface is one HTTP/1.1 + gRPC endpoint set. The TCP listener and the
// IPC socket each get their own, since only the former checks the token.
type surface struct {
	grpc   *grpc.Server
	health *health.Server
	http   *http.Server
}

func newSurface(svc *service.Service, h *hub.Hub, st *store.Store, token string, maxBody int64) *surface {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(wire.MaxMessageSize),
		grpc.MaxSendMsgSize(wire.MaxMessageSize),
		// Clients ping every 30s; the default 5m minimum would reset them.
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             15 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	grpcservice.New(h, st, token).Register(gs)

	hs := health.NewServer()
	hs.SetServingStatus(grpcservice.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	api := httpapi.New(svc, h,
		httpapi.WithToken(token),
		httpapi.WithMaxBody(maxBody),
		httpapi.WithLogger(slog.Default()),
	)
	return &surface{
		grpc:   gs,
		health: hs,
		http: &http.Server{
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// serve splits ln by protocol: HTTP/2 requests with a gRPC content type go
// to the gRPC server, everything else to the HTTP server.
func (s *surface) serve(ln net.Listener) error {
	m := cmux.New(ln)
	grpcLn := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpLn := m.Match(cmux.Any())

	var g errgroup.Group
	g.Go(func() error { return ignoreClosed(s.grpc.Serve(grpcLn)) })
	g.Go(func() error { return ignoreClosed(s.http.Serve(httpLn)) })
	g.Go(func() error { return ignoreClosed(m.Serve()) })
	return g.Wait()
}

// shutdown drains HTTP requests and gRPC calls. Watch streams never end on
// their own, so gRPC is stopped hard once the grace period is over.
func (s *surface) shutdown() {
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

func ignoreClosed(err error) error {
	switch {
	case err == nil,
		errors.Is(err, net.ErrClosed),
		errors.Is(err, http.ErrServerClosed),
		errors.Is(err, grpc.ErrServerStopped),
		errors.Is(err, cmux.ErrListenerClosed),
		errors.Is(err, cmux.ErrServerClosed):
		return nil
	}
	return err
}
