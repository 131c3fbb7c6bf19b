// Package ipc locates and serves the local IPC socket.
//
// A clipstash server on this host also serves its HTTP API on a Unix domain
// socket (a named pipe on Windows). CLI sub-commands probe for it and use it
// instead of the network address, so no token or TLS is needed locally: the
// socket is owner-restricted by the OS.
package ipc

import (
	"context"
	"net"
	"os"
	"time"
)

// SocketPath returns the IPC socket path, honouring $CLIPSTASH_SOCKET.
func SocketPath() string {
	if s := os.Getenv("CLIPSTASH_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether something is listening on the IPC socket. It
// does a dial-and-close; no data is exchanged.
func IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := Dial(ctx)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates a listener on the IPC socket, removing a stale socket left
// by a crashed run first.
func Listen() (net.Listener, error) {
	return listenIPC(SocketPath())
}

// Dial connects to the IPC socket.
func Dial(ctx context.Context) (net.Conn, error) {
	return dialIPC(ctx, SocketPath())
}
