// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package acceptor implements the stream transport's accept loop: one
// goroutine owns the listener, spawning an independent session per
// connection, grounded on _examples/GandalftheGUI-grove's
// internal/daemon.Daemon.Run (for { conn, err := l.Accept(); ...; go
// handle(conn) }) and original_source/src/tcp/custom_tcp_listener.rs.
package acceptor

import (
	"context"
	"net"

	"code.hybscloud.com/proxygate/internal/fetch"
	"code.hybscloud.com/proxygate/internal/session"
)

// Acceptor owns a net.Listener exclusively and runs one session per
// accepted connection.
type Acceptor struct {
	listener net.Listener
	fetcher  fetch.Fetcher
}

// New wraps listener for the accept loop.
func New(listener net.Listener, fetcher fetch.Fetcher) *Acceptor {
	return &Acceptor{listener: listener, fetcher: fetcher}
}

// Run accepts connections until ctx is canceled or the listener is closed.
// Each accepted connection runs its own session.Session on an independent
// goroutine; accept errors are fatal to the acceptor but do not affect
// sessions already in flight.
func (a *Acceptor) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.listener.Close()
	}()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go session.New(conn, a.fetcher).Run(ctx)
	}
}
