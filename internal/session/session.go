// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session drives one stream connection through its three-phase
// state machine: greet, exchange, farewell.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	log "github.com/sirupsen/logrus"

	"code.hybscloud.com/proxygate/internal/fetch"
	"code.hybscloud.com/proxygate/internal/metrics"
	"code.hybscloud.com/proxygate/internal/wire"
)

// These error strings are sent verbatim as the diagnostic reason inside
// the "Error occurred: <reason>" frame, so their wording is part of the
// wire contract, not just a log message.
var (
	// ErrUnexpectedGreeting is returned when the first frame is not the
	// literal connect message.
	ErrUnexpectedGreeting = errors.New("Expected connect message")
	// ErrUnexpectedFarewell is returned when the third frame is not the
	// literal bye message.
	ErrUnexpectedFarewell = errors.New("Expected bye message")
)

// Session drives a single net.Conn through the stream protocol's
// greet/exchange/farewell state machine, grounded on
// original_source/src/tcp_server.rs's process_communication.
type Session struct {
	conn    net.Conn
	framer  *wire.StreamFramer
	fetcher fetch.Fetcher
}

// New wraps conn for a single stream session.
func New(conn net.Conn, fetcher fetch.Fetcher) *Session {
	return &Session{
		conn:    conn,
		framer:  wire.NewStreamFramer(conn, conn),
		fetcher: fetcher,
	}
}

// Run executes the three-phase exchange and always closes conn before
// returning. Failures mid-session are reported to the peer as a single
// "Error occurred: <reason>" diagnostic frame before closing; a failure
// that happens before the greeting even succeeds is still reported the
// same way.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	metrics.ActiveStreamSessions.Inc()
	defer metrics.ActiveStreamSessions.Dec()

	if err := s.converse(ctx); err != nil {
		metrics.RequestsTotal.WithLabelValues("stream", "error").Inc()
		s.reportFailure(err)
		return
	}
	metrics.RequestsTotal.WithLabelValues("stream", "ok").Inc()
}

func (s *Session) converse(ctx context.Context) error {
	if err := s.greet(); err != nil {
		return err
	}
	if err := s.exchange(ctx); err != nil {
		return err
	}
	return s.farewell()
}

func (s *Session) greet() error {
	frame, err := s.framer.ReadFrame()
	if err != nil {
		return err
	}
	if string(frame) != wire.ConnectMessage {
		return ErrUnexpectedGreeting
	}
	return s.framer.WriteFrame([]byte(wire.AcceptResponse))
}

// exchange reads the GET:<url> request and replies with either the fetched
// body, a rendered non-200 error page (both treated as a successful
// exchange — the session still proceeds to farewell), or aborts the whole
// session on a transport-level fetch failure.
func (s *Session) exchange(ctx context.Context) error {
	frame, err := s.framer.ReadFrame()
	if err != nil {
		return err
	}
	url, ok := wire.ParseGetRequest(string(frame))
	if !ok {
		return wire.ErrMalformedRequest
	}

	status, body, err := s.fetcher.Get(ctx, url)
	if err != nil {
		return errors.New(fetch.DiagnosticForError(err))
	}
	if status != 200 {
		return s.framer.WriteFrame(fetch.RenderErrorPage(status, url))
	}
	return s.framer.WriteFrame(body)
}

func (s *Session) farewell() error {
	frame, err := s.framer.ReadFrame()
	if err != nil {
		return err
	}
	if string(frame) != wire.ByeMessage {
		return ErrUnexpectedFarewell
	}
	return s.framer.WriteFrame([]byte(wire.ByeResponse))
}

// reportFailure attempts the single diagnostic frame a failed session owes
// its peer. If that write also fails, both errors are logged at Warn, unless
// the write failed because the pipe was already closed, in which case only
// the cause is logged at Debug. The connection is closed by the caller's
// defer.
func (s *Session) reportFailure(cause error) {
	diagnostic := fmt.Sprintf("Error occurred: %s\n", cause)
	if writeErr := s.framer.WriteFrame([]byte(diagnostic)); writeErr != nil {
		if !errors.Is(writeErr, io.ErrClosedPipe) {
			log.WithError(cause).WithField("report_error", writeErr).
				Warn("stream session: failed reporting exception to peer")
			return
		}
	}
	log.WithError(cause).Debug("stream session failed")
}
