// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package datagram implements the UDP side of the gateway: a single task
// that owns the socket (Pump) and a bounded worker pool that turns decoded
// requests into responses (Dispatcher).
package datagram

import (
	"errors"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"code.hybscloud.com/iox"
	log "github.com/sirupsen/logrus"

	"code.hybscloud.com/proxygate/internal/wire"
)

// MaxDatagramSize is the largest inbound datagram the pump will accept
// before rejecting it as oversize, one byte past the stream protocol's
// MaxFrameLen so a same-sized payload trips the same boundary on both
// transports.
const MaxDatagramSize = wire.MaxFrameLen + 1

const (
	idleThreshold = 50
	idleSleep     = 25 * time.Millisecond
	pollInterval  = time.Millisecond
)

// oversizeDiagnostic is the fixed reply sent when a datagram exceeds
// MaxDatagramSize-1.
const oversizeDiagnostic = "Invalid message length, max is 10000"

// Inbound is one decoded request the pump has handed to the dispatcher.
type Inbound struct {
	Text string
	Peer *net.UDPAddr
}

// Outbound is one already-encoded frame the dispatcher wants written to the
// wire for Peer.
type Outbound struct {
	Frame []byte
	Peer  *net.UDPAddr
}

// Pump owns a *net.UDPConn exclusively. It is the only goroutine that ever
// calls ReadFromUDP or WriteToUDP on its socket; everything else reaches
// the network through the In/Out channels.
type Pump struct {
	conn *net.UDPConn
	in   chan<- Inbound
	out  <-chan Outbound
}

// NewPump constructs a Pump. in is the channel requests are pushed onto;
// out is the channel responses are drained from. Both are expected to have
// capacity 100, matching the fabric-wide backpressure policy.
func NewPump(conn *net.UDPConn, in chan<- Inbound, out <-chan Outbound) *Pump {
	return &Pump{conn: conn, in: in, out: out}
}

// Run drives the adaptive idle receive/drain loop until stop is closed.
func (p *Pump) Run(stop <-chan struct{}) error {
	buf := make([]byte, MaxDatagramSize)
	idle := 0
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		activity := false

		if p.receiveOnce(buf) {
			activity = true
		}
		if p.drainOnce() {
			activity = true
		}

		if activity {
			idle = 0
			continue
		}
		idle++
		if idle >= idleThreshold {
			time.Sleep(idleSleep)
		}
	}
}

// receiveOnce performs one non-blocking receive attempt. It reports
// whether a datagram was actually processed (valid or oversize); a
// WouldBlock result is not activity.
func (p *Pump) receiveOnce(buf []byte) bool {
	if err := p.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		log.WithError(err).Error("datagram pump: set read deadline")
		return false
	}
	n, peer, err := p.conn.ReadFromUDP(buf)
	if err != nil {
		if isWouldBlock(err) {
			return false
		}
		log.WithError(err).Warn("datagram pump: receive error")
		return false
	}

	if n > wire.MaxFrameLen {
		p.sendDiagnostic(peer, oversizeDiagnostic)
		return true
	}

	text := stringFromLossyUTF8(buf[:n])
	select {
	case p.in <- Inbound{Text: text, Peer: peer}:
	default:
		log.Warn("datagram pump: inbound channel full, notifying peer")
		p.sendDiagnostic(peer, "Couldn't accept the request, try again")
	}
	return true
}

// drainOnce drains at most one response from out and writes it to the
// socket. Short writes on a datagram socket can't be resumed, so they are
// treated as fatal-to-this-send and logged.
func (p *Pump) drainOnce() bool {
	select {
	case resp := <-p.out:
		n, err := p.conn.WriteToUDP(resp.Frame, resp.Peer)
		if err != nil {
			log.WithError(err).Warn("datagram pump: send error")
			return true
		}
		if n != len(resp.Frame) {
			log.WithField("sent", n).WithField("want", len(resp.Frame)).
				Warn("datagram pump: short write, frame not fully sent")
		}
		return true
	default:
		return false
	}
}

func (p *Pump) sendDiagnostic(peer *net.UDPAddr, text string) {
	frame := wire.EncodeBatch(0, 1, []byte(text))
	if _, err := p.conn.WriteToUDP(frame, peer); err != nil {
		log.WithError(err).Warn("datagram pump: failed sending diagnostic")
	}
}

// isWouldBlock reports whether err represents the "nothing to read yet"
// condition rather than a real socket error, surfaced through
// iox.ErrWouldBlock the same way other non-blocking transports in this
// module do, so a deadline-based net.UDPConn fits the same control-flow
// convention.
func isWouldBlock(err error) bool {
	if errors.Is(err, iox.ErrWouldBlock) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// stringFromLossyUTF8 decodes b the way Rust's String::from_utf8_lossy
// does: invalid byte sequences become U+FFFD rather than causing an error.
// Inbound datagrams are request text, never framed payload, so there is no
// length prefix to recover from a rejected decode.
func stringFromLossyUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}
