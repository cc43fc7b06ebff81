// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the two on-the-wire framings shared by the proxy
// gateway's stream and datagram transports: a length-prefixed stream frame
// and a batch-sequenced datagram frame, plus the splitter that turns a
// response payload into an ordered run of datagram batches.
package wire

import "errors"

var (
	// ErrOversizeFrame reports a stream frame whose announced length exceeds
	// MaxFrameLen.
	ErrOversizeFrame = errors.New("wire: frame exceeds maximum length")

	// ErrShortRead reports a stream read that returned zero bytes before a
	// frame was fully received.
	ErrShortRead = errors.New("wire: short read on stream")

	// ErrOversizeBody reports a write whose body is too large to frame.
	ErrOversizeBody = errors.New("wire: body exceeds maximum frame size")

	// ErrTruncatedDatagram reports a datagram shorter than the fixed header.
	ErrTruncatedDatagram = errors.New("wire: datagram shorter than header")

	// ErrTooManyBatches reports a payload that would split into more than
	// math.MaxUint32 batches.
	ErrTooManyBatches = errors.New("wire: payload requires too many batches")

	// ErrMalformedRequest is the shared request-envelope parse failure, sent
	// verbatim to the peer by both transports when a request is neither a
	// control message nor a well-formed GET:<url>.
	ErrMalformedRequest = errors.New("Invalid message structure! Use GET:URL format.")
)
