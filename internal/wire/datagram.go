// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// DatagramHeaderLen is the fixed header size of an outbound datagram batch:
// 4 bytes batch index, 4 bytes total batch count.
const DatagramHeaderLen = 8

// EncodeBatch builds one on-the-wire datagram frame: the (batchIndex,
// totalBatches) header followed by body. This is used only for outbound
// response batches and for the byte-identical copy kept in the retransmit
// cache — inbound requests are plain UTF-8 text and never go through this
// encoding (see ParseRepeatBatch / ParseGetRequest).
func EncodeBatch(batchIndex, totalBatches uint32, body []byte) []byte {
	frame := make([]byte, DatagramHeaderLen+len(body))
	binary.BigEndian.PutUint32(frame[0:4], batchIndex)
	binary.BigEndian.PutUint32(frame[4:8], totalBatches)
	copy(frame[DatagramHeaderLen:], body)
	return frame
}

// DecodeBatch parses a datagram frame produced by EncodeBatch.
func DecodeBatch(frame []byte) (batchIndex, totalBatches uint32, body []byte, err error) {
	if len(frame) < DatagramHeaderLen {
		return 0, 0, nil, ErrTruncatedDatagram
	}
	batchIndex = binary.BigEndian.Uint32(frame[0:4])
	totalBatches = binary.BigEndian.Uint32(frame[4:8])
	body = frame[DatagramHeaderLen:]
	return batchIndex, totalBatches, body, nil
}

const (
	repeatBatchPrefix = "REPEAT_BATCH:"
	getPrefix         = "GET:"
	ConnectMessage    = "Connect"
	AcceptResponse    = "Accept"
	ByeMessage        = "BYE"
	ByeResponse       = "BYE"
)

// IsRepeatBatchRequest reports whether text carries the REPEAT_BATCH:
// prefix at all, regardless of whether the suffix parses as a valid id.
// Callers use this to tell "not a retransmit request" (fall through to
// GET parsing) apart from "a malformed retransmit request" (log and drop,
// no reply).
func IsRepeatBatchRequest(text string) bool {
	return strings.HasPrefix(text, repeatBatchPrefix)
}

// ParseRepeatBatch reports whether text is a REPEAT_BATCH:<id> retransmit
// request and, if so, the parsed batch id. A request that starts with the
// literal prefix but whose suffix is not a bare decimal u32 is a malformed
// retransmit request and yields ok=false — the caller logs and drops it, matching the
// "Invalid message was sent" behavior of
// original_source/src/udp/udp_server_tasks_handler.rs.
func ParseRepeatBatch(text string) (id uint32, ok bool) {
	rest, hasPrefix := strings.CutPrefix(text, repeatBatchPrefix)
	if !hasPrefix || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// ParseGetRequest reports whether text is a GET:<url> fetch request and, if
// so, the requested URL. Shared by the stream session and the datagram
// dispatcher so both transports accept exactly the same request shape.
func ParseGetRequest(text string) (url string, ok bool) {
	rest, hasPrefix := strings.CutPrefix(text, getPrefix)
	if !hasPrefix || rest == "" {
		return "", false
	}
	return rest, true
}
