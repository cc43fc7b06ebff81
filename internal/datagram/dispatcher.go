// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package datagram

import (
	"context"
	"fmt"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/proxygate/internal/cache"
	"code.hybscloud.com/proxygate/internal/fetch"
	"code.hybscloud.com/proxygate/internal/metrics"
	"code.hybscloud.com/proxygate/internal/wire"
)

// Dispatcher consumes Inbound requests and produces Outbound responses,
// running one worker per request under a bounded concurrency group rather
// than spawning unboundedly — grounded on _examples/docker-compose's
// pkg/compose/pull.go, which bounds its own per-service fan-out the same
// way with golang.org/x/sync/errgroup.Group.SetLimit.
type Dispatcher struct {
	in            <-chan Inbound
	out           chan<- Outbound
	cache         *cache.RetransmitCache
	fetcher       fetch.Fetcher
	poolSize      int
	batchBodySize int
}

// NewDispatcher constructs a Dispatcher. poolSize <= 0 means unbounded.
// batchBodySize is BUFFER_SIZE-8, the body size used by the batch splitter.
func NewDispatcher(in <-chan Inbound, out chan<- Outbound, c *cache.RetransmitCache, fetcher fetch.Fetcher, poolSize, batchBodySize int) *Dispatcher {
	return &Dispatcher{in: in, out: out, cache: c, fetcher: fetcher, poolSize: poolSize, batchBodySize: batchBodySize}
}

// Run consumes from in until ctx is canceled, spawning one worker per
// request under the bounded group.
func (d *Dispatcher) Run(ctx context.Context) error {
	var eg errgroup.Group
	if d.poolSize > 0 {
		eg.SetLimit(d.poolSize)
	}
	for {
		select {
		case <-ctx.Done():
			eg.Wait()
			return nil
		case req, ok := <-d.in:
			if !ok {
				eg.Wait()
				return nil
			}
			eg.Go(func() error {
				d.handle(ctx, req)
				return nil
			})
		}
	}
}

// The message the client must not see verbatim wrapped a second time:
// transport-level datagram failures are prefixed per
// original_source/src/udp_server_tasks_handler.rs's
// process_with_failures_logging_on_server, distinct from the stream
// transport's "Error occurred: " prefix.
const failurePrefix = "Failed processing your request: "

func (d *Dispatcher) handle(ctx context.Context, req Inbound) {
	raw := req.Text
	text := strings.TrimSpace(raw)

	switch {
	case raw == wire.ConnectMessage:
		d.enqueue(ctx, []byte(wire.AcceptResponse), req.Peer)

	case raw == wire.ByeMessage:
		d.enqueue(ctx, []byte(wire.ByeResponse), req.Peer)

	case wire.IsRepeatBatchRequest(raw):
		if id, ok := wire.ParseRepeatBatch(raw); ok {
			d.handleRepeat(ctx, id, req.Peer)
			return
		}
		log.WithField("text", raw).WithField("peer", req.Peer.String()).
			Debug("datagram dispatcher: invalid message, couldn't process")

	default:
		d.handleGet(ctx, text, req.Peer)
	}
}

// handleRepeat implements REPEAT_BATCH:<id>: a cache hit re-emits the
// byte-identical stored frame; a miss gets a plain-text diagnostic batch.
func (d *Dispatcher) handleRepeat(ctx context.Context, id uint32, peer *net.UDPAddr) {
	frame, ok := d.cache.Get(ctx, peer.String(), id)
	if !ok {
		diagnostic := fmt.Sprintf("Couldn't get the requested batch with ID %d", id)
		d.enqueue(ctx, wire.EncodeBatch(0, 1, []byte(diagnostic)), peer)
		return
	}
	d.enqueue(ctx, frame, peer)
}

// handleGet implements GET:<url>: fetch, split the payload into batches,
// cache each encoded frame, then enqueue it. A malformed envelope or a
// transport-level fetch failure is reported through the same batched path,
// wrapped with failurePrefix, rather than as a bare single-batch diagnostic.
func (d *Dispatcher) handleGet(ctx context.Context, text string, peer *net.UDPAddr) {
	url, ok := wire.ParseGetRequest(text)
	if !ok {
		d.sendBatched(ctx, []byte(failurePrefix+wire.ErrMalformedRequest.Error()), peer)
		return
	}

	status, body, err := d.fetcher.Get(ctx, url)
	var payload []byte
	switch {
	case err != nil:
		metrics.RequestsTotal.WithLabelValues("datagram", "error").Inc()
		payload = []byte(failurePrefix + fetch.DiagnosticForError(err))
	case status != 200:
		metrics.RequestsTotal.WithLabelValues("datagram", "ok").Inc()
		payload = fetch.RenderErrorPage(status, url)
	default:
		metrics.RequestsTotal.WithLabelValues("datagram", "ok").Inc()
		payload = body
	}
	d.sendBatched(ctx, payload, peer)
}

// sendBatched splits payload via wire.SplitBatches, puts each encoded frame
// into the cache, then enqueues it. Enqueueing blocks when the outbound
// channel is full — the fabric's only backpressure mechanism — so a worker
// naturally suspends here rather than dropping a batch.
func (d *Dispatcher) sendBatched(ctx context.Context, payload []byte, peer *net.UDPAddr) {
	batches, err := wire.SplitBatches(payload, d.batchBodySize)
	if err != nil {
		d.enqueue(ctx, wire.EncodeBatch(0, 1, []byte(err.Error())), peer)
		return
	}
	total := uint32(len(batches))
	if total == 0 {
		// An empty payload still needs a response so the client's reassembly
		// does not hang waiting for batch 0.
		frame := wire.EncodeBatch(0, 1, nil)
		d.cache.Put(ctx, peer.String(), 0, frame)
		d.enqueue(ctx, frame, peer)
		return
	}
	for i, body := range batches {
		frame := wire.EncodeBatch(uint32(i), total, body)
		d.cache.Put(ctx, peer.String(), uint32(i), frame)
		d.enqueue(ctx, frame, peer)
	}
}

// enqueue suspends the caller until either the frame is accepted onto the
// outbound channel or ctx is canceled (shutdown).
func (d *Dispatcher) enqueue(ctx context.Context, frame []byte, peer *net.UDPAddr) {
	select {
	case d.out <- Outbound{Frame: frame, Peer: peer}:
		metrics.BatchesSentTotal.Inc()
	case <-ctx.Done():
		log.WithField("peer", peer.String()).
			Debug("datagram dispatcher: shutdown while enqueueing, dropping batch")
	}
}
