// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package datagram_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/proxygate/internal/cache"
	"code.hybscloud.com/proxygate/internal/datagram"
	"code.hybscloud.com/proxygate/internal/wire"
)

type stubFetcher struct {
	status int
	body   []byte
	err    error
}

func (f *stubFetcher) Get(ctx context.Context, url string) (int, []byte, error) {
	return f.status, f.body, f.err
}

func peer(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func startDispatcher(t *testing.T, fetcher *stubFetcher, batchBodySize int) (chan datagram.Inbound, chan datagram.Outbound, *cache.RetransmitCache) {
	t.Helper()
	in := make(chan datagram.Inbound, 100)
	out := make(chan datagram.Outbound, 100)
	c := cache.New(cache.DefaultTTL)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cacheDone := make(chan struct{})
	go func() { defer close(cacheDone); _ = c.Run(ctx) }()
	t.Cleanup(func() { <-cacheDone })

	d := datagram.NewDispatcher(in, out, c, fetcher, 4, batchBodySize)
	dispatcherDone := make(chan struct{})
	go func() { defer close(dispatcherDone); _ = d.Run(ctx) }()
	t.Cleanup(func() { cancel(); <-dispatcherDone })

	return in, out, c
}

func recvOutbound(t *testing.T, out chan datagram.Outbound) datagram.Outbound {
	t.Helper()
	select {
	case o := <-out:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return datagram.Outbound{}
	}
}

func TestDispatcher_Connect(t *testing.T) {
	in, out, _ := startDispatcher(t, &stubFetcher{}, 492)
	in <- datagram.Inbound{Text: wire.ConnectMessage, Peer: peer(1)}
	got := recvOutbound(t, out)
	require.Equal(t, []byte(wire.AcceptResponse), got.Frame)
}

func TestDispatcher_Bye(t *testing.T) {
	in, out, _ := startDispatcher(t, &stubFetcher{}, 492)
	in <- datagram.Inbound{Text: wire.ByeMessage, Peer: peer(1)}
	got := recvOutbound(t, out)
	require.Equal(t, []byte(wire.ByeResponse), got.Frame)
}

func TestDispatcher_GetHappyPath_SplitsAndCaches(t *testing.T) {
	payload := strings.Repeat("Z", 1000)
	in, out, c := startDispatcher(t, &stubFetcher{status: 200, body: []byte(payload)}, 492)
	p := peer(2)
	in <- datagram.Inbound{Text: "GET:http://x/big", Peer: p}

	wantSizes := []int{492, 492, 16}
	var reassembled []byte
	for i, wantSize := range wantSizes {
		got := recvOutbound(t, out)
		idx, total, body, err := wire.DecodeBatch(got.Frame)
		require.NoError(t, err)
		require.Equal(t, uint32(i), idx)
		require.Equal(t, uint32(3), total)
		require.Len(t, body, wantSize)
		reassembled = append(reassembled, body...)
	}
	require.Equal(t, payload, string(reassembled))

	cached, ok := c.Get(context.Background(), p.String(), 1)
	require.True(t, ok)
	_, _, cachedBody, err := wire.DecodeBatch(cached)
	require.NoError(t, err)
	require.Len(t, cachedBody, 492)
}

func TestDispatcher_GetNonOK_RendersErrorPage(t *testing.T) {
	in, out, _ := startDispatcher(t, &stubFetcher{status: 404}, 492)
	in <- datagram.Inbound{Text: "GET:http://x/missing", Peer: peer(3)}
	got := recvOutbound(t, out)
	_, _, body, err := wire.DecodeBatch(got.Frame)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "Error 404"))
}

func TestDispatcher_GetFetchError_WrapsDiagnostic(t *testing.T) {
	in, out, _ := startDispatcher(t, &stubFetcher{err: errors.New("connection refused")}, 492)
	in <- datagram.Inbound{Text: "GET:http://x/down", Peer: peer(4)}
	got := recvOutbound(t, out)
	_, _, body, err := wire.DecodeBatch(got.Frame)
	require.NoError(t, err)
	require.Equal(t, "Failed processing your request: Issue while loading the data from target server: connection refused", string(body))
}

func TestDispatcher_MalformedRequest_SendsDiagnostic(t *testing.T) {
	in, out, _ := startDispatcher(t, &stubFetcher{}, 492)
	in <- datagram.Inbound{Text: "HELLO THERE", Peer: peer(5)}
	got := recvOutbound(t, out)
	_, _, body, err := wire.DecodeBatch(got.Frame)
	require.NoError(t, err)
	require.Equal(t, "Failed processing your request: Invalid message structure! Use GET:URL format.", string(body))
}

func TestDispatcher_MalformedRepeatBatch_IsSilentlyDropped(t *testing.T) {
	in, out, _ := startDispatcher(t, &stubFetcher{}, 492)
	in <- datagram.Inbound{Text: "REPEAT_BATCH:notanumber", Peer: peer(6)}

	// Follow up with a real request on the same peer to prove the dispatcher
	// is still alive and simply chose not to reply to the malformed one.
	in <- datagram.Inbound{Text: wire.ConnectMessage, Peer: peer(6)}
	got := recvOutbound(t, out)
	require.Equal(t, []byte(wire.AcceptResponse), got.Frame)

	select {
	case extra := <-out:
		t.Fatalf("unexpected extra frame: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcher_RepeatBatch_Miss(t *testing.T) {
	in, out, _ := startDispatcher(t, &stubFetcher{}, 492)
	in <- datagram.Inbound{Text: "REPEAT_BATCH:7", Peer: peer(7)}
	got := recvOutbound(t, out)
	_, _, body, err := wire.DecodeBatch(got.Frame)
	require.NoError(t, err)
	require.Equal(t, "Couldn't get the requested batch with ID 7", string(body))
}

func TestDispatcher_RepeatBatch_HitIsByteIdentical(t *testing.T) {
	payload := strings.Repeat("Q", 50)
	in, out, _ := startDispatcher(t, &stubFetcher{status: 200, body: []byte(payload)}, 492)
	p := peer(8)
	in <- datagram.Inbound{Text: "GET:http://x/small", Peer: p}
	original := recvOutbound(t, out)

	in <- datagram.Inbound{Text: "REPEAT_BATCH:0", Peer: p}
	repeated := recvOutbound(t, out)

	require.Equal(t, original.Frame, repeated.Frame)
}
