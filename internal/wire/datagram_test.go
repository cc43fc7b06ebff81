// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"code.hybscloud.com/proxygate/internal/wire"
)

func TestEncodeDecodeBatch_RoundTrip(t *testing.T) {
	cases := []struct {
		i, n uint32
		body []byte
	}{
		{0, 1, []byte("hello")},
		{0, 3, bytes.Repeat([]byte("a"), 492)},
		{2, 3, []byte("tail")},
		{0, 1, nil},
	}
	for _, c := range cases {
		frame := wire.EncodeBatch(c.i, c.n, c.body)
		gotI, gotN, gotBody, err := wire.DecodeBatch(frame)
		if err != nil {
			t.Fatalf("DecodeBatch: %v", err)
		}
		if gotI != c.i || gotN != c.n {
			t.Fatalf("got (%d,%d) want (%d,%d)", gotI, gotN, c.i, c.n)
		}
		if !bytes.Equal(gotBody, c.body) {
			t.Fatalf("body mismatch: got %q want %q", gotBody, c.body)
		}
	}
}

func TestDecodeBatch_TruncatedHeader(t *testing.T) {
	_, _, _, err := wire.DecodeBatch([]byte{0, 0, 0})
	if !errors.Is(err, wire.ErrTruncatedDatagram) {
		t.Fatalf("err=%v want ErrTruncatedDatagram", err)
	}
}

func TestParseRepeatBatch(t *testing.T) {
	cases := []struct {
		text   string
		wantID uint32
		wantOK bool
	}{
		{"REPEAT_BATCH:0", 0, true},
		{"REPEAT_BATCH:42", 42, true},
		{"REPEAT_BATCH:", 0, false},
		{"REPEAT_BATCH:abc", 0, false},
		{"REPEAT_BATCH:12x", 0, false},
		{"REPEAT_BATCH:-1", 0, false},
		{"GET:http://x", 0, false},
		{"repeat_batch:1", 0, false},
	}
	for _, c := range cases {
		id, ok := wire.ParseRepeatBatch(c.text)
		if ok != c.wantOK || (ok && id != c.wantID) {
			t.Fatalf("ParseRepeatBatch(%q) = (%d,%v) want (%d,%v)", c.text, id, ok, c.wantID, c.wantOK)
		}
	}
}

func TestParseGetRequest(t *testing.T) {
	cases := []struct {
		text    string
		wantURL string
		wantOK  bool
	}{
		{"GET:http://x/y", "http://x/y", true},
		{"GET:", "", false},
		{"GET", "", false},
		{"Connect", "", false},
	}
	for _, c := range cases {
		url, ok := wire.ParseGetRequest(c.text)
		if ok != c.wantOK || url != c.wantURL {
			t.Fatalf("ParseGetRequest(%q) = (%q,%v) want (%q,%v)", c.text, url, ok, c.wantURL, c.wantOK)
		}
	}
}
