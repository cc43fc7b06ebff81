// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/proxygate/internal/cache"
)

func TestSweeper_RemovesExpiredEntriesOnSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cache.New(10 * time.Millisecond)
	cacheDone := make(chan struct{})
	go func() { defer close(cacheDone); _ = c.Run(ctx) }()

	c.Put(ctx, "peer", 0, []byte("frame"))

	sweeper := cache.NewSweeper(c, 20*time.Millisecond)
	sweeperDone := make(chan struct{})
	go func() { defer close(sweeperDone); require.NoError(t, sweeper.Run(ctx)) }()

	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "peer", 0)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "expired entry should be swept")

	cancel()
	<-sweeperDone
	<-cacheDone
}

func TestSweeper_StopsWhenContextCanceled(t *testing.T) {
	c := cache.New(time.Minute)
	sweeper := cache.NewSweeper(c, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Sweeper.Run did not return after context cancellation")
	}
}
