// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// DefaultSweepInterval is how often the background loop invokes Sweep.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper drives RetransmitCache.Sweep on a fixed schedule using
// github.com/robfig/cron/v3, grounded on _examples/nishisan-dev-n-backup's
// use of the same package for its own periodic maintenance job, in place of
// a bare time.Sleep loop.
type Sweeper struct {
	cache    *RetransmitCache
	interval time.Duration
}

// NewSweeper returns a Sweeper that calls cache.Sweep every interval. The
// interval is handed to robfig/cron as an "@every" spec, which rounds
// intervals below one second up to one second.
func NewSweeper(cache *RetransmitCache, interval time.Duration) *Sweeper {
	return &Sweeper{cache: cache, interval: interval}
}

// Run schedules the sweep job and blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New()
	spec := everySpec(s.interval)
	if _, err := c.AddFunc(spec, func() {
		removed := s.cache.Sweep(ctx)
		if removed > 0 {
			log.WithField("removed", removed).Debug("retransmit cache sweep")
		}
	}); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// everySpec turns a duration into a "@every" cron spec understood by
// robfig/cron.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
