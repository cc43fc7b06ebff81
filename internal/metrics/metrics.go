// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes Prometheus counters and gauges for both
// transports, grounded on the registration/handler idiom in
// other_examples' h3ws-proxy (prometheus.NewCounterVec +
// prometheus.MustRegister, served via promhttp.Handler on its own mux).
// Collection is unconditional; serving the /metrics endpoint is optional
// and controlled by config.Config.MetricsEnabled.
package metrics

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxygate_requests_total",
		Help: "Requests handled, by transport and outcome.",
	}, []string{"transport", "outcome"})

	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxygate_cache_entries",
		Help: "Current number of frames held in the datagram retransmit cache.",
	})

	BatchesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxygate_batches_sent_total",
		Help: "Datagram frames queued for the socket by the dispatcher, including control replies and retransmits.",
	})

	ActiveStreamSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxygate_active_stream_sessions",
		Help: "Stream sessions currently in the greet/exchange/farewell cycle.",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, CacheEntries, BatchesSentTotal, ActiveStreamSessions)
}

// Serve runs a dedicated /metrics HTTP server on addr until ctx is
// canceled. It is only started when config.Config.MetricsEnabled is true.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("metrics: serving /metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
