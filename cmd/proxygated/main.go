// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command proxygated runs the stream and datagram proxy gateway on a single
// shared port.
package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/proxygate/internal/acceptor"
	"code.hybscloud.com/proxygate/internal/cache"
	"code.hybscloud.com/proxygate/internal/config"
	"code.hybscloud.com/proxygate/internal/datagram"
	"code.hybscloud.com/proxygate/internal/fetch"
	"code.hybscloud.com/proxygate/internal/metrics"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Fatal("proxygated exited with error")
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath     string
		port           int
		bufferSize     int
		cacheTTL       string
		sweepInterval  string
		fetchTimeout   string
		fetchRate      float64
		workerPoolSize int
		metricsEnabled bool
		metricsAddr    string
		logLevel       string
	)

	cmd := &cobra.Command{
		Use:   "proxygated",
		Short: "Runs the stream and datagram proxy gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("buffer-size") {
				cfg.BufferSize = bufferSize
			}
			if cmd.Flags().Changed("cache-ttl") {
				if cfg.CacheTTL, err = time.ParseDuration(cacheTTL); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("sweep-interval") {
				if cfg.SweepInterval, err = time.ParseDuration(sweepInterval); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("fetch-timeout") {
				if cfg.FetchTimeout, err = time.ParseDuration(fetchTimeout); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("fetch-rate") {
				cfg.FetchRatePerSec = fetchRate
			}
			if cmd.Flags().Changed("worker-pool-size") {
				cfg.WorkerPoolSize = workerPoolSize
			}
			if cmd.Flags().Changed("metrics-enabled") {
				cfg.MetricsEnabled = metricsEnabled
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
				log.SetLevel(level)
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	flags.IntVar(&port, "port", 0, "TCP and UDP port to listen on")
	flags.IntVar(&bufferSize, "buffer-size", 0, "outbound datagram size in bytes, including the 8-byte batch header")
	flags.StringVar(&cacheTTL, "cache-ttl", "", "retransmit cache entry lifetime (e.g. 5m)")
	flags.StringVar(&sweepInterval, "sweep-interval", "", "retransmit cache sweep interval (e.g. 5m)")
	flags.StringVar(&fetchTimeout, "fetch-timeout", "", "upstream HTTP fetch timeout (e.g. 30s)")
	flags.Float64Var(&fetchRate, "fetch-rate", 0, "upstream fetch rate limit in requests/second, 0 for unlimited")
	flags.IntVar(&workerPoolSize, "worker-pool-size", 0, "max concurrent datagram workers, 0 for unbounded")
	flags.BoolVar(&metricsEnabled, "metrics-enabled", false, "serve Prometheus metrics on metrics-addr")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on")
	flags.StringVar(&logLevel, "log-level", "", "logrus level (debug, info, warn, error)")

	return cmd
}

// run wires the shared listeners, the two transport pipelines, the
// retransmit cache and its sweeper, and the optional metrics server under
// one errgroup bound to a signal-cancellable context, grounded on
// _examples/docker-compose/cmd/compose/compose.go's AdaptCmd
// (SIGINT/SIGTERM -> context cancellation).
func run(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := fetch.NewHTTPFetcher(cfg.FetchTimeout, cfg.FetchRatePerSec)
	retransmitCache := cache.New(cfg.CacheTTL)
	sweeper := cache.NewSweeper(retransmitCache, cfg.SweepInterval)

	tcpListener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("binding tcp listener: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		tcpListener.Close()
		return fmt.Errorf("binding udp socket: %w", err)
	}

	inbound := make(chan datagram.Inbound, 100)
	outbound := make(chan datagram.Outbound, 100)
	pump := datagram.NewPump(udpConn, inbound, outbound)
	dispatcher := datagram.NewDispatcher(inbound, outbound, retransmitCache, fetcher, cfg.WorkerPoolSize, cfg.BatchBodySize())
	streamAcceptor := acceptor.New(tcpListener, fetcher)

	log.WithField("port", cfg.Port).Info("proxygated: listening")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return retransmitCache.Run(egCtx) })
	eg.Go(func() error { return sweeper.Run(egCtx) })
	eg.Go(func() error { return streamAcceptor.Run(egCtx) })
	eg.Go(func() error {
		stopPump := make(chan struct{})
		go func() { <-egCtx.Done(); close(stopPump) }()
		return pump.Run(stopPump)
	})
	eg.Go(func() error { return dispatcher.Run(egCtx) })
	if cfg.MetricsEnabled {
		eg.Go(func() error { return metrics.Serve(egCtx, cfg.MetricsAddr) })
	}

	err = eg.Wait()

	var result *multierror.Error
	result = multierror.Append(result, err)
	if cerr := tcpListener.Close(); cerr != nil {
		result = multierror.Append(result, cerr)
	}
	if cerr := udpConn.Close(); cerr != nil {
		result = multierror.Append(result, cerr)
	}
	return result.ErrorOrNil()
}
