// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/megastat/pkg/bridge"
	"github.com/Thermoquad/megastat/pkg/megad"
	"github.com/Thermoquad/megastat/pkg/mqttpub"
	"github.com/Thermoquad/megastat/pkg/settings"
	"github.com/Thermoquad/megastat/pkg/stream"
)

const shutdownTimeout = 5 * time.Second

var runListen string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge for every configured board",
	Long: `Poll every board in --config, receive their push notifications and
publish their signals.

The HTTP listener serves:
  /metrics        Prometheus metrics
  /ws             CBOR event stream (events and monitor commands)
  /<device>/      Push notifications (set the board's script to <device>)

When the config has an mqtt section, every signal is also published as a
retained message on <prefix>/<device>/<id> and commands are accepted on
<prefix>/<device>/<id>/set.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runListen, "listen", "l", "", "HTTP listen address (overrides the config)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	log := newLogger()
	if configPath == "" {
		return fmt.Errorf("--config must be specified")
	}
	cfg, err := settings.Load(configPath, log)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		logLevel = cfg.LogLevel
		log = newLogger()
	}
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("%s: no devices configured", configPath)
	}
	listen := cfg.Listen
	if runListen != "" {
		listen = runListen
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := bridge.NewMetrics(registry)

	// Sinks are created before the bridges they serve, the instances are
	// filled in below.
	var instances *bridge.Instances
	commander := commanderFunc(func(ctx context.Context, device, id, value string) error {
		return instances.Command(ctx, device, id, value)
	})
	names := make([]string, len(cfg.Devices))
	for i, d := range cfg.Devices {
		names[i] = d.Name
	}

	hub := stream.NewHub(stream.HubOptions{
		Devices:   names,
		Version:   rootCmd.Version,
		Snapshot:  func() []bridge.Event { return instances.Snapshot() },
		Commander: commander,
		Logger:    log,
	})
	sinks := bridge.Fanout{hub, logSink(log)}

	var publisher *mqttpub.Publisher
	if cfg.MQTT != nil {
		publisher = mqttpub.New(mqttpub.Options{
			Broker:    cfg.MQTT.Broker,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Prefix:    cfg.MQTT.Prefix,
			QoS:       cfg.MQTT.QoS,
			Commander: commander,
			Logger:    log,
		})
		sinks = append(sinks, publisher)
	}

	bridges := make([]*bridge.Bridge, 0, len(cfg.Devices))
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		bridges = append(bridges, bridge.New(bridge.Options{
			Name:           d.Name,
			Device:         megad.NewClient(d.Address, d.Password, megad.WithTimeout(cfg.RequestDuration())),
			Ports:          d.PortConfigs(cfg.Windows()),
			Windows:        cfg.Windows(),
			PollInterval:   cfg.PollDuration(),
			RequestTimeout: cfg.RequestDuration(),
			Sink:           sinks,
			Logger:         log,
			Metrics:        metrics,
		}))
		log.Info().Str("device", d.Name).Str("address", d.Address).Int("ports", len(d.Ports)).Msg("device configured")
	}
	instances = bridge.NewInstances(bridges...)

	router := mux.NewRouter()
	router.Handle("/ws", hub)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	bridge.NewPushHandler(instances, log).Register(router)

	server := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	if publisher != nil {
		// Connect returns once the broker accepts, the client retries until then
		go func() {
			if err := publisher.Connect(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("MQTT broker unavailable")
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			publisher.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		instances.Run(ctx)
	}()

	go func() {
		log.Info().Str("listen", listen).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-serveErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	wg.Wait()

	for _, b := range instances.All() {
		stats := b.Statistics()
		log.Info().
			Str("device", b.Name()).
			Uint64("cycles", stats.TotalCycles).
			Uint64("failed", stats.FailedCycles).
			Uint64("commands", stats.Commands).
			Uint64("pushes", stats.Pushes).
			Msg("statistics")
	}
	return err
}

// commanderFunc adapts a function to the stream and MQTT command interfaces.
type commanderFunc func(ctx context.Context, device, id, value string) error

func (f commanderFunc) Command(ctx context.Context, device, id, value string) error {
	return f(ctx, device, id, value)
}

// logSink writes every event at debug level.
func logSink(log zerolog.Logger) bridge.Sink {
	return bridge.SinkFunc(func(e bridge.Event) {
		log.Debug().
			Str("device", e.Device).
			Str("id", e.ID).
			Interface("value", e.Value).
			Bool("ack", e.Ack).
			Uint8("q", uint8(e.Quality)).
			Msg("event")
	})
}
