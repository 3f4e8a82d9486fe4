package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/ble"
	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/collector"
	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/hub"
	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/metrics"
	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/server"
	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/store"
	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/utils"
)

func main() {
  zerolog.DurationFieldUnit = time.Second
  zerolog.TimeFieldFormat = time.RFC3339Nano

  log.Logger = log.Output(zerolog.ConsoleWriter{
    Out: os.Stderr,
    TimeFormat: "15:04:05.000",
  })

  cfg := ParseArgs()

  if cfg.Trace || os.Getenv("TRACE") != "" {
      zerolog.SetGlobalLevel(zerolog.TraceLevel)
  } else if cfg.Debug || os.Getenv("DEBUG") != "" {
      zerolog.SetGlobalLevel(zerolog.DebugLevel)
  } else {
      zerolog.SetGlobalLevel(zerolog.InfoLevel)
  }

  ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
  defer stop()

  if cfg.DiscoverDevices {
    doDeviceDiscovery(ctx, cfg)
    return
  }

  log.Info().
    Str("BindAddr", cfg.BindAddress).
    Str("StaticDir", cfg.StaticDir).
    Array("Addresses", utils.ToZeroLogArray(cfg.Addresses)).
    Int("BluetoothDeviceID", cfg.BluetoothDeviceId).
    Dur("Backoff", cfg.Backoff).
    Int("SubscriberBuffer", cfg.SubscriberBuffer).
    Msg("Starting with the specified configuration")

  registry := prometheus.NewRegistry()
  collector.RegisterMetrics(registry)
  hub.RegisterMetrics(registry)

  if cfg.EnableMetamonitoring {
    registry.MustRegister(
      collectors.NewGoCollector(),
      collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
    )
    ble.RegisterMetrics(registry)
  }

  latest := store.NewLatest()
  metrics.RegisterCollector(latest.Read, registry)

  broadcast := hub.New(latest, hub.Options{BufferSize: cfg.SubscriberBuffer})
  srv := server.New(latest, broadcast, registry, server.Options{StaticDir: cfg.StaticDir})

  g, gctx := errgroup.WithContext(ctx)

  g.Go(func() error {
    return srv.ListenAndServe(gctx, cfg.BindAddress)
  })

  bleHandle, err := initBle(cfg)

  if err != nil {
    // the HTTP side keeps serving, with no data.
    log.Error().Err(err).Msg("Bluetooth adapter unavailable, heart rate acquisition is disabled")
  } else {
    loop := collector.NewLoop(bleHandle, latest, broadcast, collector.Options{Backoff: cfg.Backoff})

    g.Go(func() error {
      if err := loop.Run(gctx); !errors.Is(err, context.Canceled) {
        return err
      }

      return nil
    })
  }

  err = g.Wait()

  if bleHandle != nil {
    if err := bleHandle.Stop(); err != nil {
      log.Debug().Err(err).Msg("Failed to stop Bluetooth device")
    }
  }

  if err != nil {
    log.Fatal().Err(err).Msg("Unable to serve on requested address")
  }

  log.Info().Msg("Bye")
}

func initBle(cfg config) (*ble.Handle, error) {
  var bleFlags ble.Flags = ble.FlagScanTypeActive

  if cfg.PersistConnections {
    bleFlags |= ble.FlagPersistConnections
  }

  if len(cfg.Addresses) > 0 {
    bleFlags |= ble.FlagEnableDeviceAllowList
  }

  bleHandle, err := ble.InitWithConnParams(cfg.BluetoothDeviceId, cfg.BluetoothConnParams, bleFlags)

  if err != nil {
    return nil, err
  }

  if len(cfg.Addresses) > 0 {
    if err := bleHandle.SetAllowListedAddresses(cfg.Addresses); err != nil {
      log.Error().Err(err).Msg("Failed to set device allow list")
    }
  }

  return bleHandle, nil
}
