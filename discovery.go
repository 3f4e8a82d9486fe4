package main

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/ble"
	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/heartrate"
)

type deviceInfo struct {
  name string
  connectable bool
  heartRate bool
  rssi int
  services map[string]bool
}

// merge folds a repeated advertisement (e.g. a scan response) into what is already known.
func (info deviceInfo) merge(a ble.Advertisement) deviceInfo {
  if info.services == nil {
    info.services = make(map[string]bool)
  }

  if info.name == "" {
    info.name = a.LocalName()
  }

  info.connectable = a.Connectable()
  info.rssi = a.RSSI()
  info.heartRate = info.heartRate || ble.AdvertisesService(a, heartrate.ServiceUUID)

  for _, uuid := range a.Services() {
    info.services[uuid.String()] = true
  }

  return info
}

func (info deviceInfo) serviceList() []string {
  services := maps.Keys(info.services)
  slices.Sort(services)

  return services
}

func doDeviceDiscovery(parent context.Context, cfg config) {
  log.Info().Msg("Starting in device discovery mode - collecting devices for 5 seconds...")

  handle, err := ble.InitWithConnParams(cfg.BluetoothDeviceId, cfg.BluetoothConnParams, ble.FlagScanTypeActive)

  if err != nil {
    log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
  }

  defer handle.Stop()

  ctx, cancel := context.WithTimeout(parent, 5 * time.Second)
  defer cancel()

  // the BLE lib may still deliver advertisements after ScanAll returns.
  var mu sync.Mutex
  devices := make(map[string]deviceInfo)

  err = handle.ScanAll(ctx, func(a ble.Advertisement) {
    addr := a.Addr().String()

    mu.Lock()
    info := devices[addr].merge(a)
    devices[addr] = info
    mu.Unlock()

    log.Debug().
      Str("Addr", addr).
      Str("Name", a.LocalName()).
      Bool("Connectable", a.Connectable()).
      Bool("HeartRate", info.heartRate).
      Strs("Services", info.serviceList()).
      Hex("ManufacturerData", a.ManufacturerData()).
      Msg("Received device advertisement")
  })

  if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
    log.Fatal().Err(err).Msg("Failed to initiate scan")
  }

  mu.Lock()
  defer mu.Unlock()

  log.Info().Int("Found", len(devices)).Msg("Finished device discovery")

  addrs := maps.Keys(devices)
  slices.Sort(addrs)

  for _, addr := range addrs {
    data := devices[addr]
    msg := "Found device"

    if data.heartRate {
      msg = "Found heart rate device"
    }

    log.Info().
      Str("Addr", addr).
      Str("Name", data.name).
      Bool("Connectable", data.connectable).
      Bool("HeartRate", data.heartRate).
      Int("RSSI", data.rssi).
      Strs("Services", data.serviceList()).
      Msg(msg)
  }
}
