package ble

import (
  "context"
  "errors"
  "fmt"
  "sync"

  "github.com/go-ble/ble"
  "github.com/rs/zerolog/log"

  "github.com/YuxiangWang0525/miband-heart-rate-RESTful/collector"
)

// Perform an active or passive scan and return every advertisement found.
func (h *Handle) ScanAll(ctx context.Context, onDevice func(Advertisement)) error {
  err := h.dev.Scan(ctx, true, onDevice)

  if err != nil {
    return fmt.Errorf("failed to initiate scan: %w", err)
  }

  return nil
}

// DiscoverDevices scans until ctx is done and yields every device advertising service,
// once per address. The channel is closed when the scan stops.
func (h *Handle) DiscoverDevices(ctx context.Context, service string) (<-chan collector.Device, error) {
  uuid, err := ble.Parse(service)

  if err != nil {
    return nil, fmt.Errorf("invalid service uuid %q: %w", service, err)
  }

  out := make(chan collector.Device, 4)
  filter := newAdvertisementFilter(uuid, func(a Advertisement) bool {
    select {
    case out <- newPeripheral(h, a.Addr(), a.LocalName()):
      return true
    default:
      return false
    }
  })

  go func() {
    err := h.dev.Scan(ctx, false, filter.handle)

    // swallow cancellations, they are how callers end the scan.
    if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
      log.Warn().Err(err).Msg("ble: scan failed")
    }

    filter.close(func() { close(out) })
  }()

  return out, nil
}

// advertisementFilter forwards the first accepted advertisement of every address
// advertising a given service. emit must not block: it runs on the HCI event loop.
type advertisementFilter struct {
  service ble.UUID
  emit func(Advertisement) bool

  mu sync.Mutex
  seen map[string]bool
  closed bool
}

func newAdvertisementFilter(service ble.UUID, emit func(Advertisement) bool) *advertisementFilter {
  return &advertisementFilter{
    service: service,
    emit: emit,
    seen: make(map[string]bool),
  }
}

// AdvertisesService reports whether a lists service (e.g. "180d") among its services.
func AdvertisesService(a Advertisement, service string) bool {
  uuid, err := ble.Parse(service)

  return err == nil && ble.Contains(a.Services(), uuid)
}

func (f *advertisementFilter) handle(a Advertisement) {
  if !ble.Contains(a.Services(), f.service) {
    return
  }

  key := addrKey(a.Addr())

  // the BLE lib could send an advertisement even after `Scan()` returns.
  f.mu.Lock()
  defer f.mu.Unlock()

  if f.closed || f.seen[key] {
    return
  }

  if !f.emit(a) {
    log.Trace().Str("Addr", key).Msg("ble: consumer busy, ignoring advertisement")
    return
  }

  f.seen[key] = true

  log.Debug().
    Str("Addr", key).
    Str("Name", a.LocalName()).
    Int("RSSI", a.RSSI()).
    Msg("ble: found device advertising service")
}

func (f *advertisementFilter) close(onClose func()) {
  f.mu.Lock()
  defer f.mu.Unlock()

  if !f.closed {
    f.closed = true
    onClose()
  }
}
