package collector

import (
  "context"
  "errors"
  "sync/atomic"
  "time"

  "github.com/mcuadros/go-defaults"
  "github.com/prometheus/client_golang/prometheus"
  "github.com/rs/zerolog/log"

  "github.com/YuxiangWang0525/miband-heart-rate-RESTful/collector/model"
  "github.com/YuxiangWang0525/miband-heart-rate-RESTful/heartrate"
  "github.com/YuxiangWang0525/miband-heart-rate-RESTful/utils"
)

const DefaultBackoff = 5 * time.Second

var (
  malformedCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "heart_rate_bridge_malformed_measurements_total",
    Help: "Heart rate notifications that could not be decoded and were skipped.",
  })
  sessionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
    Name: "heart_rate_bridge_sessions_total",
    Help: "Acquisition loop iterations, by outcome.",
  }, []string{"outcome"})
)

func RegisterMetrics(reg prometheus.Registerer) {
  reg.MustRegister(
    malformedCounter,
    sessionsCounter,
  )
}

type Options struct {
  // Fixed delay between the end of one iteration and the start of the next.
  Backoff time.Duration `default:"5s"`
}

type ReadingWriter interface {
  Write(heartrate.Reading)
}

type Publisher interface {
  Publish(heartrate.Reading)
}

// Loop keeps a device session alive forever: it locates a heart rate sensor, streams its
// readings into the store and the hub, and starts over after a fixed backoff whenever the
// session fails or ends.
type Loop struct {
  adapter Adapter
  store ReadingWriter
  hub Publisher
  opts Options

  now func() time.Time
  wait func(ctx context.Context, d time.Duration) error

  // last assigned reading sequence number
  seq uint64

  // loop has been Run()
  started atomic.Bool
}

func NewLoop(adapter Adapter, store ReadingWriter, hub Publisher, opts Options) *Loop {
  defaults.SetDefaults(&opts)

  return &Loop{
    adapter: adapter,
    store: store,
    hub: hub,
    opts: opts,
    now: time.Now,
    wait: sleepContext,
  }
}

func sleepContext(ctx context.Context, d time.Duration) error {
  t := time.NewTimer(d)
  defer t.Stop()

  select {
  case <-ctx.Done():
    return ctx.Err()
  case <-t.C:
    return nil
  }
}

// Run blocks until ctx is canceled and returns the context error.
func (l *Loop) Run(ctx context.Context) error {
  if !l.started.CompareAndSwap(false, true) {
    panic("attempted to call collector.Loop.Run() twice")
  }

  log.Info().
    Dur("Backoff", l.opts.Backoff).
    Str("Service", heartrate.ServiceUUID).
    Str("Characteristic", heartrate.MeasurementUUID).
    Msg("Starting acquisition loop")

  for iteration := 1; ; iteration += 1 {
    res := l.iterate(ctx)

    if ctx.Err() != nil {
      log.Info().Err(ctx.Err()).Msg("Acquisition loop is shutting down")
      return ctx.Err()
    }

    sessionsCounter.WithLabelValues(outcome(res.Error)).Inc()

    if res.Error != nil {
      log.Warn().
        Int("Iteration", iteration).
        Stringer("Result", res).
        Dur("Backoff", l.opts.Backoff).
        Msg("Acquisition failed - will retry")
    } else {
      log.Info().
        Int("Iteration", iteration).
        Stringer("Result", res).
        Dur("Backoff", l.opts.Backoff).
        Msg("Device session ended - will reconnect")
    }

    if err := l.wait(ctx, l.opts.Backoff); err != nil {
      log.Info().Err(err).Msg("Acquisition loop is shutting down")
      return err
    }
  }
}

func (l *Loop) iterate(ctx context.Context) (res model.Result) {
  dev, err := l.locate(ctx)

  if err != nil {
    res.Error = err
    return res
  }

  res.Device = dev.ID()

  readings, err := NewSession(dev, l.now).Open(ctx)

  if err != nil {
    res.Error = err
    return res
  }

  log.Info().
    Str("Device", dev.ID()).
    Str("Name", dev.Name()).
    Msg("Subscribed to heart rate measurements")

  for r := range readings {
    l.seq += 1
    r.Seq = l.seq

    // store first: a subscriber attaching right now must never miss this reading.
    l.store.Write(r)
    l.hub.Publish(r)

    res.Readings += 1

    log.Debug().
      Str("Device", dev.ID()).
      Stringer("Reading", r).
      Msg("Received heart rate reading")
  }

  return res
}

// locate prefers a device that is already connected, and falls back to scanning.
func (l *Loop) locate(ctx context.Context) (Device, error) {
  connected, err := l.adapter.ConnectedDevicesWithService(ctx, heartrate.ServiceUUID)

  if err != nil {
    log.Debug().Err(err).Msg("Failed to list connected devices, falling back to scan")
  } else if len(connected) > 0 {
    log.Debug().Str("Device", connected[0].ID()).Msg("Using already connected device")
    return connected[0], nil
  }

  scanCtx, cancel := context.WithCancel(ctx)

  log.Info().Msg("Scanning for heart rate devices")

  devices, err := l.adapter.DiscoverDevices(scanCtx, heartrate.ServiceUUID)

  if err != nil {
    cancel()
    return nil, errors.Join(ErrNoDeviceFound, err)
  }

  // the radio must be done scanning before the session dials; many controllers reject a
  // connection request while a scan is active.
  stopScan := func() {
    cancel()

    for range devices {
    }
  }

  select {
  case <-ctx.Done():
    stopScan()
    return nil, ctx.Err()
  case dev, ok := <-devices:
    stopScan()

    if !ok || dev == nil {
      return nil, ErrNoDeviceFound
    }

    log.Info().
      Str("Device", dev.ID()).
      Str("Name", dev.Name()).
      Msg("Found device")

    return dev, nil
  }
}

func outcome(err error) string {
  switch {
  case err == nil:
    return "closed"
  case errors.Is(err, ErrNoDeviceFound):
    return "no_device"
  case errors.Is(err, ErrConnection):
    return "connection_error"
  case utils.ErrorIsAnyOf(err, ErrServiceNotFound, ErrCharacteristicNotFound):
    return "discovery_error"
  default:
    return "error"
  }
}
