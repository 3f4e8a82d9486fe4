package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/ble"
	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/collector"
)

type config struct {
  Debug, Trace bool
  BindAddress string
  StaticDir string
  EnableMetamonitoring bool
  DiscoverDevices bool
  BluetoothDeviceId int
  BluetoothConnParams ble.ConnParams
  PersistConnections bool
  Backoff time.Duration
  SubscriberBuffer int
  Addresses []net.HardwareAddr
}

// addressList collects repeated -address flags.
type addressList struct {
  list *[]net.HardwareAddr
}

func (a *addressList) String() string {
  if a.list == nil {
    return ""
  }

  addrs := make([]string, len(*a.list))

  for i, addr := range *a.list {
    addrs[i] = addr.String()
  }

  return strings.Join(addrs, ",")
}

func (a *addressList) Set(v string) error {
  addr, err := net.ParseMAC(v)

  if err != nil {
    return fmt.Errorf("invalid device address %q: %w", v, err)
  }

  if len(addr) != 6 {
    return fmt.Errorf("invalid device address %q: expected a 6 byte MAC address", v)
  }

  *a.list = append(*a.list, addr)

  return nil
}

func parseArgs(fs *flag.FlagSet, args []string) (config, error) {
  var cfg config

  cfg.BluetoothConnParams = ble.ConnParamsDefault

  fs.StringVar(&cfg.BindAddress, "bind", "0.0.0.0:28040", "Where the HTTP server will bind to")
  fs.StringVar(&cfg.StaticDir, "static-dir", "./static", "Directory served at /")
  fs.IntVar(&cfg.BluetoothDeviceId, "bluetooth-device", 0, "Bluetooth (HCI) device ID")
  fs.Var(&cfg.BluetoothConnParams, "bluetooth-connection-params", "Bluetooth connection parameters (one of 'default' or 'power-saving')")
  fs.BoolVar(&cfg.PersistConnections, "persist-connections", true, "Keep the Bluetooth connection open between sessions")
  fs.Var(&addressList{list: &cfg.Addresses}, "address",
    "Only connect to the heart rate monitor with this MAC address. Can be repeated")
  fs.DurationVar(&cfg.Backoff, "backoff", collector.DefaultBackoff,
    "Fixed delay before reconnecting after the device session ends")
  fs.IntVar(&cfg.SubscriberBuffer, "subscriber-buffer", 16,
    "Readings buffered per live subscriber before it is disconnected as too slow")
  fs.BoolVar(&cfg.DiscoverDevices, "discover", false, "Discover available BLE devices and quit")
  fs.BoolVar(&cfg.EnableMetamonitoring, "metamonitoring", true, "Enable metamonitoring metrics")
  fs.BoolVar(&cfg.Debug, "debug", false, "Enable debug logs")
  fs.BoolVar(&cfg.Trace, "trace", false, "Enable trace logs")

  if err := fs.Parse(args); err != nil {
    return cfg, err
  }

  if cfg.Backoff <= 0 {
    return cfg, fmt.Errorf("-backoff must be positive, got %v", cfg.Backoff)
  }

  if cfg.SubscriberBuffer < 1 {
    return cfg, fmt.Errorf("-subscriber-buffer must be at least 1, got %d", cfg.SubscriberBuffer)
  }

  return cfg, nil
}

func ParseArgs() config {
  cfg, err := parseArgs(flag.CommandLine, os.Args[1:])

  if err != nil {
    fmt.Fprintln(os.Stderr, "Error:", err)
    flag.Usage()
    os.Exit(2)
  }

  return cfg
}
