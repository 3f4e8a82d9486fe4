package ble

import (
  "fmt"
  "net"
  "strconv"
  "strings"

  "github.com/go-ble/ble"
  "github.com/go-ble/ble/linux"
  "github.com/go-ble/ble/linux/hci/cmd"
  "github.com/prometheus/client_golang/prometheus"
  "github.com/rs/zerolog/log"

  "github.com/YuxiangWang0525/miband-heart-rate-RESTful/collector"
  "github.com/YuxiangWang0525/miband-heart-rate-RESTful/utils"
)

type Advertisement = ble.Advertisement
type Client = ble.Client

type Flags int

const (
  // Run active scans, so that scan responses (often carrying the service list) are seen.
  FlagScanTypeActive Flags = 1 << iota
  // Only report allow-listed devices. Configure them with `SetAllowListedAddresses()`.
  FlagEnableDeviceAllowList
  // Keep BLE connections in a connection pool so that they outlive a single session.
  FlagPersistConnections
)

var flagNames = []struct {
  flag Flags
  name string
}{
  {FlagScanTypeActive, "active scan"},
  {FlagEnableDeviceAllowList, "device allow-list"},
  {FlagPersistConnections, "persistent connections"},
}

func (f Flags) String() string {
  var names []string

  for _, fn := range flagNames {
    if f & fn.flag != 0 {
      names = append(names, fn.name)
    }
  }

  if len(names) == 0 {
    return "none"
  }

  return strings.Join(names, ", ")
}

// scanType and filterPolicy are the raw LE Set Scan Parameters values.
type scanType uint8

const (
  scanTypePassive scanType = iota
  scanTypeActive
)

func (s scanType) String() string {
  switch s {
  case scanTypeActive:
    return "Active"
  case scanTypePassive:
    return "Passive"
  default:
    panic("unknown scanType value: " + strconv.Itoa(int(s)))
  }
}

type filterPolicy uint8

const (
  filterPolicyAcceptAll filterPolicy = iota
  filterPolicyAllowListedOnly
)

func (f filterPolicy) String() string {
  switch f {
  case filterPolicyAcceptAll:
    return "Accept All"
  case filterPolicyAllowListedOnly:
    return "Allow-listed Only"
  default:
    panic("unknown filterPolicy value: " + strconv.Itoa(int(f)))
  }
}

// Handle owns the HCI device and implements collector.Adapter on top of it.
type Handle struct {
  dev *linux.Device
  connPool *connectionPool
}

var _ collector.Adapter = (*Handle)(nil)

func RegisterMetrics(reg prometheus.Registerer) {
  reg.MustRegister(
    successfulConnectionsCounter,
    failedConnectionsCounter,
    connectionsFromPoolCounter,
    disconnectsCounter,
    droppedNotificationsCounter,
  )
}

func Init(deviceId int, flags Flags) (*Handle, error) {
  return InitWithConnParams(
    deviceId,
    ConnParamsDefault,
    flags,
  )
}

func InitWithConnParams(deviceId int, connParams ConnParams, flags Flags) (*Handle, error) {
  scanType, filterPolicy := scanTypePassive, filterPolicyAcceptAll

  if flags & FlagScanTypeActive != 0 {
    scanType = scanTypeActive
  }

  if flags & FlagEnableDeviceAllowList != 0 {
    filterPolicy = filterPolicyAllowListedOnly
  }

  log.Debug().
    Stringer("ScanType", scanType).
    Stringer("FilterPolicy", filterPolicy).
    Stringer("ConnParams", &connParams).
    Stringer("Flags", flags).
    Int("DeviceID", deviceId).
    Msg("Initializing Bluetooth device")

  dev, err := linux.NewDevice(
    ble.OptDeviceID(deviceId),
    ble.OptScanParams(scanParams(scanType, filterPolicy)),
    ble.OptConnParams(connParams.AdapterOptions()),
  )

  if err != nil {
    return nil, fmt.Errorf("%w: failed to init bluetooth device %d: %w", collector.ErrAdapterUnavailable, deviceId, err)
  }

  ble.SetDefaultDevice(dev)

  h := &Handle{
    dev: dev,
  }

  if flags & FlagPersistConnections != 0 {
    h.connPool = initConnectionPool()
  }

  return h, nil
}

func scanParams(scanType scanType, filterPolicy filterPolicy) cmd.LESetScanParameters {
  return cmd.LESetScanParameters{
    LEScanType:           uint8(scanType),     // 0x00: passive, 0x01: active
    LEScanInterval:       0x0004,              // 0x0004 - 0x4000; N * 0.625msec
    LEScanWindow:         0x0004,              // 0x0004 - 0x4000; N * 0.625msec
    OwnAddressType:       0x00,                // 0x00: public, 0x01: random
    ScanningFilterPolicy: uint8(filterPolicy), // 0x00: accept all, 0x01: ignore non-allow-listed.
  }
}

// allowListEntry converts a MAC address into the little-endian layout HCI expects.
func allowListEntry(addr net.HardwareAddr) [6]byte {
  if len(addr) != 6 {
    panic("got non-6 byte device MAC address!?")
  }

  return [6]byte{addr[5], addr[4], addr[3], addr[2], addr[1], addr[0]}
}

func (h *Handle) SetAllowListedAddresses(a []net.HardwareAddr) error {
  log.Debug().
    Array("DeviceAddresses", utils.ToZeroLogArray(a)).
    Msg("Allow-listing the requested Bluetooth devices")

  // start from an empty list; entries from a previous run survive in the controller.
  var res cmd.LEClearWhiteListRP

  if err := h.dev.HCI.Send(&cmd.LEClearWhiteList{}, &res); err != nil {
    return fmt.Errorf("failed to clear allow-list: %w", err)
  }

  if res.Status != 0 {
    return fmt.Errorf("failed to clear allow-list: got status: %v", res.Status)
  }

  for _, addr := range a {
    var res cmd.LEAddDeviceToWhiteListRP

    err := h.dev.HCI.Send(&cmd.LEAddDeviceToWhiteList{
      AddressType: 0x00, // public
      Address:     allowListEntry(addr),
    }, &res)

    if err != nil {
      return fmt.Errorf("failed to allow-list device %q: %w", addr.String(), err)
    }

    if res.Status != 0 {
      return fmt.Errorf("failed to allow-list device %q: got status: %v", addr.String(), res.Status)
    }
  }

  return nil
}

func (h *Handle) Stop() error {
  h.DisconnectAll()
  return h.dev.Stop()
}
