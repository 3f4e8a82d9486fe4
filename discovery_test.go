package main

import (
  "testing"

  gble "github.com/go-ble/ble"
  "github.com/stretchr/testify/assert"
)

type fakeAdvertisement struct {
  gble.Advertisement

  name string
  connectable bool
  services []gble.UUID
}

func (a *fakeAdvertisement) LocalName() string { return a.name }
func (a *fakeAdvertisement) Connectable() bool { return a.connectable }
func (a *fakeAdvertisement) Services() []gble.UUID { return a.services }
func (a *fakeAdvertisement) RSSI() int { return -70 }

func TestDeviceInfo_Merge(t *testing.T) {
  var info deviceInfo

  info = info.merge(&fakeAdvertisement{connectable: true, services: []gble.UUID{gble.UUID16(0x180f)}})
  assert.False(t, info.heartRate)
  assert.Equal(t, "", info.name)

  // scan response carrying the name and the heart rate service
  info = info.merge(&fakeAdvertisement{name: "Mi Smart Band 6", connectable: true, services: []gble.UUID{gble.UUID16(0x180d)}})
  assert.True(t, info.heartRate)
  assert.Equal(t, "Mi Smart Band 6", info.name)
  assert.Equal(t, []string{"180d", "180f"}, info.serviceList())

  info = info.merge(&fakeAdvertisement{name: "other"})
  assert.True(t, info.heartRate)
  assert.Equal(t, "Mi Smart Band 6", info.name)
  assert.Equal(t, -70, info.rssi)
}
