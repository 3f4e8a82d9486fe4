package ble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
)

func TestAdvertisementFilter(t *testing.T) {
	hr := ble.UUID16(0x180d)

	var emitted []string
	accept := true

	f := newAdvertisementFilter(hr, func(a Advertisement) bool {
		if accept {
			emitted = append(emitted, a.LocalName())
		}

		return accept
	})

	f.handle(&fakeAdvertisement{addr: "AA:AA:AA:AA:AA:01", name: "band", services: []ble.UUID{ble.UUID16(0x180f), hr}})
	f.handle(&fakeAdvertisement{addr: "aa:aa:aa:aa:aa:01", name: "band again", services: []ble.UUID{hr}})
	f.handle(&fakeAdvertisement{addr: "aa:aa:aa:aa:aa:02", name: "thermometer", services: []ble.UUID{ble.UUID16(0x181a)}})

	// a rejected advertisement is offered again next time
	accept = false
	f.handle(&fakeAdvertisement{addr: "aa:aa:aa:aa:aa:03", name: "strap", services: []ble.UUID{hr}})
	accept = true
	f.handle(&fakeAdvertisement{addr: "aa:aa:aa:aa:aa:03", name: "strap", services: []ble.UUID{hr}})

	closed := 0
	f.close(func() { closed += 1 })
	f.close(func() { closed += 1 })

	f.handle(&fakeAdvertisement{addr: "aa:aa:aa:aa:aa:04", name: "late", services: []ble.UUID{hr}})

	assert.Equal(t, []string{"band", "strap"}, emitted)
	assert.Equal(t, 1, closed)
}

func TestAdvertisesService(t *testing.T) {
	a := &fakeAdvertisement{addr: "aa:aa:aa:aa:aa:01", services: []ble.UUID{ble.UUID16(0x180d)}}

	assert.True(t, AdvertisesService(a, "180d"))
	assert.False(t, AdvertisesService(a, "180f"))
	assert.False(t, AdvertisesService(a, "not-a-uuid"))
}
