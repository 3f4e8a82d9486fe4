package collector

import (
	"context"
)

// Adapter is the part of a Bluetooth stack the collector needs. UUIDs are given in their
// short hex form (e.g. "180d").
type Adapter interface {
	// Devices that are already connected and expose the given service.
	ConnectedDevicesWithService(ctx context.Context, service string) ([]Device, error)
	// Scan for devices advertising the given service. The channel is closed once the scan
	// has fully stopped on the radio, which normally only happens after ctx is canceled.
	DiscoverDevices(ctx context.Context, service string) (<-chan Device, error)
}

type Device interface {
	ID() string
	Name() string
	IsConnected() bool
	Connect(ctx context.Context) error
	Disconnect() error
	DiscoverServices(ctx context.Context, uuid string) ([]Service, error)
}

type Service interface {
	DiscoverCharacteristics(ctx context.Context, uuid string) ([]Characteristic, error)
}

type Characteristic interface {
	// Notify subscribes to notifications. The channel is closed when the peripheral
	// disconnects, notifications stop or ctx is canceled.
	Notify(ctx context.Context) (<-chan []byte, error)
}
