package ble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
)

type fakeAdvertisement struct {
	ble.Advertisement

	addr     string
	name     string
	services []ble.UUID
}

func (a *fakeAdvertisement) Addr() ble.Addr       { return ble.NewAddr(a.addr) }
func (a *fakeAdvertisement) LocalName() string    { return a.name }
func (a *fakeAdvertisement) Services() []ble.UUID { return a.services }
func (a *fakeAdvertisement) RSSI() int            { return -60 }

// fakeClient implements the parts of ble.Client the peripheral uses. Calling anything else
// panics on the nil embedded interface.
type fakeClient struct {
	ble.Client

	addr         ble.Addr
	disconnected chan struct{}
	services     []*ble.Service
	chars        []*ble.Characteristic

	mu           sync.Mutex
	handler      ble.NotificationHandler
	subscribed   chan struct{}
	unsubscribed bool
	canceled     bool
}

func newFakeClient(addr string) *fakeClient {
	return &fakeClient{
		addr:         ble.NewAddr(addr),
		disconnected: make(chan struct{}),
		subscribed:   make(chan struct{}),
		services:     []*ble.Service{{UUID: ble.UUID16(0x180d)}},
		chars:        []*ble.Characteristic{{UUID: ble.UUID16(0x2a37)}},
	}
}

func (c *fakeClient) Addr() ble.Addr { return c.addr }

func (c *fakeClient) Disconnected() <-chan struct{} { return c.disconnected }

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.canceled {
		c.canceled = true
		close(c.disconnected)
	}

	return nil
}

func (c *fakeClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	return c.services, nil
}

func (c *fakeClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	return c.chars, nil
}

func (c *fakeClient) DiscoverDescriptors(filter []ble.UUID, char *ble.Characteristic) ([]*ble.Descriptor, error) {
	cccd := &ble.Descriptor{UUID: ble.UUID16(0x2902)}
	char.CCCD = cccd

	return []*ble.Descriptor{cccd}, nil
}

func (c *fakeClient) Subscribe(char *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler = h
	close(c.subscribed)

	return nil
}

func (c *fakeClient) Unsubscribe(char *ble.Characteristic, ind bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unsubscribed = true
	return nil
}

func (c *fakeClient) notify(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	h(data)
}

func (c *fakeClient) wasUnsubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.unsubscribed
}

type fakeConnector struct {
	client Client
	err    error
	dials  int
}

func (f *fakeConnector) Connect(ctx context.Context, addr ble.Addr, name string) (Client, error) {
	f.dials += 1
	return f.client, f.err
}
