package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/heartrate"
)

type fakeCharacteristic struct {
	notifications chan []byte
	err           error
}

func (c *fakeCharacteristic) Notify(ctx context.Context) (<-chan []byte, error) {
	if c.err != nil {
		return nil, c.err
	}

	return c.notifications, nil
}

type fakeService struct {
	chars []Characteristic
	err   error
}

func (s *fakeService) DiscoverCharacteristics(ctx context.Context, uuid string) ([]Characteristic, error) {
	if uuid != heartrate.MeasurementUUID {
		return nil, fmt.Errorf("unexpected characteristic %q", uuid)
	}

	return s.chars, s.err
}

type fakeDevice struct {
	id         string
	connected  bool
	connectErr error
	services   []Service
	serviceErr error

	// called on every Connect, before the outcome is decided.
	onConnect func()

	mu          sync.Mutex
	connects    int
	disconnects int
}

func newStreamingDevice(id string, notifications chan []byte) *fakeDevice {
	return &fakeDevice{
		id: id,
		services: []Service{
			&fakeService{chars: []Characteristic{&fakeCharacteristic{notifications: notifications}}},
		},
	}
}

func (d *fakeDevice) ID() string   { return d.id }
func (d *fakeDevice) Name() string { return "fake-" + d.id }

func (d *fakeDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.connected
}

func (d *fakeDevice) Connect(ctx context.Context) error {
	if d.onConnect != nil {
		d.onConnect()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.connects += 1

	if d.connectErr != nil {
		return d.connectErr
	}

	d.connected = true
	return nil
}

func (d *fakeDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disconnects += 1
	d.connected = false
	return nil
}

func (d *fakeDevice) DiscoverServices(ctx context.Context, uuid string) ([]Service, error) {
	if uuid != heartrate.ServiceUUID {
		return nil, fmt.Errorf("unexpected service %q", uuid)
	}

	return d.services, d.serviceErr
}

func (d *fakeDevice) counts() (connects, disconnects int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.connects, d.disconnects
}

// fakeAdapter hands out scripted devices, one per scan. A nil entry produces a scan that
// ends without finding anything. A scan that found a device keeps running until its
// context is canceled, and takes stopDelay to wind down like a real radio.
type fakeAdapter struct {
	mu           sync.Mutex
	connected    []Device
	connectedErr error
	scans        []Device
	scanErr      error
	stopDelay    time.Duration

	listCalls int
	scanCalls int
	scanning  bool
}

func (a *fakeAdapter) ConnectedDevicesWithService(ctx context.Context, service string) ([]Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.listCalls += 1
	return a.connected, a.connectedErr
}

func (a *fakeAdapter) DiscoverDevices(ctx context.Context, service string) (<-chan Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.scanCalls += 1

	if a.scanErr != nil {
		return nil, a.scanErr
	}

	ch := make(chan Device, 1)

	if len(a.scans) > 0 {
		next := a.scans[0]
		a.scans = a.scans[1:]

		if next != nil {
			ch <- next
			a.scanning = true

			go func() {
				<-ctx.Done()
				time.Sleep(a.stopDelay)

				a.mu.Lock()
				a.scanning = false
				a.mu.Unlock()

				close(ch)
			}()

			return ch, nil
		}
	}

	close(ch)
	return ch, nil
}

func (a *fakeAdapter) isScanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.scanning
}

func (a *fakeAdapter) calls() (list, scan int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.listCalls, a.scanCalls
}

// recorder stands in for both the store and the hub and records the order of calls.
type recorder struct {
	mu        sync.Mutex
	events    []string
	published chan heartrate.Reading
}

func newRecorder() *recorder {
	return &recorder{published: make(chan heartrate.Reading, 64)}
}

func (r *recorder) Write(reading heartrate.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, fmt.Sprintf("write:%d", reading.Seq))
}

func (r *recorder) Publish(reading heartrate.Reading) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf("publish:%d", reading.Seq))
	r.mu.Unlock()

	r.published <- reading
}

func (r *recorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.events...)
}
