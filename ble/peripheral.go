package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/collector"
)

// notifications arrive roughly once per second; the buffer only absorbs scheduling jitter.
const notificationBuffer = 32

var errNotConnected = errors.New("device is not connected")

var droppedNotificationsCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "heart_rate_bridge_ble_dropped_notifications_total",
	Help: "Notifications dropped because the consumer was not keeping up.",
})

type connector interface {
	Connect(ctx context.Context, addr ble.Addr, name string) (Client, error)
}

type peripheral struct {
	conn connector
	addr ble.Addr
	name string

	mu     sync.Mutex
	client Client
}

func newPeripheral(conn connector, addr ble.Addr, name string) *peripheral {
	return &peripheral{
		conn: conn,
		addr: addr,
		name: name,
	}
}

func (p *peripheral) ID() string {
	return addrKey(p.addr)
}

func (p *peripheral) Name() string {
	return p.name
}

func (p *peripheral) current() Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.client
}

func (p *peripheral) IsConnected() bool {
	c := p.current()

	if c == nil {
		return false
	}

	select {
	case <-c.Disconnected():
		return false
	default:
		return true
	}
}

func (p *peripheral) Connect(ctx context.Context) error {
	c, err := p.conn.Connect(ctx, p.addr, p.name)

	if err != nil {
		return err
	}

	p.mu.Lock()
	p.client = c
	p.mu.Unlock()

	return nil
}

func (p *peripheral) Disconnect() error {
	c := p.current()

	if c == nil {
		return nil
	}

	return c.CancelConnection()
}

func (p *peripheral) DiscoverServices(ctx context.Context, uuid string) ([]collector.Service, error) {
	c := p.current()

	if c == nil {
		return nil, errNotConnected
	}

	u, err := ble.Parse(uuid)

	if err != nil {
		return nil, fmt.Errorf("invalid service uuid %q: %w", uuid, err)
	}

	svcs, err := callWithContext(ctx, func() ([]*ble.Service, error) {
		return c.DiscoverServices([]ble.UUID{u})
	})

	if err != nil {
		return nil, err
	}

	out := make([]collector.Service, 0, len(svcs))

	for _, s := range svcs {
		if s.UUID.Equal(u) {
			out = append(out, &service{client: c, svc: s})
		}
	}

	return out, nil
}

type service struct {
	client Client
	svc    *ble.Service
}

func (s *service) DiscoverCharacteristics(ctx context.Context, uuid string) ([]collector.Characteristic, error) {
	u, err := ble.Parse(uuid)

	if err != nil {
		return nil, fmt.Errorf("invalid characteristic uuid %q: %w", uuid, err)
	}

	chars, err := callWithContext(ctx, func() ([]*ble.Characteristic, error) {
		return s.client.DiscoverCharacteristics([]ble.UUID{u}, s.svc)
	})

	if err != nil {
		return nil, err
	}

	out := make([]collector.Characteristic, 0, len(chars))

	for _, c := range chars {
		if c.UUID.Equal(u) {
			out = append(out, &characteristic{client: s.client, char: c})
		}
	}

	return out, nil
}

type characteristic struct {
	client Client
	char   *ble.Characteristic
}

// Notify enables notifications on the characteristic. The returned channel is closed once
// the connection drops or ctx is done.
func (c *characteristic) Notify(ctx context.Context) (<-chan []byte, error) {
	// Subscribe writes the CCCD, which is only known after descriptor discovery.
	if c.char.CCCD == nil {
		_, err := callWithContext(ctx, func() ([]*ble.Descriptor, error) {
			return c.client.DiscoverDescriptors(nil, c.char)
		})

		if err != nil {
			return nil, fmt.Errorf("failed to discover descriptors: %w", err)
		}
	}

	out := make(chan []byte, notificationBuffer)

	var mu sync.Mutex
	closed := false

	handler := func(data []byte) {
		// go-ble reuses the buffer after the handler returns.
		buf := make([]byte, len(data))
		copy(buf, data)

		mu.Lock()
		defer mu.Unlock()

		if closed {
			return
		}

		select {
		case out <- buf:
		default:
			droppedNotificationsCounter.Inc()
			log.Warn().
				Stringer("Addr", c.client.Addr()).
				Msg("ble: notification buffer full, dropping notification")
		}
	}

	_, err := callWithContext(ctx, func() (struct{}, error) {
		return struct{}{}, c.client.Subscribe(c.char, false, handler)
	})

	if err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			if err := c.client.Unsubscribe(c.char, false); err != nil {
				log.Debug().Stringer("Addr", c.client.Addr()).Err(err).Msg("ble: failed to unsubscribe")
			}
		case <-c.client.Disconnected():
		}

		mu.Lock()
		defer mu.Unlock()

		closed = true
		close(out)
	}()

	return out, nil
}
