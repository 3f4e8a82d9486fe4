package ble

import (
	"context"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/collector"
)

var (
	successfulConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heart_rate_bridge_ble_successful_connections_total",
	})
	failedConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heart_rate_bridge_ble_failed_connections_total",
	})
	connectionsFromPoolCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heart_rate_bridge_ble_reused_connections_total",
	})
	disconnectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heart_rate_bridge_ble_disconnections_total",
	})
)

type pooledConnection struct {
	client Client
	name   string
}

type connectionPool struct {
	mu sync.Mutex

	connections map[string]pooledConnection
}

func initConnectionPool() *connectionPool {
	return &connectionPool{
		connections: make(map[string]pooledConnection),
	}
}

func addrKey(addr ble.Addr) string {
	return strings.ToLower(addr.String())
}

// Connect dials addr, or returns the pooled connection to it when connection persistence
// is enabled.
func (h *Handle) Connect(ctx context.Context, addr ble.Addr, name string) (Client, error) {
	if h.connPool == nil {
		c, err := ble.Dial(ctx, addr)

		if err == nil {
			successfulConnectionsCounter.Inc()
		} else {
			failedConnectionsCounter.Inc()
		}

		return c, err
	}

	key := addrKey(addr)

	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	if conn, ok := h.connPool.connections[key]; ok {
		connectionsFromPoolCounter.Inc()
		log.Trace().Str("Addr", key).Msg("ble: reusing connection from connection pool")
		return conn.client, nil
	}

	client, err := ble.Dial(ctx, addr)

	if err != nil {
		failedConnectionsCounter.Inc()
		return nil, err
	}

	successfulConnectionsCounter.Inc()

	h.connPool.connections[key] = pooledConnection{client: client, name: name}
	log.Debug().Str("Addr", key).Msg("ble: successfully opened new connection to device")

	// remove the entry from the connection pool once the connection breaks.
	go func() {
		<-client.Disconnected()

		disconnectsCounter.Inc()
		log.Debug().Str("Addr", key).Msg("ble: connection with device closed, cleaning up")

		h.connPool.mu.Lock()
		defer h.connPool.mu.Unlock()

		if conn, ok := h.connPool.connections[key]; ok && conn.client == client {
			delete(h.connPool.connections, key)
		}
	}()

	return client, nil
}

// ConnectedDevicesWithService returns the pooled connections whose GATT database exposes
// the given service. Without a connection pool there is never a connected device.
func (h *Handle) ConnectedDevicesWithService(ctx context.Context, service string) ([]collector.Device, error) {
	if h.connPool == nil {
		return nil, nil
	}

	uuid, err := ble.Parse(service)

	if err != nil {
		return nil, err
	}

	h.connPool.mu.Lock()
	conns := make([]pooledConnection, 0, len(h.connPool.connections))

	for _, conn := range h.connPool.connections {
		conns = append(conns, conn)
	}

	h.connPool.mu.Unlock()

	var devices []collector.Device

	for _, conn := range conns {
		client := conn.client

		svcs, err := callWithContext(ctx, func() ([]*ble.Service, error) {
			return client.DiscoverServices([]ble.UUID{uuid})
		})

		if err != nil {
			log.Debug().
				Stringer("Addr", client.Addr()).
				Err(err).
				Msg("ble: failed to query services of connected device")

			continue
		}

		if len(svcs) == 0 {
			continue
		}

		p := newPeripheral(h, client.Addr(), conn.name)
		p.client = client

		devices = append(devices, p)
	}

	return devices, nil
}

// Clear the connection pool (if any) and close all connections.
func (h *Handle) DisconnectAll() {
	if h.connPool == nil {
		return
	}

	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	for key, conn := range h.connPool.connections {
		if err := conn.client.CancelConnection(); err != nil {
			log.Debug().Str("Addr", key).Err(err).Msg("ble: failed to cancel connection")
		}
	}

	h.connPool.connections = make(map[string]pooledConnection)
}

// callWithContext runs a blocking GATT call and gives up waiting for it once ctx is done.
// go-ble has no cancellation for these calls, so the call itself may outlive ctx.
func callWithContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	ch := make(chan result, 1)

	go func() {
		val, err := call()
		ch <- result{val, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		return res.val, res.err
	}
}
