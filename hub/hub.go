// Package hub fans readings out to live subscribers.
//
// Every subscriber owns a bounded buffer. Publish never blocks: a subscriber whose buffer
// is full when a reading arrives is disconnected with ErrSlowSubscriber rather than
// silently losing readings in the middle of its stream.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/heartrate"
)

var ErrSlowSubscriber = errors.New("subscriber buffer full")

var (
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heart_rate_bridge_subscribers",
		Help: "Number of live subscribers attached to the broadcast hub.",
	})
	droppedSubscribersCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heart_rate_bridge_slow_subscribers_dropped_total",
		Help: "Subscribers disconnected because their buffer was full.",
	})
	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heart_rate_bridge_readings_published_total",
	})
)

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		subscribersGauge,
		droppedSubscribersCounter,
		publishedCounter,
	)
}

// Snapshotter provides the reading sent to a subscriber when it attaches.
type Snapshotter interface {
	Read() (heartrate.Reading, bool)
}

type Options struct {
	// Per-subscriber buffer. Must hold at least the attach snapshot.
	BufferSize int `default:"16"`
}

type Hub struct {
	opts   Options
	latest Snapshotter

	// mu orders Subscribe against Publish so that the attach snapshot and the live stream
	// never gap or reorder. Detaching does not take it.
	mu      sync.Mutex
	lastSeq uint64

	subscribers *hashmap.Map[uint64, *Subscription]
	nextID      atomic.Uint64
}

func New(latest Snapshotter, opts Options) *Hub {
	defaults.SetDefaults(&opts)

	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}

	return &Hub{
		opts:        opts,
		latest:      latest,
		subscribers: hashmap.New[uint64, *Subscription](),
	}
}

// Subscribe attaches a new subscriber. If a reading has already been published, it is
// queued as the first item of the subscription.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:   h.nextID.Add(1),
		hub:  h,
		ch:   make(chan heartrate.Reading, h.opts.BufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.latest != nil {
		// a snapshot newer than the last publish is about to be broadcast; skip it so the
		// subscriber doesn't see it twice.
		if snap, ok := h.latest.Read(); ok && snap.Seq <= h.lastSeq {
			sub.ch <- snap
		}
	}

	h.subscribers.Set(sub.id, sub)
	subscribersGauge.Inc()

	log.Debug().
		Uint64("Subscriber", sub.id).
		Int("Subscribers", h.subscribers.Len()).
		Msg("hub: subscriber attached")

	return sub
}

// Publish delivers r to every attached subscriber without blocking.
func (h *Hub) Publish(r heartrate.Reading) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r.Seq > h.lastSeq {
		h.lastSeq = r.Seq
	}

	publishedCounter.Inc()

	h.subscribers.Range(func(id uint64, sub *Subscription) bool {
		select {
		case sub.ch <- r:
		default:
			log.Warn().
				Uint64("Subscriber", id).
				Int("BufferSize", cap(sub.ch)).
				Stringer("Reading", r).
				Msg("hub: subscriber fell behind, disconnecting it")

			sub.detach(ErrSlowSubscriber)
		}

		return true
	})
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	return h.subscribers.Len()
}

type Subscription struct {
	id  uint64
	hub *Hub

	// never closed; receivers must also watch done.
	ch   chan heartrate.Reading
	done chan struct{}

	once sync.Once
	err  error
}

func (s *Subscription) ID() uint64 {
	return s.id
}

// C yields readings in publish order.
func (s *Subscription) C() <-chan heartrate.Reading {
	return s.ch
}

// Done is closed once the subscription is detached, either by Close or by the hub.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the hub detached the subscription. It is nil while attached and after
// a regular Close.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close detaches the subscription. Safe to call more than once and concurrently with
// Publish.
func (s *Subscription) Close() {
	s.detach(nil)
}

func (s *Subscription) detach(err error) {
	s.once.Do(func() {
		s.err = err
		s.hub.subscribers.Del(s.id)
		close(s.done)

		subscribersGauge.Dec()

		if err != nil {
			droppedSubscribersCounter.Inc()
		}

		log.Debug().
			Uint64("Subscriber", s.id).
			Err(err).
			Msg("hub: subscriber detached")
	})
}
