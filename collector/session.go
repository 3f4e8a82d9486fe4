package collector

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/heartrate"
)

type State uint32

const (
	StateIdle State = iota
	StateConnecting
	StateDiscoveringService
	StateDiscoveringCharacteristic
	StateSubscribed
	StateStreaming
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateDiscoveringService:
		return "DiscoveringService"
	case StateDiscoveringCharacteristic:
		return "DiscoveringCharacteristic"
	case StateSubscribed:
		return "Subscribed"
	case StateStreaming:
		return "Streaming"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		panic("unknown session state: " + strconv.Itoa(int(s)))
	}
}

// Session drives a single connection to a heart rate sensor: connect, discover the heart
// rate measurement characteristic, subscribe and decode notifications until the stream
// ends.
type Session struct {
	device Device
	now    func() time.Time
	state  atomic.Uint32
}

func NewSession(device Device, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}

	return &Session{
		device: device,
		now:    now,
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(uint32(state))

	log.Trace().
		Str("Device", s.device.ID()).
		Stringer("State", state).
		Msg("session: state changed")
}

func (s *Session) fail(err error, disconnect bool) (<-chan heartrate.Reading, error) {
	s.setState(StateFailed)

	if disconnect {
		if dErr := s.device.Disconnect(); dErr != nil {
			log.Debug().Str("Device", s.device.ID()).Err(dErr).Msg("session: disconnect after failure")
		}
	}

	return nil, err
}

// Open connects and subscribes to the device. On success, decoded readings are delivered
// on the returned channel, which is closed once the notification stream ends or ctx is
// canceled. Malformed notifications are logged and skipped.
func (s *Session) Open(ctx context.Context) (<-chan heartrate.Reading, error) {
	if s.State() != StateIdle {
		panic("attempted to open collector.Session twice")
	}

	s.setState(StateConnecting)

	if !s.device.IsConnected() {
		log.Info().
			Str("Device", s.device.ID()).
			Str("Name", s.device.Name()).
			Msg("Connecting to device")

		if err := s.device.Connect(ctx); err != nil {
			return s.fail(fmt.Errorf("%w: %w", ErrConnection, err), false)
		}
	}

	s.setState(StateDiscoveringService)

	services, err := s.device.DiscoverServices(ctx, heartrate.ServiceUUID)

	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrServiceNotFound, err), true)
	}

	if len(services) == 0 {
		return s.fail(ErrServiceNotFound, true)
	}

	s.setState(StateDiscoveringCharacteristic)

	chars, err := services[0].DiscoverCharacteristics(ctx, heartrate.MeasurementUUID)

	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrCharacteristicNotFound, err), true)
	}

	if len(chars) == 0 {
		return s.fail(ErrCharacteristicNotFound, true)
	}

	notifications, err := chars[0].Notify(ctx)

	if err != nil {
		return s.fail(fmt.Errorf("%w: failed to subscribe to notifications: %w", ErrConnection, err), true)
	}

	s.setState(StateSubscribed)

	out := make(chan heartrate.Reading)
	go s.stream(ctx, notifications, out)

	return out, nil
}

func (s *Session) stream(ctx context.Context, notifications <-chan []byte, out chan<- heartrate.Reading) {
	defer close(out)

	s.setState(StateStreaming)

	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			return
		case data, ok := <-notifications:
			if !ok {
				log.Info().Str("Device", s.device.ID()).Msg("Notification stream ended")
				s.setState(StateClosed)
				return
			}

			reading, err := heartrate.Decode(data)

			if err != nil {
				malformedCounter.Inc()

				log.Warn().
					Str("Device", s.device.ID()).
					Hex("Data", data).
					Err(err).
					Msg("Skipping malformed heart rate measurement")

				continue
			}

			reading.Timestamp = s.now().Unix()

			log.Trace().
				Str("Device", s.device.ID()).
				Stringer("Reading", reading).
				Msg("session: decoded measurement")

			select {
			case out <- reading:
			case <-ctx.Done():
				s.setState(StateClosed)
				return
			}
		}
	}
}
