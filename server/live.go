package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/hub"
)

const maxMessageSize = 512

var errSubscriptionClosed = errors.New("subscription closed")

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	// counted while http.Server still tracks the request: once hijacked, Shutdown no longer
	// waits for it.
	s.sessions.Add(1)
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)

	if err != nil {
		// Upgrade already replied with an error status.
		hlog.FromRequest(r).Debug().Err(err).Msg("ws: upgrade failed")
		return
	}

	logger := hlog.FromRequest(r).With().Str("Remote", r.RemoteAddr).Logger()

	s.serveSubscriber(r.Context(), conn, &logger)
}

// serveSubscriber runs one websocket session: a reader answering control messages and a
// writer forwarding hub readings. Whichever ends first tears down the other.
func (s *Server) serveSubscriber(ctx context.Context, conn *websocket.Conn, logger *zerolog.Logger) {
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer sub.Close()

	logger.Debug().Uint64("Subscriber", sub.ID()).Msg("ws: subscriber connected")

	w := &wsWriter{conn: conn, timeout: s.opts.WriteTimeout}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return readControl(conn, w, logger)
	})

	g.Go(func() error {
		err := forward(gctx, sub, w)

		w.close(closeMessageFor(ctx, err))
		// unblocks the reader if the peer never answers the close frame.
		conn.Close()

		return err
	})

	err := g.Wait()

	logger.Debug().
		Uint64("Subscriber", sub.ID()).
		Err(err).
		Msg("ws: subscriber disconnected")
}

func readControl(conn *websocket.Conn, w *wsWriter, logger *zerolog.Logger) error {
	conn.SetReadLimit(maxMessageSize)

	// control pings are answered by the default ping handler.
	for {
		kind, msg, err := conn.ReadMessage()

		if err != nil {
			return err
		}

		if kind == websocket.TextMessage && string(msg) == "ping" {
			if err := w.text([]byte("pong")); err != nil {
				return err
			}

			continue
		}

		logger.Trace().Int("Type", kind).Int("Size", len(msg)).Msg("ws: ignoring inbound message")
	}
}

func forward(ctx context.Context, sub *hub.Subscription, w *wsWriter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			if err := sub.Err(); err != nil {
				return err
			}

			return errSubscriptionClosed
		case r := <-sub.C():
			data, err := json.Marshal(r)

			if err != nil {
				return err
			}

			if err := w.text(data); err != nil {
				return err
			}
		}
	}
}

func closeMessageFor(ctx context.Context, err error) []byte {
	switch {
	case errors.Is(err, hub.ErrSlowSubscriber):
		return websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow")
	case ctx.Err() != nil:
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	default:
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
}

// wsWriter serializes data frames; the connection supports a single concurrent writer.
type wsWriter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *wsWriter) text(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsWriter) close(msg []byte) {
	// errors are expected here when the peer already went away.
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.timeout))
}
