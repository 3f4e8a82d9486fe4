// Package server exposes the latest heart rate reading over HTTP and streams live readings
// to websocket subscribers.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcuadros/go-defaults"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/heartrate"
	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/hub"
)

type Reader interface {
	Read() (heartrate.Reading, bool)
}

type Subscriber interface {
	Subscribe() *hub.Subscription
}

type Options struct {
	StaticDir string `default:"./static"`
	// Deadline for a single websocket write.
	WriteTimeout time.Duration `default:"10s"`
	// How long a shutdown waits for in-flight requests.
	ShutdownTimeout time.Duration `default:"5s"`
}

type Server struct {
	latest   Reader
	hub      Subscriber
	gatherer prometheus.Gatherer
	opts     Options

	upgrader websocket.Upgrader

	// live websocket sessions; they are hijacked and invisible to http.Server.Shutdown.
	sessions sync.WaitGroup
}

func New(latest Reader, hub Subscriber, gatherer prometheus.Gatherer, opts Options) *Server {
	defaults.SetDefaults(&opts)

	return &Server{
		latest:   latest,
		hub:      hub,
		gatherer: gatherer,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/heart-rate", s.handleHeartRate)
	mux.HandleFunc("GET /api/ws", s.handleLive)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("/", http.FileServer(http.Dir(s.opts.StaticDir)))

	c := cors.New(cors.Options{
		AllowOriginFunc: func(string) bool { return true },
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	var h http.Handler = mux
	h = c.Handler(h)
	h = hlog.AccessHandler(accessLog)(h)
	h = hlog.NewHandler(log.Logger)(h)

	return h
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Debug().
		Str("Method", r.Method).
		Stringer("URL", r.URL).
		Str("Remote", r.RemoteAddr).
		Int("Status", status).
		Int("Size", size).
		Dur("Duration", duration).
		Msg("http: request served")
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully and waits for the
// websocket sessions to end.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)

	if err != nil {
		return err
	}

	return s.Serve(ctx, l)
}

// Serve is ListenAndServe on an existing listener, which it closes.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Stringer("ListenAddress", l.Addr()).Msg("Starting HTTP server")

		if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		log.Info().Msg("Shutting down HTTP server")

		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.sessions.Wait()

	return err
}
