package broker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/BioHazard786/devicehub/internal/metrics"
	"github.com/BioHazard786/devicehub/internal/signaling"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Options configure a broker.
type Options struct {
	Addr string

	// Per-connection message rate and burst.
	Rate  rate.Limit
	Burst int
}

// Default per-connection limits. Negotiating one connection takes an offer,
// an answer and a handful of candidates.
const (
	DefaultRate  = rate.Limit(20)
	DefaultBurst = 60
)

type Server struct {
	opts     Options
	hub      *Hub
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New creates a broker whose metrics are registered on reg.
func New(opts Options, reg *prometheus.Registry, log zerolog.Logger) *Server {
	if opts.Rate == 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst == 0 {
		opts.Burst = DefaultBurst
	}

	return &Server{
		opts:     opts,
		hub:      NewHub(metrics.NewBroker(reg), log),
		gatherer: reg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// any origin may connect
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router returns the HTTP routes of the broker.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.serveWs)
	r.Get("/health", health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade")
		return
	}

	c := &Client{
		hub:     s.hub,
		conn:    conn,
		remote:  r.RemoteAddr,
		limiter: rate.NewLimiter(s.opts.Rate, s.opts.Burst),
		send:    make(chan *signaling.Message, sendBuffer),
	}

	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Hub returns the broker's hub. Run starts it; tests that serve Router
// directly run it themselves.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("broker listening")
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
