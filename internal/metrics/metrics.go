// Package metrics defines the prometheus collectors for the host and the
// broker and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "devicehub"

// Host tracks a hosting session.
type Host struct {
	Peers   prometheus.Gauge
	Sources *prometheus.GaugeVec
	Kicks   prometheus.Counter
}

func NewHost(reg prometheus.Registerer) *Host {
	h := &Host{
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "peers",
			Help:      "Guests currently connected.",
		}),
		Sources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "sources",
			Help:      "Sources by lifecycle state.",
		}, []string{"state"}),
		Kicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "kicks_total",
			Help:      "Guests removed by the host.",
		}),
	}
	reg.MustRegister(h.Peers, h.Sources, h.Kicks)
	return h
}

// Broker tracks the identity broker.
type Broker struct {
	Identities prometheus.Gauge
	Signals    prometheus.Counter
	Rejected   *prometheus.CounterVec
	Throttled  prometheus.Counter
}

func NewBroker(reg prometheus.Registerer) *Broker {
	b := &Broker{
		Identities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "identities",
			Help:      "Identities currently bound.",
		}),
		Signals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "signals_relayed_total",
			Help:      "Signal messages relayed between identities.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "rejected_total",
			Help:      "Requests rejected by the broker, by error code.",
		}, []string{"code"}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "throttled_total",
			Help:      "Messages dropped by the per-connection rate limit.",
		}),
	}
	reg.MustRegister(b.Identities, b.Signals, b.Rejected, b.Throttled)
	return b
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Server serves /metrics on its own listener.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

func NewServer(addr string, g prometheus.Gatherer, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log,
	}
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("metrics enabled")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
