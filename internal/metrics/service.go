package metrics

import (
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultPath = "/metrics"
)

// Service serves a Prometheus registry over HTTP.
type Service struct {
	s  *http.Server
	ln net.Listener
}

// NewService listens on addr and serves gatherer at DefaultPath.
func NewService(addr string, gatherer prometheus.Gatherer) (*Service, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(DefaultPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Service{
		s:  &http.Server{Handler: mux},
		ln: ln,
	}, nil
}

// Serve blocks until Close is called.
func (s *Service) Serve() error {
	if err := s.s.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Service) Close() error {
	return s.s.Close()
}
