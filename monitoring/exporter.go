package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/commerceblock/spvledger/ledgercfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds the wait for in-flight scrapes on Stop.
const shutdownTimeout = 5 * time.Second

// Exporter serves the ledger collector, with the go runtime and process
// collectors, on /metrics.
type Exporter struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg      *ledgercfg.Prometheus
	registry *prometheus.Registry

	listener net.Listener
	server   *http.Server

	wg sync.WaitGroup
}

// NewExporter registers the collectors for src.
func NewExporter(cfg *ledgercfg.Prometheus,
	src StatsSource) (*Exporter, error) {

	registry := prometheus.NewRegistry()
	err := registry.Register(NewCollector(src))
	if err != nil {
		return nil, err
	}
	err = registry.Register(collectors.NewGoCollector())
	if err != nil {
		return nil, err
	}
	err = registry.Register(collectors.NewProcessCollector(
		collectors.ProcessCollectorOpts{},
	))
	if err != nil {
		return nil, err
	}

	return &Exporter{
		cfg:      cfg,
		registry: registry,
	}, nil
}

// Start binds the listen address and serves scrapes in the background.
func (e *Exporter) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}

	listener, err := net.Listen("tcp", e.cfg.Listen)
	if err != nil {
		return fmt.Errorf("unable to listen for prometheus on %v: %w",
			e.cfg.Listen, err)
	}
	e.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		e.registry, promhttp.HandlerOpts{},
	))
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	log.Infof("Prometheus exporter started on %v/metrics", listener.Addr())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		err := e.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Prometheus exporter failed: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, nil before Start.
func (e *Exporter) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Stop shuts the endpoint down.
func (e *Exporter) Stop() error {
	if !e.started.Load() || !e.stopped.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	err := e.server.Shutdown(ctx)
	e.wg.Wait()

	log.Info("Prometheus exporter stopped")

	return err
}
