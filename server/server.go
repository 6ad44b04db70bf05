// Package server runs one replica of the key/value state: a part
// store, the state itself wrapped in an install driver, the gRPC
// state transfer service and an optional metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/config"
	"github.com/blockberries/statexfer/example/kv"
	statexfergrpc "github.com/blockberries/statexfer/grpc"
	"github.com/blockberries/statexfer/install"
	"github.com/blockberries/statexfer/store"
	badgerstore "github.com/blockberries/statexfer/store/badger"
	"github.com/blockberries/statexfer/types"
)

// ErrTransferActive is returned by writes while a transfer is being
// installed.
var ErrTransferActive = errors.New("server: transfer in progress")

// Server is one replica.
type Server struct {
	cfg     config.Config
	logger  hclog.Logger
	reg     *prometheus.Registry
	metrics *install.Metrics

	ps     store.PartStore
	state  *kv.State
	driver *install.Driver
	xfer   *statexfergrpc.Server

	// writeMu orders Put against Fetch.
	writeMu sync.Mutex

	mu      sync.Mutex
	gs      *grpc.Server
	lis     net.Listener
	httpSrv *http.Server
	closed  bool
}

// New opens the part store and restores the last checkpoint. An empty
// cfg.DataDir keeps the store in memory.
func New(ctx context.Context, cfg config.Config, logger hclog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	ps, err := badgerstore.Open(badgerstore.Options{
		Dir:      cfg.DataDir,
		InMemory: cfg.DataDir == "",
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	state, err := kv.Open(ctx, ps, cfg.KV.Buckets)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := install.NewMetrics(reg)
	driver := install.NewDriver(state,
		install.WithLogger(logger.Named("install")),
		install.WithMetrics(metrics),
	)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		reg:     reg,
		metrics: metrics,
		ps:      ps,
		state:   state,
		driver:  driver,
		xfer: statexfergrpc.NewServer(driver,
			statexfergrpc.WithLogger(logger.Named("grpc")),
			statexfergrpc.WithRateLimit(cfg.Transfer.RateLimit, cfg.Transfer.Burst),
		),
	}
	if seq, err := driver.SeqNo(); err == nil {
		logger.Info("restored checkpoint", "seq", uint64(seq), "keys", state.Len())
	}
	return s, nil
}

// Start begins serving on cfg.Listen and, when configured,
// cfg.Metrics.Listen. It returns once both listeners are bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("server: closed")
	}
	if s.gs != nil {
		return fmt.Errorf("server: already started")
	}

	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Listen, err)
	}
	gs := grpc.NewServer()
	s.xfer.Register(gs)

	if s.cfg.Metrics.Listen != "" {
		mlis, err := net.Listen("tcp", s.cfg.Metrics.Listen)
		if err != nil {
			_ = lis.Close()
			return fmt.Errorf("server: listen metrics %s: %w", s.cfg.Metrics.Listen, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
		s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := s.httpSrv.Serve(mlis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server stopped", "error", err)
			}
		}()
		s.logger.Info("serving metrics", "addr", mlis.Addr().String())
	}

	s.gs, s.lis = gs, lis
	go func() {
		if err := gs.Serve(lis); err != nil {
			s.logger.Error("grpc server stopped", "error", err)
		}
	}()
	s.logger.Info("serving state transfer", "addr", lis.Addr().String())
	return nil
}

// Addr returns the bound gRPC address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Registry returns the metrics registry.
func (s *Server) Registry() *prometheus.Registry { return s.reg }

// Metrics returns the install collectors.
func (s *Server) Metrics() *install.Metrics { return s.metrics }

// Driver returns the install driver wrapping the state.
func (s *Server) Driver() *install.Driver { return s.driver }

// Get reads a key from the working state.
func (s *Server) Get(key []byte) ([]byte, bool) { return s.state.Get(key) }

// Put writes pairs and checkpoints them at the next sequence number.
// A nil value deletes the key.
func (s *Server) Put(ctx context.Context, pairs map[string][]byte) (*types.StateDescriptor, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if p := s.driver.Phase(); p == install.Receiving || p == install.Finalizing {
		return nil, ErrTransferActive
	}

	next := types.SeqNo(1)
	if seq, err := s.driver.SeqNo(); err == nil {
		next = seq + 1
	} else if !errors.Is(err, statexfer.ErrStateUnavailable) {
		return nil, err
	}

	for k, v := range pairs {
		if v == nil {
			s.state.Delete([]byte(k))
			continue
		}
		s.state.Set([]byte(k), v)
	}
	desc, err := s.state.Checkpoint(ctx, next)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("checkpoint", "seq", uint64(desc.Seq), "keys", len(pairs))
	return desc, nil
}

// Fetch installs the checkpoint served by the replica at addr.
func (s *Server) Fetch(ctx context.Context, addr string) (*types.StateDescriptor, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.Transfer.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Transfer.Timeout)
		defer cancel()
	}

	client, err := statexfergrpc.Dial(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	start := time.Now()
	desc, err := install.Transfer(ctx, s.driver, client, s.cfg.Transfer.Batch, s.cfg.Transfer.Capacity)
	if err != nil {
		s.logger.Error("fetch failed", "peer", addr, "error", err)
		return nil, err
	}
	s.logger.Info("fetched state", "peer", addr, "seq", uint64(desc.Seq),
		"transfer", s.driver.TransferID(), "took", time.Since(start))
	return desc, nil
}

// Close stops serving and closes the part store.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.gs != nil {
		s.gs.GracefulStop()
	}
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(ctx)
	}
	return s.ps.Close()
}
