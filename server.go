// Package panelsync composes the relay server that lets panel windows in
// separate processes share a sync channel.
package panelsync

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"pkt.systems/panelsync/httpapi"
	"pkt.systems/panelsync/internal/codec"
	"pkt.systems/panelsync/internal/eventbus"
	"pkt.systems/pslog"
)

// Server composes the relay services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Addr() string
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	HTTP httpapi.Config
	// Codec names the wire codec the traffic tap decodes (json or cbor).
	Codec string
}

// ServerOption customizes the compositor.
type ServerOption func(*serverOptions)

type serverOptions struct {
	listener net.Listener
	bus      *eventbus.Bus
	logger   pslog.Logger
}

// WithListener serves on an existing listener instead of cfg.HTTP.Addr.
func WithListener(ln net.Listener) ServerOption {
	return func(o *serverOptions) { o.listener = ln }
}

// WithLogger sets the logger the traffic hub and default bus report to.
func WithLogger(logger pslog.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = logger }
}

// WithBus fans relay traffic out over an existing bus.
func WithBus(bus *eventbus.Bus) ServerOption {
	return func(o *serverOptions) { o.bus = bus }
}

// New constructs a relay server.
func New(cfg ServerConfig, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.listener == nil && cfg.HTTP.Addr == "" {
		return nil, errors.New("relay addr is required")
	}
	wire, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if options.bus == nil {
		options.bus = eventbus.New(options.logger)
	}
	hub := httpapi.NewHub(cfg.HTTP.HistorySize, wire, options.logger)
	return &compositeServer{
		cfg:      cfg,
		listener: options.listener,
		httpSrv:  httpapi.NewServer(cfg.HTTP, options.bus, hub),
	}, nil
}

type compositeServer struct {
	cfg      ServerConfig
	listener net.Listener
	httpSrv  *httpapi.Server
	logger   pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	if s.listener == nil {
		ln, err := net.Listen("tcp", s.cfg.HTTP.Addr)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.listener = ln
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(s.ctx)
	s.group = group
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	listener := s.listener
	s.mu.Unlock()

	log := s.logger
	log.Info("server start", "http_addr", listener.Addr().String(), "http_base_path", s.cfg.HTTP.BasePath, "history", s.cfg.HTTP.HistorySize)
	group.Go(func() error {
		if err := httpapi.Serve(groupCtx, listener, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			return err
		}
		return nil
	})
	return nil
}

func (s *compositeServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.HTTP.Addr
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	group := s.group
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	if err := group.Wait(); err != nil {
		pslog.Ctx(s.ctx).Error("server stopped", "err", err)
		return err
	}
	return nil
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	group := s.group
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	cancel()
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case err := <-done:
		log.Info("server stopped")
		return err
	}
}
