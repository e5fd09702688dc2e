package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pkt.systems/panelsync/core"
	"pkt.systems/panelsync/internal/appconfig"
	"pkt.systems/panelsync/internal/cdphost"
	"pkt.systems/panelsync/internal/codec"
	"pkt.systems/panelsync/internal/command"
	"pkt.systems/panelsync/internal/eventbus"
	"pkt.systems/panelsync/internal/logx"
	"pkt.systems/panelsync/internal/redisbus"
	"pkt.systems/panelsync/internal/wsbus"
	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

const paintInterval = 16 * time.Millisecond

var errConsoleDone = errors.New("console done")

type windowOptions struct {
	cfgPath string
	x, y    float64
	watch   bool
	stay    bool
}

func newWindowCmd() *cobra.Command {
	var opts windowOptions
	var backend, channel, host, wire string
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Open a panel window driven from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(opts.cfgPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("backend") {
				cfg.Channel.Backend = backend
			}
			if flags.Changed("channel") {
				cfg.Channel.Name = channel
			}
			if flags.Changed("host") {
				cfg.Window.Host = host
			}
			if flags.Changed("codec") {
				cfg.Channel.Codec = wire
			}
			if err := appconfig.Validate(cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWindow(ctx, cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&backend, "backend", "", "channel backend: memory, redis or websocket")
	cmd.Flags().StringVar(&channel, "channel", "", "channel name")
	cmd.Flags().StringVar(&host, "host", "", "window host: static or chrome")
	cmd.Flags().StringVar(&wire, "codec", "", "wire codec: json or cbor")
	cmd.Flags().Float64Var(&opts.x, "x", 0, "initial screen x of a static window")
	cmd.Flags().Float64Var(&opts.y, "y", 0, "initial screen y of a static window")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "apply grid changes from the config file while running")
	cmd.Flags().BoolVar(&opts.stay, "stay", false, "keep the window open after stdin ends")
	return cmd
}

// painter mirrors rendered panels into a visible surface.
type painter interface {
	Paint(ctx context.Context, panels []core.RenderedPanel) (int, error)
}

func runWindow(ctx context.Context, cfg appconfig.Config, opts windowOptions, in io.Reader, out io.Writer) error {
	logger := pslog.Ctx(ctx)
	grid, err := cfg.Grid.Schema()
	if err != nil {
		return err
	}
	wire, err := codec.ByName(cfg.Channel.Codec)
	if err != nil {
		return err
	}
	name, err := cfg.Channel.ChannelName()
	if err != nil {
		return err
	}

	var (
		host     core.Host
		geometry command.Geometry
		browser  *cdphost.Host
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Window.Host)) {
	case appconfig.HostChrome:
		browser, err = cdphost.Launch(ctx, cdphost.Options{
			RemoteURL: cfg.Browser.RemoteURL,
			ExecPath:  cfg.Browser.ExecPath,
			Headless:  cfg.Browser.Headless,
			NoSandbox: cfg.Browser.NoSandbox,
			StartURL:  cfg.Browser.StartURL,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer browser.Close()
		host = browser
	default:
		static := core.NewStaticHost(
			schema.Point{X: opts.x, Y: opts.y},
			schema.Size{Width: cfg.Window.ViewportWidth, Height: cfg.Window.ViewportHeight},
		)
		host = static
		geometry = static
	}

	channel, err := openChannel(ctx, cfg, name, logger)
	if err != nil {
		logx.WithChannel(logger, name, cfg.Channel.NormalizedBackend()).Warn("sync channel open failed", "err", err)
		channel = nil
	}

	mgr, err := core.NewManager(ctx, core.Config{
		Grid:         grid,
		PollInterval: cfg.Window.PollInterval(),
		ResizeHandle: cfg.Window.ResizeHandle,
		DefaultSize:  schema.Size{Width: cfg.Window.DefaultWidth, Height: cfg.Window.DefaultHeight},
		OutboxDepth:  cfg.Channel.OutboxDepth,
	}, core.Deps{Host: host, Channel: channel, Codec: wire, Logger: logger})
	if err != nil {
		if channel != nil {
			_ = channel.Close()
		}
		return err
	}
	defer func() { _ = mgr.Close() }()
	log := logx.WithWindow(logger, mgr.WindowID())
	ctx = logx.ContextWithWindowLogger(ctx, log, mgr.WindowID())
	log.Info("window open", "channel", name, "backend", cfg.Channel.NormalizedBackend(), "host", cfg.Window.Host, "degraded", mgr.Degraded())

	handler := command.NewHandler(mgr, out, command.HandlerConfig{Geometry: geometry})
	group, groupCtx := errgroup.WithContext(ctx)
	if browser != nil {
		group.Go(func() error {
			browser.Run(groupCtx, cfg.Window.PollInterval())
			return nil
		})
		group.Go(func() error {
			return paintLoop(groupCtx, mgr, browser, paintInterval)
		})
	}
	if opts.watch && opts.cfgPath != "" {
		if _, statErr := os.Stat(opts.cfgPath); statErr == nil {
			if err := appconfig.Watch(groupCtx, opts.cfgPath, func(next appconfig.Config) {
				applyGrid(groupCtx, mgr, next)
			}); err != nil {
				log.Warn("config watch unavailable", "err", err)
			}
		}
	}
	group.Go(func() error {
		return consoleLoop(groupCtx, handler, in, out, opts.stay)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, errConsoleDone) {
		return err
	}
	log.Info("window closed", "panels", len(mgr.Panels()))
	return nil
}

func openChannel(ctx context.Context, cfg appconfig.Config, name schema.ChannelName, logger pslog.Logger) (core.Channel, error) {
	switch cfg.Channel.NormalizedBackend() {
	case appconfig.BackendMemory:
		return eventbus.New(logger).Open(name), nil
	case appconfig.BackendRedis:
		ch, err := redisbus.Dial(ctx, redisbus.Options{
			Addr:   cfg.Redis.Addr,
			DB:     cfg.Redis.DB,
			Name:   name,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	case appconfig.BackendWebsocket:
		ch, err := wsbus.Dial(ctx, wsbus.Options{
			URL:     cfg.Relay.URL,
			Name:    name,
			Retries: cfg.Relay.DialRetries,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	default:
		return nil, fmt.Errorf("unsupported channel backend %q", cfg.Channel.Backend)
	}
}

// consoleLoop feeds stdin lines to the handler until quit, EOF or ctx ends.
func consoleLoop(ctx context.Context, handler *command.Handler, in io.Reader, out io.Writer, stay bool) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return err
			}
			if stay {
				<-ctx.Done()
				return nil
			}
			return errConsoleDone
		case line := <-lines:
			_, err := handler.Handle(ctx, line)
			if errors.Is(err, command.ErrQuit) {
				return errConsoleDone
			}
			if err != nil {
				_, _ = fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

// paintLoop repaints whenever the panel set changes or the window moves.
func paintLoop(ctx context.Context, mgr *core.Manager, surface painter, interval time.Duration) error {
	changes, cancel := mgr.Subscribe()
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := pslog.Ctx(ctx)
	dirty := true
	last := mgr.Tracker().Offset()
	for {
		if offset := mgr.Tracker().Offset(); offset != last {
			last = offset
			dirty = true
		}
		if dirty {
			if _, err := surface.Paint(ctx, mgr.Render(nil)); err != nil {
				log.Debug("paint failed", "err", err)
			} else {
				dirty = false
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			dirty = true
		case <-ticker.C:
		}
	}
}

// applyGrid replaces the live grid when a reloaded config changes it.
func applyGrid(ctx context.Context, mgr *core.Manager, cfg appconfig.Config) {
	log := pslog.Ctx(ctx)
	next, err := cfg.Grid.Schema()
	if err != nil {
		log.Warn("reloaded grid rejected", "err", err)
		return
	}
	if next == mgr.GridConfig() {
		return
	}
	patch := schema.GridConfigPatch{Enabled: &next.Enabled, Type: &next.Type, Size: &next.Size, Mode: &next.Mode}
	if _, err := mgr.UpdateGridConfig(patch); err != nil {
		log.Warn("grid update from config failed", "err", err)
	}
}
