// Package cdphost backs a window with a real browser tab driven over the
// Chrome DevTools Protocol. It samples the tab's screen geometry for the
// offset tracker and paints rendered panels into the page.
package cdphost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"pkt.systems/panelsync/core"
	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

// geometryScript reads the content-area origin and inner extent of the tab.
// screenX/screenY address the outer frame; the chrome height is folded in so
// the offset names the top-left of the viewport.
const geometryScript = `(() => ({
	x: window.screenX + (window.outerWidth - window.innerWidth) / 2,
	y: window.screenY + (window.outerHeight - window.innerHeight),
	w: window.innerWidth,
	h: window.innerHeight
}))()`

const paintScript = `((panels) => {
	let root = document.getElementById('panelsync-root');
	if (!root) {
		root = document.createElement('div');
		root.id = 'panelsync-root';
		document.body.appendChild(root);
	}
	const seen = new Set();
	for (const p of panels) {
		seen.add(p.id);
		let el = document.getElementById('panel-' + p.id);
		if (!el) {
			el = document.createElement('div');
			el.id = 'panel-' + p.id;
			el.className = 'panelsync-panel';
			root.appendChild(el);
		}
		el.style.position = p.position;
		el.style.left = p.left + 'px';
		el.style.top = p.top + 'px';
		el.style.width = p.width + 'px';
		el.style.height = p.height + 'px';
		el.style.zIndex = String(p.z);
		el.dataset.kind = p.kind;
		el.textContent = p.content;
	}
	for (const el of Array.from(root.children)) {
		if (!seen.has(el.id.slice(6))) el.remove();
	}
	return panels.length;
})(%s)`

// Evaluator runs a script in the browser tab and decodes its result into out.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, out any) error
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, script string, out any) error

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, script string, out any) error {
	return f(ctx, script, out)
}

type tabEvaluator struct {
	tab context.Context
}

func (e tabEvaluator) Evaluate(ctx context.Context, script string, out any) error {
	runCtx, cancel := context.WithCancel(e.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, chromedp.Evaluate(script, out))
}

type geometry struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Host is a core.Host whose geometry is sampled from a browser tab. Offset
// and Viewport return the last sample; Refresh takes a new one.
type Host struct {
	eval   Evaluator
	log    pslog.Logger
	cancel func()

	mu       sync.Mutex
	offset   schema.Point
	viewport schema.Size
	sampled  bool
}

// New returns a host that samples through eval.
func New(eval Evaluator, logger pslog.Logger) *Host {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Host{eval: eval, log: logger, cancel: func() {}}
}

// Options configures Launch.
type Options struct {
	// RemoteURL attaches to a running browser's DevTools websocket. Empty
	// starts a new browser process.
	RemoteURL string
	ExecPath  string
	Headless  bool
	// NoSandbox disables the Chrome sandbox, which containers running as
	// root require.
	NoSandbox bool
	StartURL  string
	Logger    pslog.Logger
}

// Launch opens a browser tab, navigates it to StartURL and takes the first
// geometry sample. Close releases the tab and, when launched, the browser.
func Launch(ctx context.Context, opts Options) (*Host, error) {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-gpu", opts.Headless),
		)
		if opts.NoSandbox {
			execOpts = append(execOpts, chromedp.NoSandbox)
		}
		if opts.ExecPath != "" {
			execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), execOpts...)
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel).Printf))
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	startURL := opts.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	if err := chromedp.Run(tabCtx, chromedp.Navigate(startURL)); err != nil {
		cancel()
		return nil, fmt.Errorf("open browser tab: %w", err)
	}
	h := New(tabEvaluator{tab: tabCtx}, logger.With("host", "chrome"))
	h.cancel = cancel
	if err := h.Refresh(ctx); err != nil {
		cancel()
		return nil, err
	}
	logger.Info("browser tab ready", "url", startURL, "remote", opts.RemoteURL != "")
	return h, nil
}

// Offset implements core.Host.
func (h *Host) Offset() schema.Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offset
}

// Viewport implements core.Host.
func (h *Host) Viewport() schema.Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.viewport
}

// Sampled reports whether at least one geometry sample succeeded.
func (h *Host) Sampled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sampled
}

// Refresh samples the tab geometry. On error the previous sample is kept.
func (h *Host) Refresh(ctx context.Context) error {
	var g geometry
	if err := h.eval.Evaluate(ctx, geometryScript, &g); err != nil {
		return fmt.Errorf("sample window geometry: %w", err)
	}
	if g.W < 0 || g.H < 0 {
		return fmt.Errorf("sample window geometry: negative viewport %vx%v", g.W, g.H)
	}
	h.mu.Lock()
	h.offset = schema.Point{X: g.X, Y: g.Y}
	h.viewport = schema.Size{Width: g.W, Height: g.H}
	h.sampled = true
	h.mu.Unlock()
	return nil
}

// Run refreshes the geometry every interval until ctx is done. Failed samples
// are logged and retried on the next tick.
func (h *Host) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.Refresh(ctx)
			switch {
			case err != nil && !failing:
				failing = true
				h.log.Warn("geometry sampling failed", "err", err)
			case err == nil && failing:
				failing = false
				h.log.Info("geometry sampling recovered")
			}
		}
	}
}

type paintedPanel struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Left     float64 `json:"left"`
	Top      float64 `json:"top"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Position string  `json:"position"`
	Z        int     `json:"z"`
	Content  string  `json:"content"`
}

// Paint mirrors panels into the tab's DOM, removing elements for panels that
// are no longer present. It returns the number of panels painted.
func (h *Host) Paint(ctx context.Context, panels []core.RenderedPanel) (int, error) {
	out := make([]paintedPanel, 0, len(panels))
	for _, rp := range panels {
		if !paintable(rp) {
			h.log.Warn("skipping panel with non-finite geometry", "panel", rp.Panel.ID)
			continue
		}
		content := string(rp.Panel.ContentID)
		if s, ok := rp.Content.(string); ok {
			content = s
		}
		out = append(out, paintedPanel{
			ID:       string(rp.Panel.ID),
			Kind:     string(rp.Panel.Kind),
			Left:     rp.Left,
			Top:      rp.Top,
			Width:    rp.Panel.Width,
			Height:   rp.Panel.Height,
			Position: rp.Position,
			Z:        rp.ZIndex,
			Content:  content,
		})
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return 0, err
	}
	var painted int
	if err := h.eval.Evaluate(ctx, fmt.Sprintf(paintScript, payload), &painted); err != nil {
		return 0, fmt.Errorf("paint panels: %w", err)
	}
	return painted, nil
}

func paintable(rp core.RenderedPanel) bool {
	for _, v := range []float64{rp.Left, rp.Top, rp.Panel.Width, rp.Panel.Height} {
		if !schema.Finite(v) {
			return false
		}
	}
	return true
}

// Close releases the browser tab.
func (h *Host) Close() {
	h.cancel()
}
