package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/campuslife/bookingagent/internal/config"
)

// hostBinding is the CDP binding the injected scripts post envelopes through
// when the surface is a locally driven browser rather than an app webview.
const hostBinding = "__hostPostMessage"

// LocalPage drives a local Chrome tab over CDP and satisfies the page
// connection interface the bridge expects. It exists for development and
// end-to-end runs where no embedded app surface is attached.
type LocalPage struct {
	logger *zap.Logger
	cfg    *config.BrowserConfig

	mu      sync.Mutex
	handler func([]byte)

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
}

func NewLocalPage(cfg *config.BrowserConfig, logger *zap.Logger) *LocalPage {
	return &LocalPage{
		logger: logger.Named("localpage"),
		cfg:    cfg,
	}
}

// SetHandler installs the callback receiving each envelope posted by the
// page. Must be called before Start.
func (p *LocalPage) SetHandler(h func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Start launches the browser, opens a tab and registers the host binding.
// The binding survives navigations, so it is installed once.
func (p *LocalPage) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if p.cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		p.logger.Debug(fmt.Sprintf(format, args...))
	}))

	if err := chromedp.Run(tabCtx, runtime.AddBinding(hostBinding)); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("launch local page: %w", err)
	}

	envelopes := p.startEnvelopePump(tabCtx)

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		binding, ok := ev.(*runtime.EventBindingCalled)
		if !ok || binding.Name != hostBinding {
			return
		}
		select {
		case envelopes <- []byte(binding.Payload):
		default:
			p.logger.Warn("Envelope queue full, dropping message")
		}
	})

	p.allocCancel = allocCancel
	p.ctx = tabCtx
	p.cancel = tabCancel
	p.started = true
	p.logger.Info("Local browser surface started", zap.Bool("headless", p.cfg.Headless))
	return nil
}

// startEnvelopePump starts the single consumer feeding the handler. One
// goroutine keeps envelope order, so same-type waits in the bridge resolve
// in posting order; the buffer unblocks the CDP event loop.
func (p *LocalPage) startEnvelopePump(ctx context.Context) chan<- []byte {
	envelopes := make(chan []byte, 256)
	go func() {
		for {
			select {
			case payload := <-envelopes:
				p.mu.Lock()
				handler := p.handler
				p.mu.Unlock()
				if handler != nil {
					handler(payload)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return envelopes
}

// Inject evaluates script in the page. Scripts terminate with a plain
// boolean so evaluation never trips on non-serializable results.
func (p *LocalPage) Inject(script string) error {
	p.mu.Lock()
	ctx := p.ctx
	started := p.started
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("local page not started")
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// Close tears down the tab and the browser process.
func (p *LocalPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.cancel()
	p.allocCancel()
	p.started = false
	return nil
}
