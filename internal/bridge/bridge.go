// Package bridge implements the typed request/response correlation layer
// between the host process and an embedded web content surface. The surface
// delivers Envelopes over a one-way channel; the bridge matches them against
// pending waits registered by callers that injected a script.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// jsonFast decodes inbound envelopes on the hot path.
var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoPage is returned by a PageConn when no embedded surface is attached.
var ErrNoPage = errors.New("bridge: no embedded page connected")

// TimeoutError is returned when no matching envelope arrives within the wait budget.
type TimeoutError struct {
	ExpectedType string
	Timeout      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: no %s received within %s", e.ExpectedType, e.Timeout)
}

// PageConn abstracts the transport that can execute a script inside the
// embedded page. Implementations: the websocket server, the chromedp-backed
// local page, and test fakes.
type PageConn interface {
	Inject(script string) error
}

// CookieSink receives cookies arriving on the SYNC_COOKIES side channel.
type CookieSink interface {
	SaveCookies(ctx context.Context, cookies string) error
}

// pendingWait is an outstanding request. It is resolved or abandoned exactly
// once; after resolution it is removed from the active set.
type pendingWait struct {
	id            uint64
	correlationID string
	ch            chan json.RawMessage
}

// Bridge correlates injected scripts with the envelopes they produce. One
// Bridge serves one conversation session driving one embedded page; it is not
// a process-wide singleton.
type Bridge struct {
	logger  *zap.Logger
	conn    PageConn
	cookies CookieSink

	mu     sync.Mutex
	waits  map[string][]*pendingWait // keyed by expected type, FIFO per type
	nextID uint64
}

// New creates a Bridge bound to a page connection. cookies may be nil, in
// which case SYNC_COOKIES envelopes are logged and dropped.
func New(logger *zap.Logger, conn PageConn, cookies CookieSink) *Bridge {
	return &Bridge{
		logger:  logger.Named("bridge"),
		conn:    conn,
		cookies: cookies,
		waits:   make(map[string][]*pendingWait),
	}
}

// Inject executes script in the embedded page without waiting for any
// envelope. Used for navigation and fire-and-forget maintenance scripts.
func (b *Bridge) Inject(script string) error {
	if b.conn == nil {
		return ErrNoPage
	}
	return b.conn.Inject(script)
}

// Unmarshal decodes an envelope payload with the same codec the bridge uses
// for inbound traffic.
func Unmarshal(payload []byte, v any) error {
	return jsonFast.Unmarshal(payload, v)
}

// InjectAndObserve executes script in the embedded page and blocks until the
// first envelope of expectedType arrives, the timeout elapses, or ctx is
// cancelled. The returned payload is the raw envelope payload.
func (b *Bridge) InjectAndObserve(ctx context.Context, script, expectedType string, timeout time.Duration) (json.RawMessage, error) {
	return b.inject(ctx, script, expectedType, "", timeout)
}

// InjectAndObserveCorrelated stamps a fresh correlation ID into the script via
// build and only accepts an envelope carrying that same ID. This removes the
// ambiguity of two simultaneous waits for one envelope type.
func (b *Bridge) InjectAndObserveCorrelated(ctx context.Context, build func(cid string) string, expectedType string, timeout time.Duration) (json.RawMessage, error) {
	cid := uuid.New().String()
	return b.inject(ctx, build(cid), expectedType, cid, timeout)
}

func (b *Bridge) inject(ctx context.Context, script, expectedType, cid string, timeout time.Duration) (json.RawMessage, error) {
	w := &pendingWait{correlationID: cid, ch: make(chan json.RawMessage, 1)}

	b.mu.Lock()
	b.nextID++
	w.id = b.nextID
	b.waits[expectedType] = append(b.waits[expectedType], w)
	b.mu.Unlock()

	defer b.remove(expectedType, w.id)

	b.logger.Debug("Injecting script",
		zap.String("expected_type", expectedType),
		zap.String("cid", cid),
		zap.Duration("timeout", timeout))

	if err := b.conn.Inject(script); err != nil {
		return nil, fmt.Errorf("script injection failed: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-w.ch:
		return payload, nil
	case <-timer.C:
		return nil, &TimeoutError{ExpectedType: expectedType, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// remove drops a wait from the active set. Safe to call after the wait was
// already resolved and removed by HandleRaw.
func (b *Bridge) remove(expectedType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.waits[expectedType]
	for i, w := range list {
		if w.id == id {
			b.waits[expectedType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// HandleRaw processes one raw message from the embedded page. Malformed input
// is logged and dropped; it never propagates to callers.
func (b *Bridge) HandleRaw(data []byte) {
	var env Envelope
	if err := jsonFast.Unmarshal(data, &env); err != nil || env.Type == "" {
		b.logger.Warn("Failed to parse inbound message", zap.ByteString("data", truncate(data, 300)))
		return
	}

	b.logger.Debug("Envelope received",
		zap.String("type", env.Type),
		zap.String("cid", env.CorrelationID),
		zap.Int("payload_bytes", len(env.Payload)))

	if env.Type == TypeSyncCookies {
		b.syncCookies(env.Payload)
		return
	}

	if w := b.claim(&env); w != nil {
		w.ch <- env.Payload
		return
	}
	b.logger.Debug("Envelope had no pending wait", zap.String("type", env.Type))
}

// claim pops the oldest still-pending wait matching the envelope. A wait with
// a correlation ID only accepts the envelope carrying that ID; a wait without
// one accepts the first envelope of its type.
func (b *Bridge) claim(env *Envelope) *pendingWait {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.waits[env.Type]
	for i, w := range list {
		if w.correlationID == "" || w.correlationID == env.CorrelationID {
			b.waits[env.Type] = append(list[:i], list[i+1:]...)
			return w
		}
	}
	return nil
}

func (b *Bridge) syncCookies(payload json.RawMessage) {
	if b.cookies == nil {
		b.logger.Debug("SYNC_COOKIES received but no cookie sink configured")
		return
	}
	var body struct {
		Cookies string `json:"cookies"`
	}
	if err := jsonFast.Unmarshal(payload, &body); err != nil {
		b.logger.Warn("Malformed SYNC_COOKIES payload", zap.Error(err))
		return
	}
	// Fire-and-forget: cookie persistence must never stall envelope delivery.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.cookies.SaveCookies(ctx, body.Cookies); err != nil {
		b.logger.Warn("Failed to persist session cookies", zap.Error(err))
	}
}

// PendingWaits reports the number of outstanding waits for a type. Used by
// tests to assert no dangling listeners remain.
func (b *Bridge) PendingWaits(expectedType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waits[expectedType])
}

func truncate(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	return data[:n]
}
