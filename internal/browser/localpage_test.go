package browser

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campuslife/bookingagent/internal/config"
)

func TestEnvelopePump_PreservesPostingOrder(t *testing.T) {
	page := NewLocalPage(&config.BrowserConfig{}, zaptest.NewLogger(t))

	var mu sync.Mutex
	var received []string
	page.SetHandler(func(payload []byte) {
		mu.Lock()
		received = append(received, string(payload))
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	envelopes := page.startEnvelopePump(ctx)

	const n = 100
	for i := 0; i < n; i++ {
		envelopes <- []byte(fmt.Sprintf(`{"type":"PAGE_TEXT","payload":{"seq":%d}}`, i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == n
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, payload := range received {
		assert.Contains(t, payload, fmt.Sprintf(`"seq":%d`, i), "envelope %d out of order", i)
	}
}

func TestEnvelopePump_StopsOnContextCancel(t *testing.T) {
	page := NewLocalPage(&config.BrowserConfig{}, zaptest.NewLogger(t))

	delivered := make(chan struct{}, 1)
	page.SetHandler(func([]byte) {
		select {
		case delivered <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	envelopes := page.startEnvelopePump(ctx)
	envelopes <- []byte(`{"type":"PAGE_TEXT"}`)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("envelope never reached the handler")
	}

	cancel()
	// A send after cancel must not block the producer side.
	select {
	case envelopes <- []byte(`{"type":"PAGE_TEXT"}`):
	default:
	}
}
