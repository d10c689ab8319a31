package browser

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campuslife/bookingagent/internal/bridge"
	"github.com/campuslife/bookingagent/internal/config"
)

var cidPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// scriptedConn replies to each injected script with a canned payload of the
// given envelope type, echoing any correlation ID found in the script.
type scriptedConn struct {
	bridge  *bridge.Bridge
	replyTo string
	payload map[string]any
	last    string
}

func (c *scriptedConn) Inject(script string) error {
	c.last = script
	if c.replyTo == "" {
		return nil
	}
	cid := cidPattern.FindString(script)
	raw, _ := json.Marshal(c.payload)
	env, _ := json.Marshal(bridge.Envelope{Type: c.replyTo, CorrelationID: cid, Payload: raw})
	go c.bridge.HandleRaw(env)
	return nil
}

func newTestActions(t *testing.T, conn *scriptedConn) *Actions {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Browser.SettleDelay = 0
	cfg.Browser.NavigateDelay = 0
	cfg.Bridge.DefaultTimeout = 2 * time.Second

	logger := zaptest.NewLogger(t)
	b := bridge.New(logger, conn, nil)
	conn.bridge = b
	return NewActions(b, cfg, logger)
}

func TestReadPage_ReturnsVisibleText(t *testing.T) {
	conn := &scriptedConn{replyTo: bridge.TypePageText, payload: map[string]any{"text": "Library Home", "url": "https://lib.example.edu/"}}
	a := newTestActions(t, conn)

	text, err := a.ReadPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Library Home", text)
}

func TestClick_SuccessAndFailureObservations(t *testing.T) {
	conn := &scriptedConn{replyTo: bridge.TypeClickResult, payload: map[string]any{"success": true, "matched": "button#go"}}
	a := newTestActions(t, conn)

	obs, err := a.Click(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Clicked button#go.", obs)

	conn.payload = map[string]any{"success": false, "error": "element not found: go"}
	obs, err = a.Click(context.Background(), "go")
	require.NoError(t, err, "a miss is an observation, not an error")
	assert.Contains(t, obs, "Click failed")
	assert.Contains(t, obs, "element not found")
}

func TestType_EscapesUserText(t *testing.T) {
	conn := &scriptedConn{replyTo: bridge.TypeTypeResult, payload: map[string]any{"success": true}}
	a := newTestActions(t, conn)

	_, err := a.Type(context.Background(), "q", "it's \"quoted\"\nline")
	require.NoError(t, err)
	assert.NotContains(t, conn.last, "it's \"quoted\"\nline")
	assert.Contains(t, conn.last, `it\'s`)
}

func TestGetInteractiveElements_RendersInventory(t *testing.T) {
	conn := &scriptedConn{replyTo: bridge.TypePageElements, payload: map[string]any{
		"elements": []map[string]any{
			{"tag": "button", "id": "submit", "text": "Book Now"},
			{"tag": "input", "name": "q", "placeholder": "Search rooms"},
		},
	}}
	a := newTestActions(t, conn)

	obs, err := a.GetInteractiveElements(context.Background())
	require.NoError(t, err)
	assert.Contains(t, obs, `1. <button id="submit"> "Book Now"`)
	assert.Contains(t, obs, `2. <input name="q"> "Search rooms"`)
}

func TestGetInteractiveElements_EmptyPage(t *testing.T) {
	conn := &scriptedConn{replyTo: bridge.TypePageElements, payload: map[string]any{"elements": []any{}}}
	a := newTestActions(t, conn)

	obs, err := a.GetInteractiveElements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No interactive elements are visible on this page.", obs)
}

func TestCaptureSnapshot_DecodesElements(t *testing.T) {
	conn := &scriptedConn{replyTo: bridge.TypeScreenshotResult, payload: map[string]any{
		"url": "https://lib.example.edu/grid",
		"elements": []map[string]any{
			{"tag": "td", "text": "10:00", "x": 120, "y": 340},
		},
	}}
	a := newTestActions(t, conn)

	snap, err := a.CaptureSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Elements, 1)
	assert.Equal(t, 120, snap.Elements[0].X)
	assert.Equal(t, "10:00", snap.Elements[0].Text)
}

func TestIsLoggedIn(t *testing.T) {
	conn := &scriptedConn{replyTo: bridge.TypeAuthStatus, payload: map[string]any{"loggedIn": true}}
	a := newTestActions(t, conn)

	ok, err := a.IsLoggedIn(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNavigate_InjectsLocationChange(t *testing.T) {
	conn := &scriptedConn{}
	a := newTestActions(t, conn)

	require.NoError(t, a.Navigate(context.Background(), "https://lib.example.edu/grid"))
	assert.Contains(t, conn.last, "window.location.href")
	assert.Contains(t, conn.last, "https://lib.example.edu/grid")
}
