package bridge

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dialSurface(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	return conn
}

func TestWSServer_InboundMessagesReachHandler(t *testing.T) {
	ws := NewWSServer(zaptest.NewLogger(t))

	var mu sync.Mutex
	var received [][]byte
	got := make(chan struct{}, 4)
	ws.SetHandler(func(data []byte) {
		mu.Lock()
		received = append(received, data)
		mu.Unlock()
		got <- struct{}{}
	})

	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn := dialSurface(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PAGE_TEXT","payload":{"text":"hi"}}`)))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never saw the relayed envelope")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Contains(t, string(received[0]), "PAGE_TEXT")
}

func TestWSServer_InjectDeliversScriptFrame(t *testing.T) {
	ws := NewWSServer(zaptest.NewLogger(t))
	ws.SetHandler(func([]byte) {})

	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn := dialSurface(t, srv)
	defer conn.Close()

	// Wait for the server side to register the connection.
	require.Eventually(t, func() bool {
		return ws.Inject("void 0;") == nil
	}, 2*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type   string `json:"type"`
		Script string `json:"script"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "INJECT", frame.Type)
	assert.Equal(t, "void 0;", frame.Script)
}

func TestWSServer_InjectWithoutSurface(t *testing.T) {
	ws := NewWSServer(zaptest.NewLogger(t))
	assert.ErrorIs(t, ws.Inject("void 0;"), ErrNoPage)
}

func TestWSServer_NewConnectionReplacesOld(t *testing.T) {
	ws := NewWSServer(zaptest.NewLogger(t))
	ws.SetHandler(func([]byte) {})

	srv := httptest.NewServer(ws)
	defer srv.Close()

	first := dialSurface(t, srv)
	defer first.Close()
	require.Eventually(t, func() bool {
		return ws.Inject("void 0;") == nil
	}, 2*time.Second, 10*time.Millisecond)

	second := dialSurface(t, srv)
	defer second.Close()

	// The first socket is closed by the server; its read loop must end.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// Scripts now flow to the replacement surface.
	require.Eventually(t, func() bool {
		return ws.Inject("1+1;") == nil
	}, 2*time.Second, 10*time.Millisecond)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame injectionFrame
	for {
		require.NoError(t, second.ReadJSON(&frame))
		if frame.Script == "1+1;" {
			break
		}
	}
	require.NoError(t, ws.Close())
}
