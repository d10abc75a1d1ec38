package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navguard/navguard/internal/arbiter"
	"github.com/navguard/navguard/internal/cache"
	"github.com/navguard/navguard/internal/heuristics"
	"github.com/navguard/navguard/internal/infrastructure/config"
	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/policy"
	"github.com/navguard/navguard/internal/protocol"
	"github.com/navguard/navguard/internal/shared/id"
	"github.com/navguard/navguard/internal/whitelist"
)

func newTestBridge(t *testing.T, confirmer arbiter.Confirmer, limits config.RateLimitConfig) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	matcher, err := heuristics.NewMatcher(policy.Default().Signatures)
	require.NoError(t, err)
	wl, err := whitelist.New(nil)
	require.NoError(t, err)

	permCache := cache.New(cache.Options{}, nil, logging.NewNop())
	t.Cleanup(func() { _ = permCache.Close(context.Background()) })

	arb := arbiter.New(permCache, matcher, wl,
		arbiter.Options{Confirmer: confirmer}, nil, logging.NewNop())
	h := NewHandler(arb, limits, nil, logging.NewNop())

	router := gin.New()
	router.GET("/bridge", h.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialBridge(t *testing.T, srv *httptest.Server, pageOrigin string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/bridge?origin=" + url.QueryEscape(pageOrigin)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendCheck(t *testing.T, conn *websocket.Conn, targetURL string) string {
	t.Helper()
	corrID := id.NewCorrelationID().String()
	data, err := protocol.Encode(protocol.Message{
		Type:          protocol.TypeCheck,
		CorrelationID: corrID,
		URL:           targetURL,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	return corrID
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

type allowRemember struct{}

func (allowRemember) Present(ctx context.Context, req arbiter.ConfirmRequest) (arbiter.ConfirmResult, error) {
	return arbiter.ConfirmResult{Allowed: true, Remember: true}, nil
}

func TestCheckRoundTrip(t *testing.T) {
	srv := newTestBridge(t, nil, config.RateLimitConfig{})
	conn := dialBridge(t, srv, "https://page.com")

	corrID := sendCheck(t, conn, "https://harmless.com/x")

	resp := readMessage(t, conn)
	assert.Equal(t, protocol.TypeResponse, resp.Type)
	assert.Equal(t, corrID, resp.CorrelationID)
	assert.True(t, *resp.Allowed)
}

func TestMissingOriginRejected(t *testing.T) {
	srv := newTestBridge(t, nil, config.RateLimitConfig{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRememberPushesCacheUpdate(t *testing.T) {
	srv := newTestBridge(t, allowRemember{}, config.RateLimitConfig{})
	conn := dialBridge(t, srv, "https://page.com")

	// Ambiguous URL forces the confirmation path.
	corrID := sendCheck(t, conn, "https://ads.example/offer")

	resp := readMessage(t, conn)
	assert.Equal(t, protocol.TypeResponse, resp.Type)
	assert.Equal(t, corrID, resp.CorrelationID)
	assert.True(t, *resp.Allowed)

	update := readMessage(t, conn)
	assert.Equal(t, protocol.TypeCacheUpdate, update.Type)
	assert.Equal(t, "https://page.com", update.SourceOrigin)
	assert.Equal(t, "https://ads.example", update.TargetOrigin)
	assert.Equal(t, "ALLOW", update.Decision)
	assert.True(t, *update.Persistent)
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	srv := newTestBridge(t, nil, config.RateLimitConfig{})
	conn := dialBridge(t, srv, "https://page.com")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	corrID := sendCheck(t, conn, "https://harmless.com/x")
	resp := readMessage(t, conn)
	assert.Equal(t, corrID, resp.CorrelationID)
}

func TestFloodedConnectionGetsDenials(t *testing.T) {
	srv := newTestBridge(t, nil, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
	})
	conn := dialBridge(t, srv, "https://page.com")

	first := sendCheck(t, conn, "https://harmless.com/a")
	second := sendCheck(t, conn, "https://harmless.com/b")

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		resp := readMessage(t, conn)
		require.Equal(t, protocol.TypeResponse, resp.Type)
		got[resp.CorrelationID] = *resp.Allowed
	}
	assert.True(t, got[first], "within budget, arbitrated normally")
	assert.False(t, got[second], "over budget, denied outright")
}
