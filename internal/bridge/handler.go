// Package bridge is the broker side of the cross-context protocol: a
// WebSocket endpoint that page contexts connect to. Each connection is owned
// by one page context and declares its origin at upgrade time; every CHECK
// on the connection is arbitrated against that origin.
package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/navguard/navguard/internal/arbiter"
	"github.com/navguard/navguard/internal/infrastructure/config"
	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/infrastructure/monitoring"
	"github.com/navguard/navguard/internal/origin"
	"github.com/navguard/navguard/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Page contexts connect from arbitrary origins; the origin is
		// authenticated out of band by the embedding host.
		return true
	},
}

// Handler manages bridge connections.
type Handler struct {
	arbiter *arbiter.Service
	limits  config.RateLimitConfig
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewHandler creates a bridge handler. Metrics may be nil.
func NewHandler(arb *arbiter.Service, limits config.RateLimitConfig, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	return &Handler{
		arbiter: arb,
		limits:  limits,
		metrics: metrics,
		log:     log.Named("bridge"),
	}
}

// conn is one page-context connection.
type conn struct {
	ws           *websocket.Conn
	sourceOrigin string
	session      string
	limiter      *rate.Limiter
	writeMu      sync.Mutex
}

// HandleConnection upgrades and serves one page-context connection. The
// page declares its origin in the "origin" query parameter; connections
// without a valid one are rejected before upgrade.
func (h *Handler) HandleConnection(c *gin.Context) {
	sourceOrigin, err := origin.Normalize(c.Query("origin"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid origin"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	defer ws.Close()

	pc := &conn{
		ws:           ws,
		sourceOrigin: sourceOrigin,
		session:      uuid.NewString(),
	}
	if h.limits.Enabled {
		pc.limiter = rate.NewLimiter(rate.Limit(h.limits.RequestsPerSecond), h.limits.Burst)
	}

	if h.metrics != nil {
		h.metrics.BridgeConnections.Inc()
		defer h.metrics.BridgeConnections.Dec()
	}
	h.log.Info("page context connected",
		logging.String("session", pc.session),
		logging.String("origin", sourceOrigin))

	h.readLoop(c.Request.Context(), pc)

	h.log.Info("page context disconnected", logging.String("session", pc.session))
}

func (h *Handler) readLoop(ctx context.Context, pc *conn) {
	for {
		_, data, err := pc.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("read failed", logging.String("session", pc.session), logging.Err(err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			h.log.Warn("malformed message dropped",
				logging.String("session", pc.session), logging.Err(err))
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordProtocolMessage("in", string(msg.Type))
		}

		switch msg.Type {
		case protocol.TypeCheck:
			if pc.limiter != nil && !pc.limiter.Allow() {
				// Flooded connections get denials, never silence.
				h.log.Warn("check rate limit exceeded",
					logging.String("session", pc.session),
					logging.String("origin", pc.sourceOrigin))
				h.send(pc, protocol.NewResponse(msg.CorrelationID, false))
				continue
			}
			go h.handleCheck(ctx, pc, msg)
		default:
			h.log.Warn("unexpected message type on broker side",
				logging.String("type", string(msg.Type)))
		}
	}
}

// handleCheck arbitrates one CHECK. Arbitration may block on user
// confirmation, so each runs on its own goroutine; responses are serialized
// by the connection write lock.
func (h *Handler) handleCheck(ctx context.Context, pc *conn, msg protocol.Message) {
	result := h.arbiter.Arbitrate(ctx, pc.sourceOrigin, msg)
	if result.Duplicate {
		return
	}

	h.send(pc, result.Response)
	if result.Update != nil {
		h.send(pc, *result.Update)
	}
}

func (h *Handler) send(pc *conn, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.log.Error("failed to encode message", logging.Err(err))
		return
	}

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	_ = pc.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := pc.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Warn("failed to write message",
			logging.String("session", pc.session), logging.Err(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordProtocolMessage("out", string(msg.Type))
	}
}
