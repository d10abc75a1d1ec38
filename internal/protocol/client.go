package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/navguard/navguard/internal/decision"
	"github.com/navguard/navguard/internal/heuristics"
	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/infrastructure/monitoring"
	"github.com/navguard/navguard/internal/shared/id"
)

// Transport carries encoded messages toward the broker. Incoming bytes are
// pushed back through Client.HandleIncoming by whoever owns the read loop.
type Transport interface {
	Send(ctx context.Context, data []byte) error
}

// CacheUpdateFunc receives broker-pushed cache entries.
type CacheUpdateFunc func(sourceOrigin, targetOrigin, decision string, persistent bool)

// Fallback reasons recorded in the diagnostics ring.
const (
	fallbackFailClosed = "fail-closed"
	fallbackFailOpen   = "fail-open"
	fallbackSignature  = "signature-match"
)

// Client is the page-context side of the protocol. One Check is one
// correlation-keyed round trip; on broker silence it degrades to a local
// risk-aware decision instead of hanging the navigation.
type Client struct {
	transport Transport
	matcher   *heuristics.Matcher
	timeout   time.Duration
	ring      *FallbackRing
	metrics   *monitoring.Metrics
	log       *logging.Logger

	mu            sync.Mutex
	waiters       map[id.CorrelationID]chan bool
	onCacheUpdate CacheUpdateFunc
}

// NewClient creates a protocol client. Metrics may be nil.
func NewClient(transport Transport, matcher *heuristics.Matcher, timeout time.Duration, metrics *monitoring.Metrics, log *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		transport: transport,
		matcher:   matcher,
		timeout:   timeout,
		ring:      NewFallbackRing(FallbackRingSize),
		metrics:   metrics,
		log:       log.Named("protocol"),
		waiters:   make(map[id.CorrelationID]chan bool),
	}
}

// OnCacheUpdate registers the receiver for broker-pushed cache entries.
func (c *Client) OnCacheUpdate(fn CacheUpdateFunc) {
	c.mu.Lock()
	c.onCacheUpdate = fn
	c.mu.Unlock()
}

// Fallbacks returns the diagnostics ring.
func (c *Client) Fallbacks() *FallbackRing {
	return c.ring
}

// Pending returns the number of in-flight CHECK round trips.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Check sends a CHECK and waits for the matching RESPONSE. Exactly one of
// response arrival, context cancellation or the round-trip timeout resolves
// the wait; the listener registration is removed either way. The second
// return reports whether the answer came from the local fallback instead of
// the broker.
func (c *Client) Check(ctx context.Context, attempt decision.Attempt, hints *HeuristicHints) (bool, bool) {
	corrID := id.NewCorrelationID()

	ch := make(chan bool, 1)
	c.mu.Lock()
	c.waiters[corrID] = ch
	c.mu.Unlock()

	msg := Message{
		Type:          TypeCheck,
		CorrelationID: corrID.String(),
		URL:           attempt.URL,
		Hints:         hints,
	}
	data, err := Encode(msg)
	if err != nil {
		c.unregister(corrID)
		return c.fallback(attempt, err), true
	}

	if err := c.transport.Send(ctx, data); err != nil {
		c.unregister(corrID)
		c.log.Warn("failed to send CHECK", logging.String("url", attempt.URL), logging.Err(err))
		return c.fallback(attempt, err), true
	}
	c.recordMessage("out", TypeCheck)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case allowed := <-ch:
		return allowed, false
	case <-ctx.Done():
		c.unregister(corrID)
		return c.fallback(attempt, ctx.Err()), true
	case <-timer.C:
		c.unregister(corrID)
		c.log.Warn("CHECK timed out", logging.String("url", attempt.URL),
			logging.Duration("timeout", c.timeout))
		return c.fallback(attempt, context.DeadlineExceeded), true
	}
}

// HandleIncoming dispatches one broker-originated wire message. Responses
// with no live waiter are duplicates or late arrivals and are dropped.
func (c *Client) HandleIncoming(data []byte) error {
	msg, err := Decode(data)
	if err != nil {
		return err
	}
	c.recordMessage("in", msg.Type)

	switch msg.Type {
	case TypeResponse:
		c.deliver(id.CorrelationID(msg.CorrelationID), *msg.Allowed)
	case TypeCacheUpdate:
		c.mu.Lock()
		fn := c.onCacheUpdate
		c.mu.Unlock()
		if fn != nil {
			fn(msg.SourceOrigin, msg.TargetOrigin, msg.Decision, *msg.Persistent)
		}
	default:
		c.log.Warn("unexpected message type on page side",
			logging.String("type", string(msg.Type)))
	}
	return nil
}

// deliver hands a RESPONSE to its waiter. The waiter is removed before the
// send so a duplicate RESPONSE finds nothing and is ignored.
func (c *Client) deliver(corrID id.CorrelationID, allowed bool) {
	c.mu.Lock()
	ch, ok := c.waiters[corrID]
	if ok {
		delete(c.waiters, corrID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("response with no waiter discarded",
			logging.String("correlation_id", corrID.String()))
		return
	}
	ch <- allowed
}

func (c *Client) unregister(corrID id.CorrelationID) {
	c.mu.Lock()
	delete(c.waiters, corrID)
	c.mu.Unlock()
}

// fallback resolves a CHECK locally. Window-open attempts fail closed;
// location-style attempts fail open unless the URL independently matches a
// malicious pattern.
func (c *Client) fallback(attempt decision.Attempt, cause error) bool {
	allowed := false
	reason := fallbackFailClosed

	if attempt.Method.LocationStyle() {
		if c.matcher.Match(attempt.URL).Matched() {
			reason = fallbackSignature
		} else {
			allowed = true
			reason = fallbackFailOpen
		}
	}

	c.ring.Add(FallbackEvent{
		URL:     attempt.URL,
		Method:  string(attempt.Method),
		Allowed: allowed,
		Reason:  reason,
		At:      time.Now(),
	})
	if c.metrics != nil {
		outcome := "deny"
		if allowed {
			outcome = "allow"
		}
		c.metrics.RecordFallback(string(attempt.Method), outcome)
	}
	c.log.Info("resolved check locally",
		logging.String("url", attempt.URL),
		logging.String("method", string(attempt.Method)),
		logging.String("reason", reason),
		logging.Bool("allowed", allowed),
		logging.Err(cause))
	return allowed
}

func (c *Client) recordMessage(direction string, msgType MessageType) {
	if c.metrics != nil {
		c.metrics.RecordProtocolMessage(direction, string(msgType))
	}
}
