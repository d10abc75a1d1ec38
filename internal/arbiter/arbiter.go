// Package arbiter implements the broker-side arbitration service: the
// component that answers CHECK requests the quick decision layer could not
// settle on its own.
//
// A request is resolved by, in order: the operator whitelist, broker-side
// re-analysis of the URL combined with the page's heuristic hints, and for
// the ambiguous middle band a user-confirmation surface. Headless
// deployments resolve the ambiguous band by threshold instead.
package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/navguard/navguard/internal/cache"
	"github.com/navguard/navguard/internal/diagnostics"
	"github.com/navguard/navguard/internal/heuristics"
	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/infrastructure/monitoring"
	"github.com/navguard/navguard/internal/origin"
	"github.com/navguard/navguard/internal/protocol"
	"github.com/navguard/navguard/internal/whitelist"
)

// DefaultMaxPending bounds concurrent in-flight arbitrations.
const DefaultMaxPending = 50

// Arbitration resolutions, recorded in metrics and logs.
const (
	ResolutionWhitelisted = "whitelisted"
	ResolutionClean       = "clean"
	ResolutionUserAllowed = "user-allowed"
	ResolutionUserDenied  = "user-denied"
	ResolutionAutoAllowed = "auto-allowed"
	ResolutionAutoDenied  = "auto-denied"
	ResolutionEvicted     = "evicted"
)

// ConfirmRequest is what a confirmation surface shows the user.
type ConfirmRequest struct {
	SourceOrigin string              `json:"sourceOrigin"`
	URL          string              `json:"url"`
	Score        int                 `json:"score"`
	Threats      []heuristics.Threat `json:"threats,omitempty"`
}

// ConfirmResult is the user's explicit choice.
type ConfirmResult struct {
	Allowed  bool `json:"allowed"`
	Remember bool `json:"remember"`
}

// Confirmer presents an ambiguous navigation to the user and blocks until
// they choose.
type Confirmer interface {
	Present(ctx context.Context, req ConfirmRequest) (ConfirmResult, error)
}

// Result is the arbiter's answer to one CHECK.
type Result struct {
	// Response is the RESPONSE to send back. Empty when Duplicate.
	Response protocol.Message
	// Update is an optional CACHE_UPDATE push following a remembered choice.
	Update *protocol.Message
	// Duplicate marks a CHECK whose correlation id is already in flight;
	// no response is owed, the original flow will answer.
	Duplicate bool
}

// Options configures the service.
type Options struct {
	// MaxPending bounds concurrent arbitrations; the oldest is evicted
	// (denied) to admit a new one. Defaults to DefaultMaxPending.
	MaxPending int
	// Confirmer resolves the ambiguous band. Nil runs headless: the band
	// is resolved by threshold instead.
	Confirmer Confirmer
	// Recorder receives the combined risk score of every non-whitelisted
	// arbitration for the diagnostics surface. May be nil.
	Recorder *diagnostics.Recorder
	// DenyAmbiguous denies the whole ambiguous band when no confirmation
	// surface is available, instead of resolving it by threshold.
	DenyAmbiguous bool
}

type pendingRequest struct {
	started time.Time
	cancel  context.CancelFunc
}

// Service arbitrates navigation requests.
type Service struct {
	cache     *cache.Cache
	matcher   *heuristics.Matcher
	whitelist *whitelist.Whitelist
	confirmer Confirmer
	recorder  *diagnostics.Recorder
	denyAmbig bool
	maxPend   int
	metrics   *monitoring.Metrics
	log       *logging.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New creates an arbitration service. Metrics may be nil.
func New(permCache *cache.Cache, matcher *heuristics.Matcher, wl *whitelist.Whitelist, opts Options, metrics *monitoring.Metrics, log *logging.Logger) *Service {
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	return &Service{
		cache:     permCache,
		matcher:   matcher,
		whitelist: wl,
		confirmer: opts.Confirmer,
		recorder:  opts.Recorder,
		denyAmbig: opts.DenyAmbiguous,
		maxPend:   opts.MaxPending,
		metrics:   metrics,
		log:       log.Named("arbiter"),
		pending:   make(map[string]*pendingRequest),
	}
}

// Pending returns the number of in-flight arbitrations.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Arbitrate resolves one CHECK. It may block for as long as the user takes
// to answer a confirmation surface; callers run it on its own goroutine.
func (s *Service) Arbitrate(ctx context.Context, sourceOrigin string, check protocol.Message) Result {
	started := time.Now()
	corrID := check.CorrelationID

	s.mu.Lock()
	if _, inFlight := s.pending[corrID]; inFlight {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.DuplicateChecks.Inc()
		}
		s.log.Debug("duplicate check suppressed", logging.String("correlation_id", corrID))
		return Result{Duplicate: true}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.pending[corrID] = &pendingRequest{started: started, cancel: cancel}
	s.evictOverflowLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PendingArbitrations.Inc()
	}
	defer func() {
		s.mu.Lock()
		delete(s.pending, corrID)
		s.mu.Unlock()
		cancel()
		if s.metrics != nil {
			s.metrics.PendingArbitrations.Dec()
		}
	}()

	allowed, resolution, remember := s.resolve(ctx, sourceOrigin, check)

	if s.metrics != nil {
		s.metrics.RecordArbitration(resolution, time.Since(started))
	}
	s.log.Info("arbitration resolved",
		logging.String("correlation_id", corrID),
		logging.String("url", check.URL),
		logging.String("resolution", resolution),
		logging.Bool("allowed", allowed))

	result := Result{Response: protocol.NewResponse(corrID, allowed)}
	if remember {
		result.Update = s.remember(sourceOrigin, check.URL, allowed)
	}
	return result
}

// resolve runs the arbitration rules. Returned remember is only ever true
// for an explicit user choice.
func (s *Service) resolve(ctx context.Context, sourceOrigin string, check protocol.Message) (allowed bool, resolution string, remember bool) {
	if s.whitelist.Matches(sourceOrigin) || s.whitelist.Matches(check.URL) {
		return true, ResolutionWhitelisted, false
	}

	// Broker-side re-analysis; the page's hint score only ever raises the
	// combined score, never lowers it.
	match := s.matcher.Match(check.URL)
	score := match.Score
	if check.Hints != nil && check.Hints.Score > score {
		score = check.Hints.Score
	}
	if s.recorder != nil {
		s.recorder.Observe(score)
	}

	if score < heuristics.MatchThreshold {
		return true, ResolutionClean, false
	}

	if s.confirmer != nil {
		res, err := s.confirmer.Present(ctx, ConfirmRequest{
			SourceOrigin: sourceOrigin,
			URL:          check.URL,
			Score:        score,
			Threats:      match.Threats,
		})
		if err == nil {
			if res.Allowed {
				return true, ResolutionUserAllowed, res.Remember
			}
			return false, ResolutionUserDenied, res.Remember
		}
		s.log.Warn("confirmation surface failed, resolving by threshold",
			logging.String("url", check.URL), logging.Err(err))
	}

	if ctx.Err() != nil {
		return false, ResolutionEvicted, false
	}
	if s.denyAmbig || score >= heuristics.FlagThreshold {
		return false, ResolutionAutoDenied, false
	}
	return true, ResolutionAutoAllowed, false
}

// remember persists the user's choice and builds the CACHE_UPDATE push.
func (s *Service) remember(sourceOrigin, rawURL string, allowed bool) *protocol.Message {
	decision := cache.DecisionDeny
	wire := "DENY"
	if allowed {
		decision = cache.DecisionAllow
		wire = "ALLOW"
	}
	s.cache.Record(sourceOrigin, rawURL, decision, cache.RecordOptions{Persistent: true})

	src, err := origin.Normalize(sourceOrigin)
	if err != nil {
		src = sourceOrigin
	}
	dst, err := origin.Normalize(rawURL)
	if err != nil {
		dst = rawURL
	}
	update := protocol.NewCacheUpdate(src, dst, wire, true)
	return &update
}

// evictOverflowLocked cancels the oldest in-flight arbitrations until the
// map fits the bound. Age comes from the broker's own admission clock;
// correlation ids are page-supplied and could be ordered to pin a request.
func (s *Service) evictOverflowLocked() {
	for len(s.pending) > s.maxPend {
		var (
			oldestID  string
			oldestReq *pendingRequest
		)
		for corrID, req := range s.pending {
			if oldestReq == nil || req.started.Before(oldestReq.started) ||
				(req.started.Equal(oldestReq.started) && corrID < oldestID) {
				oldestID, oldestReq = corrID, req
			}
		}
		oldestReq.cancel()
		delete(s.pending, oldestID)
		s.log.Warn("evicted oldest pending arbitration",
			logging.String("correlation_id", oldestID))
	}
}
