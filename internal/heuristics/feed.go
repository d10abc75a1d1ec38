package heuristics

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/navguard/navguard/internal/infrastructure/logging"
	"github.com/navguard/navguard/internal/infrastructure/resilience"
	"github.com/navguard/navguard/internal/policy"
)

// maxFeedBytes caps a signature feed response so a misbehaving feed host
// cannot exhaust memory.
const maxFeedBytes = 1 << 20

// Feed periodically fetches an updated signature set and swaps it into the
// matcher. Fetch failures leave the current set untouched.
type Feed struct {
	url      string
	interval time.Duration
	matcher  *Matcher
	client   *retryablehttp.Client
	breaker  *resilience.Breaker
	log      *logging.Logger
}

// NewFeed creates a signature feed updater.
func NewFeed(feedURL string, interval time.Duration, matcher *Matcher, log *logging.Logger) *Feed {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil

	return &Feed{
		url:      feedURL,
		interval: interval,
		matcher:  matcher,
		client:   client,
		breaker:  resilience.New("signature-feed", resilience.Settings{}),
		log:      log.Named("feed"),
	}
}

// Run fetches immediately, then on every tick until the context is done.
func (f *Feed) Run(ctx context.Context) {
	if f.url == "" {
		return
	}

	if err := f.update(ctx); err != nil {
		f.log.Warn("initial signature fetch failed", logging.Err(err))
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.update(ctx); err != nil {
				f.log.Warn("signature fetch failed", logging.Err(err))
			}
		}
	}
}

func (f *Feed) update(ctx context.Context) error {
	return f.breaker.Do(func() error {
		sigs, err := f.fetch(ctx)
		if err != nil {
			return err
		}
		if err := f.matcher.Swap(sigs); err != nil {
			return fmt.Errorf("failed to apply signature set: %w", err)
		}
		f.log.Info("signature set updated",
			logging.Int("ad_domains", len(sigs.AdDomains)),
			logging.Int("risky_tlds", len(sigs.RiskyTLDs)))
		return nil
	})
}

func (f *Feed) fetch(ctx context.Context) (policy.Signatures, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", f.url, nil)
	if err != nil {
		return policy.Signatures{}, fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return policy.Signatures{}, fmt.Errorf("feed fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return policy.Signatures{}, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return policy.Signatures{}, fmt.Errorf("failed to read feed body: %w", err)
	}

	var sigs policy.Signatures
	if err := yaml.Unmarshal(body, &sigs); err != nil {
		return policy.Signatures{}, fmt.Errorf("failed to parse feed: %w", err)
	}
	return sigs, nil
}
