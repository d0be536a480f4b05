package reserve

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"BloomLedger/internal/fault"
	"BloomLedger/internal/observability"
	"BloomLedger/internal/opsctl"
)

// Composer selects a single trusted reading from an ordered list of feeds.
// The first feed that reports a fresh reading wins; failures and stale
// readings fall through to the next feed. Readings are never averaged or
// summed across sources — mixing would let the weakest source raise
// confidence in the figure.
type Composer struct {
	feeds     []Feed
	freshness time.Duration
	controls  *opsctl.Controls
	now       func() time.Time
	log       zerolog.Logger
	metrics   *observability.Metrics
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithComposerClock overrides the staleness clock (tests).
func WithComposerClock(now func() time.Time) ComposerOption {
	return func(c *Composer) { c.now = now }
}

// WithComposerControls gates reads on the reserve_read kill switch. While
// the switch is paused every read reports stale, so minting blocks and
// redemptions fall back to the supply-bound cap.
func WithComposerControls(controls *opsctl.Controls) ComposerOption {
	return func(c *Composer) { c.controls = controls }
}

// WithComposerMetrics attaches Prometheus metrics.
func WithComposerMetrics(m *observability.Metrics) ComposerOption {
	return func(c *Composer) { c.metrics = m }
}

// WithComposerLogger attaches a logger.
func WithComposerLogger(log zerolog.Logger) ComposerOption {
	return func(c *Composer) { c.log = log }
}

// NewComposer builds a Composer over feeds in priority order. freshness is
// the maximum age of an acceptable reading.
func NewComposer(feeds []Feed, freshness time.Duration, opts ...ComposerOption) *Composer {
	c := &Composer{
		feeds:     feeds,
		freshness: freshness,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read returns the first fresh successful reading. When every feed is stale
// or failing it returns a StaleReserveReading fault listing the sources
// tried, and the caller decides policy (minting blocks, burns proceed).
func (c *Composer) Read(ctx context.Context) (Reading, error) {
	if c.controls != nil && !c.controls.IsPermitted(opsctl.OpReserveRead) {
		c.log.Warn().Msg("reserve reads paused, reporting stale")
		return Reading{}, &fault.StaleReserveReading{Sources: []string{"paused"}}
	}

	sources := make([]string, 0, len(c.feeds))

	for _, feed := range c.feeds {
		sources = append(sources, feed.Source())

		reading, err := feed.LockedSats(ctx)
		if err != nil {
			if c.metrics != nil {
				c.metrics.FeedFailures.WithLabelValues(feed.Source()).Inc()
			}
			c.log.Warn().Str("source", feed.Source()).Err(err).Msg("reserve feed read failed, trying next")
			continue
		}

		age := c.now().Sub(reading.AsOf)
		if age > c.freshness {
			if c.metrics != nil {
				c.metrics.FeedStale.WithLabelValues(feed.Source()).Inc()
			}
			c.log.Warn().
				Str("source", feed.Source()).
				Dur("age", age).
				Dur("freshness_bound", c.freshness).
				Msg("reserve reading stale, trying next")
			continue
		}

		if c.metrics != nil {
			c.metrics.FeedReads.WithLabelValues(feed.Source()).Inc()
			c.metrics.LockedSats.Set(float64(reading.LockedSats))
		}
		return reading, nil
	}

	if c.metrics != nil {
		c.metrics.ComposerEmpty.Inc()
	}
	return Reading{}, &fault.StaleReserveReading{Sources: sources}
}
