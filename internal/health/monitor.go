package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LayoutSource reports on the loaded network layout.
type LayoutSource interface {
	Ready() bool
	StationCount() int
	LayoutLoadedAt() time.Time
}

// LayoutChecker is down until a layout with at least one station is
// loaded. A layout older than maxAge is reported as degraded.
type LayoutChecker struct {
	source LayoutSource
	maxAge time.Duration
}

func NewLayoutChecker(source LayoutSource, maxAge time.Duration) *LayoutChecker {
	return &LayoutChecker{source: source, maxAge: maxAge}
}

func (c *LayoutChecker) Name() string { return "layout" }

func (c *LayoutChecker) Check(ctx context.Context) error {
	if !c.source.Ready() {
		return errors.New("network layout not loaded")
	}
	if c.source.StationCount() == 0 {
		return errors.New("network layout has no stations")
	}
	if c.maxAge > 0 {
		if age := time.Since(c.source.LayoutLoadedAt()); age > c.maxAge {
			return Degraded(fmt.Errorf("network layout is stale (loaded %s ago)", age.Round(time.Second)))
		}
	}
	return nil
}

func (c *LayoutChecker) Details() map[string]interface{} {
	details := map[string]interface{}{
		"stations": c.source.StationCount(),
	}
	if loaded := c.source.LayoutLoadedAt(); !loaded.IsZero() {
		details["loaded_at"] = loaded
	}
	return details
}

// FeedSource reports on the live passenger feed.
type FeedSource interface {
	FeedEnabled() bool
	FeedConnected() bool
}

// FeedChecker reports a disconnected feed as degraded: the network still
// answers queries, only the counts go stale.
type FeedChecker struct {
	source FeedSource
}

func NewFeedChecker(source FeedSource) *FeedChecker {
	return &FeedChecker{source: source}
}

func (c *FeedChecker) Name() string { return "feed" }

func (c *FeedChecker) Check(ctx context.Context) error {
	if !c.source.FeedEnabled() {
		return nil
	}
	if !c.source.FeedConnected() {
		return Degraded(errors.New("passenger feed disconnected"))
	}
	return nil
}

func (c *FeedChecker) Details() map[string]interface{} {
	return map[string]interface{}{
		"enabled":   c.source.FeedEnabled(),
		"connected": c.source.FeedConnected(),
	}
}
