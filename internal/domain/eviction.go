package domain

import (
	"context"
	"time"
)

// Eviction defaults.
const (
	DefaultEvictionInterval = 10 * time.Second
	DefaultMaxPosts         = 10_000

	evictionRunTimeout = time.Minute
)

// EvictionPolicy bounds how many posts the feed retains.
type EvictionPolicy struct {
	// Interval is the time between eviction runs.
	Interval time.Duration

	// MaxPosts is the number of newest posts kept. Zero means DefaultMaxPosts.
	MaxPosts int

	// MaxAge removes posts older than this regardless of count. Zero disables
	// age-based eviction.
	MaxAge time.Duration
}

// DefaultEvictionPolicy keeps the newest 10,000 posts, checked every ten
// seconds.
func DefaultEvictionPolicy() EvictionPolicy {
	return EvictionPolicy{
		Interval: DefaultEvictionInterval,
		MaxPosts: DefaultMaxPosts,
	}
}

// StartEvictionJob runs a background loop that caps the stored posts as
// described by policy. It runs immediately on start and then repeats at the
// policy interval. It blocks until ctx is cancelled.
func (s *FeedService) StartEvictionJob(ctx context.Context, policy EvictionPolicy) {
	interval := policy.Interval
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}

	s.runEviction(ctx, policy)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runEviction(ctx, policy)
		}
	}
}

// Evict applies policy once and returns the number of posts deleted.
func (s *FeedService) Evict(ctx context.Context, policy EvictionPolicy) (int64, error) {
	var cutoff int64
	if policy.MaxAge > 0 {
		cutoff = s.clock().Add(-policy.MaxAge).Unix()
	}
	maxPosts := policy.MaxPosts
	if maxPosts <= 0 {
		maxPosts = DefaultMaxPosts
	}
	return s.repo.DeleteOldPosts(ctx, cutoff, maxPosts)
}

func (s *FeedService) runEviction(ctx context.Context, policy EvictionPolicy) {
	runCtx, cancel := context.WithTimeout(ctx, evictionRunTimeout)
	defer cancel()

	deleted, err := s.Evict(runCtx, policy)
	if err != nil {
		s.logger.Error("post eviction failed", "error", err)
	} else if deleted > 0 {
		s.logger.Info("post eviction complete", "deleted", deleted)
	}
}
