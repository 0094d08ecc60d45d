package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/blackmichael/tech-threads-feed/internal/classifier"
)

// OwnerLookupTimeout bounds the API call made when the feed owner likes a
// post.
const OwnerLookupTimeout = 10 * time.Second

// PostClassifier decides whether a post's fragments belong in the feed.
type PostClassifier interface {
	Classify(fragments []classifier.Fragment) (classifier.Scoring, bool)
}

// FeedServiceConfig carries the dependencies of a FeedService.
type FeedServiceConfig struct {
	// FeedURI is the AT-URI of the feed generator record.
	FeedURI string

	// OwnerDID is the DID of the feed owner. Posts the owner likes are
	// fetched and classified even if the firehose never delivered them.
	OwnerDID string

	Classifier PostClassifier
	Posts      PostRepository
	Cursors    CursorRepository

	// Fetcher is optional. Without it owner likes are recorded like any other.
	Fetcher PostFetcher

	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// FeedService is the core domain service. It owns the business logic for
// classifying incoming posts, persisting matched posts and their likes,
// evicting old posts, and serving feed skeletons.
type FeedService struct {
	feedURI    string
	ownerDID   string
	classifier PostClassifier
	repo       PostRepository
	cursors    CursorRepository
	fetcher    PostFetcher
	clock      func() time.Time
	logger     *slog.Logger
}

// NewFeedService creates a FeedService from the given configuration.
func NewFeedService(cfg FeedServiceConfig) (*FeedService, error) {
	if cfg.FeedURI == "" {
		return nil, errors.New("feed uri is required")
	}
	if cfg.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if cfg.Posts == nil {
		return nil, errors.New("post repository is required")
	}
	if cfg.Cursors == nil {
		return nil, errors.New("cursor repository is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &FeedService{
		feedURI:    cfg.FeedURI,
		ownerDID:   cfg.OwnerDID,
		classifier: cfg.Classifier,
		repo:       cfg.Posts,
		cursors:    cfg.Cursors,
		fetcher:    cfg.Fetcher,
		clock:      clock,
		logger:     logger,
	}, nil
}

// FeedURIs returns the AT-URIs of all registered feeds.
func (s *FeedService) FeedURIs() []string {
	return []string{s.feedURI}
}

// ProcessNewPost classifies an incoming post and persists it if it belongs in
// the feed. Returns true if the post was saved.
func (s *FeedService) ProcessNewPost(ctx context.Context, incoming *IncomingPost) (bool, error) {
	scoring, ok := s.classifier.Classify(Extract(incoming.Text, incoming.Embed))
	if !ok {
		return false, nil
	}

	timestamp := incoming.Timestamp
	if timestamp == 0 {
		timestamp = s.clock().Unix()
	}

	post := &Post{
		URI:       incoming.URI,
		Text:      incoming.Text,
		Pinned:    scoring.Pinned,
		Deleted:   scoring.Deleted,
		Priority:  scoring.Priority,
		Timestamp: timestamp,
	}
	if err := s.repo.UpsertPost(ctx, post); err != nil {
		return false, fmt.Errorf("upsert post: %w", err)
	}
	return true, nil
}

// ProcessDeletePost removes a post and its likes by URI.
func (s *FeedService) ProcessDeletePost(ctx context.Context, uri string) error {
	if err := s.repo.DeletePost(ctx, uri); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// ProcessLike records a like. When the liker is the feed owner the liked post
// is fetched and classified first, so the owner can pull posts into the feed
// by liking them.
func (s *FeedService) ProcessLike(ctx context.Context, like *IncomingLike) error {
	if s.ownerDID != "" && like.LikerDID == s.ownerDID && s.fetcher != nil {
		s.curateOwnerLike(ctx, like.SubjectURI)
	}

	if err := s.repo.AddLike(ctx, like.SubjectURI, like.URI); err != nil {
		return fmt.Errorf("add like: %w", err)
	}
	return nil
}

// ProcessUnlike removes a like by its URI.
func (s *FeedService) ProcessUnlike(ctx context.Context, likeURI string) error {
	if err := s.repo.RemoveLike(ctx, likeURI); err != nil {
		return fmt.Errorf("remove like: %w", err)
	}
	return nil
}

// curateOwnerLike fetches the liked post and stores it if it classifies.
// Failures are logged and never stop the like from being recorded.
func (s *FeedService) curateOwnerLike(ctx context.Context, postURI string) {
	s.logger.Info("feed owner liked a post", "uri", postURI)

	lookupCtx, cancel := context.WithTimeout(ctx, OwnerLookupTimeout)
	defer cancel()

	posts, err := s.fetcher.GetPosts(lookupCtx, []string{postURI})
	if err != nil {
		s.logger.Error("failed to fetch liked post", "uri", postURI, "error", err)
		return
	}

	for _, p := range posts {
		scoring, ok := s.classifier.Classify([]classifier.Fragment{classifier.Post(p.Text)})
		if !ok {
			continue
		}

		post := &Post{
			URI:       p.URI,
			Text:      p.Text,
			Priority:  scoring.Priority,
			Timestamp: s.clock().Unix(),
		}
		if err := s.repo.UpsertPost(ctx, post); err != nil {
			s.logger.Error("failed to store liked post", "uri", p.URI, "error", err)
			continue
		}
		s.logger.Info("stored post liked by feed owner", "uri", p.URI, "priority", scoring.Priority)
	}
}

// GetCursor retrieves the last-processed firehose cursor for the given service.
func (s *FeedService) GetCursor(ctx context.Context, service string) (int64, error) {
	return s.cursors.GetCursor(ctx, service)
}

// UpdateCursor persists the firehose cursor for the given service.
func (s *FeedService) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	return s.cursors.UpdateCursor(ctx, service, cursor)
}

// GetFeedSkeleton returns a page of the feed skeleton for the given feed URI.
// The limit is clamped to [0, MaxPageSize]. The cursor is the offset into the
// feed; anything that does not parse as a non-negative integer starts from
// the top.
func (s *FeedService) GetFeedSkeleton(ctx context.Context, feedURI string, limit int, cursor string) (*FeedSkeleton, error) {
	if feedURI != s.feedURI {
		s.logger.Error("unknown feed requested", "feedURI", feedURI, "registered_feeds", s.FeedURIs())
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feedURI)
	}

	limit = max(0, min(limit, MaxPageSize))
	offset := parseOffset(cursor)

	s.logger.Debug("querying repository", "feedURI", feedURI, "limit", limit, "offset", offset)

	posts, total, err := s.repo.QueryPage(ctx, limit, offset)
	if err != nil {
		s.logger.Error("repository query failed", "feedURI", feedURI, "limit", limit, "offset", offset, "error", err)
		return nil, fmt.Errorf("query page: %w", err)
	}

	skeleton := &FeedSkeleton{
		Posts: make([]SkeletonPost, len(posts)),
	}
	for i, p := range posts {
		skeleton.Posts[i] = SkeletonPost{Post: p.URI}
	}

	if next := offset + len(posts); next < total {
		skeleton.Cursor = strconv.Itoa(next)
	}

	s.logger.Debug("repository query succeeded", "posts_count", len(posts), "total", total, "next_cursor", skeleton.Cursor)

	return skeleton, nil
}

func parseOffset(cursor string) int {
	if cursor == "" {
		return 0
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}
