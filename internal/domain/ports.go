package domain

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
)

var (
	// ErrUnknownFeed is returned when a feed URI is not served by this generator.
	ErrUnknownFeed = errors.New("unknown feed")

	// ErrPostNotFound is returned when a post URI is not in the store.
	ErrPostNotFound = errors.New("post not found")
)

// PostRepository defines persistence operations for curated posts and their
// likes. Every method is atomic and safe for concurrent use.
type PostRepository interface {
	// UpsertPost inserts a post or replaces the one with the same URI. The
	// stored post is never pinned or hidden after an upsert.
	UpsertPost(ctx context.Context, post *Post) error

	// DeletePost removes a post and its likes. Deleting an absent URI is not
	// an error.
	DeletePost(ctx context.Context, uri string) error

	// GetPost returns the post with the given URI or ErrPostNotFound.
	GetPost(ctx context.Context, uri string) (*Post, error)

	// SetPinned pins or unpins a post. Returns ErrPostNotFound if absent.
	SetPinned(ctx context.Context, uri string, pinned bool) error

	// SetDeleted hides or restores a post. Returns ErrPostNotFound if absent.
	SetDeleted(ctx context.Context, uri string, deleted bool) error

	// AddLike records a like for a stored post. Likes for posts that are not
	// stored, and repeated likes, are silently ignored.
	AddLike(ctx context.Context, postURI, likeURI string) error

	// RemoveLike removes the like with the given URI, if any.
	RemoveLike(ctx context.Context, likeURI string) error

	// CountLikes returns the number of likes stored for a post.
	CountLikes(ctx context.Context, postURI string) (int, error)

	// QueryPage returns visible posts ordered by timestamp descending (ties by
	// URI descending), skipping offset and returning at most limit rows,
	// together with the total number of visible posts. Both are read from the
	// same snapshot.
	QueryPage(ctx context.Context, limit, offset int) ([]Post, int, error)

	// CountPosts returns the number of visible posts.
	CountPosts(ctx context.Context) (int, error)

	// DeleteOldPosts removes posts with a timestamp before cutoff (when cutoff
	// is positive) and every post beyond the newest maxRows, hidden posts
	// included. Returns the number of rows deleted.
	DeleteOldPosts(ctx context.Context, cutoff int64, maxRows int) (int64, error)
}

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// FetchedPost is a post body fetched from the BlueSky API.
type FetchedPost struct {
	URI  string
	Text string
}

// PostFetcher loads post bodies from the network.
type PostFetcher interface {
	GetPosts(ctx context.Context, uris []string) ([]FetchedPost, error)
}
