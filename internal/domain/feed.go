package domain

// MaxPageSize is the largest page getFeedSkeleton will return.
const MaxPageSize = 100

// FeedSkeleton is the response body for getFeedSkeleton.
type FeedSkeleton struct {
	// Cursor is the offset of the next page. Empty when there are no more
	// results.
	Cursor string
	Posts  []SkeletonPost
}

// SkeletonPost is a single entry in a feed skeleton.
type SkeletonPost struct {
	// Post is the AT-URI of the post.
	Post string
}
