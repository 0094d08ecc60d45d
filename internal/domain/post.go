package domain

// Post represents a curated BlueSky post stored in our database.
type Post struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string `db:"uri"`

	// Text is the post body text.
	Text string `db:"text"`

	// Pinned marks a post an operator has pinned.
	Pinned bool `db:"pinned"`

	// Deleted hides a post from the feed without removing it. Eviction reaps
	// hidden posts like any other.
	Deleted bool `db:"deleted"`

	// Priority is the classifier score. It is a ranking hint only and never
	// protects a post from eviction.
	Priority int64 `db:"priority"`

	// Timestamp is the ingestion time in unix seconds. The feed is ordered by
	// it and eviction removes the oldest posts first.
	Timestamp int64 `db:"indexed_at"`

	// LikeCount is the number of likes recorded for the post.
	LikeCount int64 `db:"like_count"`
}

// IncomingPost represents a new post from the firehose that hasn't been
// classified yet. It carries the text and media needed for matching.
type IncomingPost struct {
	// URI is the AT-URI of the post.
	URI string

	// AuthorDID is the DID of the post's author.
	AuthorDID string

	// Text is the post body text.
	Text string

	// Embed is the attached media or link card, if any.
	Embed *Embed

	// Timestamp is the event time in unix seconds. Zero means use the
	// service clock.
	Timestamp int64
}

// IncomingLike represents a like event from the firehose.
type IncomingLike struct {
	// URI is the AT-URI of the like record itself.
	URI string

	// SubjectURI is the AT-URI of the liked post.
	SubjectURI string

	// LikerDID is the DID of the account that liked the post.
	LikerDID string
}

// Embed is the media or link attached to a post. At most one of the fields
// is set, mirroring the app.bsky.embed.* union.
type Embed struct {
	Images   []Image
	Video    *Video
	External *External

	// Record is set for quote posts, both with and without media.
	Record *Record
}

// Image is one image of an app.bsky.embed.images embed.
type Image struct {
	Alt string
}

// Video is an app.bsky.embed.video embed.
type Video struct {
	Alt string
}

// External is an app.bsky.embed.external link card.
type External struct {
	URI         string
	Title       string
	Description string
}

// Record is a quoted post, optionally with media attached to the quote.
type Record struct {
	// URI is the AT-URI of the quoted record.
	URI string

	// Media is the media attached alongside the quote (recordWithMedia).
	Media *Embed
}
