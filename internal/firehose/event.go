package firehose

import (
	"encoding/json"
	"fmt"

	"github.com/blackmichael/tech-threads-feed/internal/domain"
)

const (
	collectionPost = "app.bsky.feed.post"
	collectionLike = "app.bsky.feed.like"
)

const (
	embedImages          = "app.bsky.embed.images"
	embedVideo           = "app.bsky.embed.video"
	embedExternal        = "app.bsky.embed.external"
	embedQuote           = "app.bsky.embed.record"
	embedRecordWithMedia = "app.bsky.embed.recordWithMedia"
)

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream. At most one of Post
// and Like is set, depending on the collection.
type jetstreamCommit struct {
	Rev        string
	Operation  string
	Collection string
	RKey       string
	CID        string
	Post       *postRecord
	Like       *likeRecord
}

// uri returns the AT-URI of the record the commit touches.
func (e *jetstreamEvent) uri() string {
	return fmt.Sprintf("at://%s/%s/%s", e.DID, e.Commit.Collection, e.Commit.RKey)
}

// postRecord is the parsed content of an app.bsky.feed.post record.
type postRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	CreatedAt string       `json:"createdAt"`
	Langs     []string     `json:"langs"`
	Embed     *embedRecord `json:"embed,omitempty"`
}

// likeRecord is the parsed content of an app.bsky.feed.like record.
type likeRecord struct {
	Subject   strongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// strongRef is a reference to a specific version of a record.
type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// embedRecord covers every app.bsky.embed.* variant the feed reads.
type embedRecord struct {
	Type     string          `json:"$type"`
	Images   []imageRecord   `json:"images,omitempty"`
	Alt      string          `json:"alt,omitempty"`
	External *externalRecord `json:"external,omitempty"`
	Record   *quoteRef       `json:"record,omitempty"`
	Media    *embedRecord    `json:"media,omitempty"`
}

// quoteRef is the record field of a quote embed. app.bsky.embed.record
// carries the strongRef inline while app.bsky.embed.recordWithMedia nests it
// one level down under record.
type quoteRef struct {
	URI    string     `json:"uri"`
	CID    string     `json:"cid"`
	Record *strongRef `json:"record,omitempty"`
}

func (q *quoteRef) target() string {
	switch {
	case q == nil:
		return ""
	case q.Record != nil:
		return q.Record.URI
	default:
		return q.URI
	}
}

type imageRecord struct {
	Alt string `json:"alt"`
}

type externalRecord struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// toDomain converts the embed to its domain form. Unknown embed types yield
// nil.
func (e *embedRecord) toDomain() *domain.Embed {
	if e == nil {
		return nil
	}

	switch e.Type {
	case embedImages:
		images := make([]domain.Image, len(e.Images))
		for i, img := range e.Images {
			images[i] = domain.Image{Alt: img.Alt}
		}
		return &domain.Embed{Images: images}

	case embedVideo:
		return &domain.Embed{Video: &domain.Video{Alt: e.Alt}}

	case embedExternal:
		if e.External == nil {
			return nil
		}
		return &domain.Embed{External: &domain.External{
			URI:         e.External.URI,
			Title:       e.External.Title,
			Description: e.External.Description,
		}}

	case embedQuote:
		return &domain.Embed{Record: &domain.Record{URI: e.Record.target()}}

	case embedRecordWithMedia:
		return &domain.Embed{Record: &domain.Record{
			URI:   e.Record.target(),
			Media: e.Media.toDomain(),
		}}

	default:
		return nil
	}
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var raw struct {
		DID    string          `json:"did"`
		TimeUS int64           `json:"time_us"`
		Kind   string          `json:"kind"`
		Commit json.RawMessage `json:"commit,omitempty"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	event := &jetstreamEvent{
		DID:    raw.DID,
		TimeUS: raw.TimeUS,
		Kind:   raw.Kind,
	}

	if raw.Kind != "commit" || len(raw.Commit) == 0 {
		return event, nil
	}

	var rc struct {
		Rev        string          `json:"rev"`
		Operation  string          `json:"operation"`
		Collection string          `json:"collection"`
		RKey       string          `json:"rkey"`
		Record     json.RawMessage `json:"record,omitempty"`
		CID        string          `json:"cid"`
	}
	if err := json.Unmarshal(raw.Commit, &rc); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}

	commit := &jetstreamCommit{
		Rev:        rc.Rev,
		Operation:  rc.Operation,
		Collection: rc.Collection,
		RKey:       rc.RKey,
		CID:        rc.CID,
	}

	if len(rc.Record) > 0 {
		switch rc.Collection {
		case collectionPost:
			var record postRecord
			if err := json.Unmarshal(rc.Record, &record); err != nil {
				return nil, fmt.Errorf("unmarshal post record: %w", err)
			}
			commit.Post = &record
		case collectionLike:
			var record likeRecord
			if err := json.Unmarshal(rc.Record, &record); err != nil {
				return nil, fmt.Errorf("unmarshal like record: %w", err)
			}
			commit.Like = &record
		}
	}

	event.Commit = commit
	return event, nil
}
