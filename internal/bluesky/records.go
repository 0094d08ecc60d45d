package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

const collectionFeedGenerator = "app.bsky.feed.generator"

// Blob references uploaded content from a record.
type Blob struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// FeedGeneratorRecord is the app.bsky.feed.generator record that announces
// the feed and points at the service DID hosting it.
type FeedGeneratorRecord struct {
	DID         string `json:"did"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	Avatar      *Blob  `json:"avatar,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type recordKey struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}

type putRecordRequest struct {
	recordKey
	Record any `json:"record"`
}

// PublishFeedGenerator writes the feed generator record under rkey,
// replacing any earlier version.
func (c *Client) PublishFeedGenerator(ctx context.Context, rkey string, record FeedGeneratorRecord) error {
	if c.session == nil {
		return errNoSession
	}

	req := putRecordRequest{recordKey: c.key(rkey), Record: record}
	if _, err := c.procedure(ctx, "com.atproto.repo.putRecord", "application/json", req); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// UnpublishFeedGenerator removes the feed generator record under rkey.
func (c *Client) UnpublishFeedGenerator(ctx context.Context, rkey string) error {
	if c.session == nil {
		return errNoSession
	}

	if _, err := c.procedure(ctx, "com.atproto.repo.deleteRecord", "application/json", c.key(rkey)); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// UploadBlob stores data on the PDS. The PDS garbage collects blobs that no
// record references, so publish the record soon after. An empty mimeType is
// sniffed from the data.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (*Blob, error) {
	if c.session == nil {
		return nil, errNoSession
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	resp, err := c.procedure(ctx, "com.atproto.repo.uploadBlob", mimeType, data)
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	raw := gjson.GetBytes(resp, "blob")
	if !raw.IsObject() {
		return nil, fmt.Errorf("upload blob: response has no blob")
	}
	var blob Blob
	if err := json.Unmarshal([]byte(raw.Raw), &blob); err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	return &blob, nil
}

func (c *Client) key(rkey string) recordKey {
	return recordKey{Repo: c.session.did, Collection: collectionFeedGenerator, RKey: rkey}
}
