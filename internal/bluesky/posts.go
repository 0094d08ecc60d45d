package bluesky

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/blackmichael/tech-threads-feed/internal/domain"
)

// maxPostsPerRequest is the getPosts batch limit.
const maxPostsPerRequest = 25

// GetPosts hydrates posts by AT-URI through app.bsky.feed.getPosts on the
// AppView. Posts that no longer exist are omitted from the result.
func (c *Client) GetPosts(ctx context.Context, uris []string) ([]domain.FetchedPost, error) {
	posts := make([]domain.FetchedPost, 0, len(uris))
	for start := 0; start < len(uris); start += maxPostsPerRequest {
		end := min(start+maxPostsPerRequest, len(uris))

		params := url.Values{"uris": uris[start:end]}
		body, err := c.query(ctx, "app.bsky.feed.getPosts", params)
		if err != nil {
			return nil, fmt.Errorf("get posts: %w", err)
		}

		gjson.GetBytes(body, "posts").ForEach(func(_, post gjson.Result) bool {
			posts = append(posts, domain.FetchedPost{
				URI:  post.Get("uri").String(),
				Text: post.Get("record.text").String(),
			})
			return true
		})
	}
	return posts, nil
}
