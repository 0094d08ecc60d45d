package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/tech-threads-feed/internal/domain"
)

func TestGetPosts(t *testing.T) {
	var calls [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/app.bsky.feed.getPosts", r.URL.Path)
		uris := r.URL.Query()["uris"]
		calls = append(calls, uris)

		posts := make([]map[string]any, 0, len(uris))
		for _, uri := range uris {
			if uri == "at://gone" {
				continue
			}
			posts = append(posts, map[string]any{
				"uri":    uri,
				"cid":    "bafy",
				"author": map[string]any{"did": "did:plc:alice"},
				"record": map[string]any{"$type": "app.bsky.feed.post", "text": "text of " + uri},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"posts": posts})
	}))
	defer srv.Close()

	c := NewClient("", srv.URL+"/")

	uris := []string{"at://gone"}
	for i := range 30 {
		uris = append(uris, fmt.Sprintf("at://post/%d", i))
	}

	posts, err := c.GetPosts(context.Background(), uris)
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Len(t, calls[0], 25)
	assert.Len(t, calls[1], 6)

	require.Len(t, posts, 30)
	assert.Equal(t, domain.FetchedPost{URI: "at://post/0", Text: "text of at://post/0"}, posts[0])
	assert.Equal(t, domain.FetchedPost{URI: "at://post/29", Text: "text of at://post/29"}, posts[29])
}

func TestGetPosts_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"InvalidRequest","message":"bad uri"}`))
	}))
	defer srv.Close()

	_, err := NewClient("", srv.URL).GetPosts(context.Background(), []string{"not-a-uri"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "bad uri")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "app.bsky.feed.getPosts", apiErr.Method)
	assert.Equal(t, "InvalidRequest", apiErr.Code)
}

func TestGetPosts_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"posts":[`))
	}))
	defer srv.Close()

	_, err := NewClient("", srv.URL).GetPosts(context.Background(), []string{"at://a"})
	require.Error(t, err)
}

// fakePDS serves createSession, putRecord, deleteRecord and uploadBlob and
// records what it was sent.
type fakePDS struct {
	t       *testing.T
	put     putRecordRequest
	deleted recordKey
	blob    []byte
	mime    string
}

func (p *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/xrpc/com.atproto.server.createSession":
		w.Write([]byte(`{"accessJwt":"jwt","refreshJwt":"refresh","did":"did:plc:publisher","handle":"alice.bsky.social"}`))
		return
	}

	if r.Header.Get("Authorization") != "Bearer jwt" {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"AuthMissing","message":"Authentication Required"}`))
		return
	}

	switch r.URL.Path {
	case "/xrpc/com.atproto.repo.putRecord":
		assert.NoError(p.t, json.NewDecoder(r.Body).Decode(&p.put))
		w.Write([]byte(`{"uri":"at://did:plc:publisher/app.bsky.feed.generator/tech","cid":"bafy"}`))
	case "/xrpc/com.atproto.repo.deleteRecord":
		assert.NoError(p.t, json.NewDecoder(r.Body).Decode(&p.deleted))
		w.Write([]byte(`{}`))
	case "/xrpc/com.atproto.repo.uploadBlob":
		p.mime = r.Header.Get("Content-Type")
		p.blob, _ = io.ReadAll(r.Body)
		fmt.Fprintf(w, `{"blob":{"$type":"blob","ref":{"$link":"bafkavatar"},"mimeType":%q,"size":%d}}`, p.mime, len(p.blob))
	default:
		http.NotFound(w, r)
	}
}

func TestPublishFeedGenerator(t *testing.T) {
	pds := &fakePDS{t: t}
	srv := httptest.NewServer(pds)
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ctx := context.Background()

	err := c.PublishFeedGenerator(ctx, "tech", FeedGeneratorRecord{DID: "did:web:feed.example.com"})
	require.ErrorContains(t, err, "not authenticated")
	assert.Empty(t, c.DID())

	require.NoError(t, c.Login(ctx, "alice.bsky.social", "app-password"))
	assert.Equal(t, "did:plc:publisher", c.DID())

	require.NoError(t, c.PublishFeedGenerator(ctx, "tech", FeedGeneratorRecord{
		DID:         "did:web:feed.example.com",
		DisplayName: "Tech Threads",
		CreatedAt:   "2026-01-01T00:00:00Z",
	}))
	assert.Equal(t, "did:plc:publisher", pds.put.Repo)
	assert.Equal(t, "app.bsky.feed.generator", pds.put.Collection)
	assert.Equal(t, "tech", pds.put.RKey)

	require.NoError(t, c.UnpublishFeedGenerator(ctx, "tech"))
	assert.Equal(t, recordKey{Repo: "did:plc:publisher", Collection: "app.bsky.feed.generator", RKey: "tech"}, pds.deleted)
}

func TestUploadBlob(t *testing.T) {
	pds := &fakePDS{t: t}
	srv := httptest.NewServer(pds)
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ctx := context.Background()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	_, err := c.UploadBlob(ctx, png, "")
	require.ErrorContains(t, err, "not authenticated")

	require.NoError(t, c.Login(ctx, "alice.bsky.social", "app-password"))

	blob, err := c.UploadBlob(ctx, png, "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", pds.mime)
	assert.Equal(t, png, pds.blob)
	assert.Equal(t, "bafkavatar", blob.Ref.Link)
	assert.Equal(t, "image/png", blob.MimeType)
	assert.Equal(t, len(png), blob.Size)

	require.NoError(t, c.PublishFeedGenerator(ctx, "tech", FeedGeneratorRecord{
		DID:    "did:web:feed.example.com",
		Avatar: blob,
	}))
	record, err := json.Marshal(pds.put.Record)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"did":"did:web:feed.example.com","displayName":"","createdAt":"",
		  "avatar":{"$type":"blob","ref":{"$link":"bafkavatar"},"mimeType":"image/png","size":16}}`,
		string(record))
}

func TestLogin_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.Login(context.Background(), "alice.bsky.social", "wrong")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Empty(t, c.DID())
}
