package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newPDS(t *testing.T) (*httptest.Server, *[]byte) {
	t.Helper()
	var record []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			w.Write([]byte(`{"accessJwt":"jwt","did":"did:plc:publisher"}`))
		case "/xrpc/com.atproto.repo.uploadBlob":
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			data, _ := io.ReadAll(r.Body)
			json.NewEncoder(w).Encode(map[string]any{"blob": map[string]any{
				"$type": "blob", "ref": map[string]string{"$link": "bafkavatar"},
				"mimeType": "image/png", "size": len(data),
			}})
		case "/xrpc/com.atproto.repo.putRecord":
			body, _ := io.ReadAll(r.Body)
			record = []byte(gjson.GetBytes(body, "record").Raw)
			w.Write([]byte(`{"uri":"at://did:plc:publisher/app.bsky.feed.generator/tech","cid":"bafy"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &record
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPublishWithAvatar(t *testing.T) {
	srv, record := newPDS(t)
	avatar := filepath.Join(t.TempDir(), "avatar.png")
	require.NoError(t, os.WriteFile(avatar, pngHeader, 0o600))

	out, err := execute(
		"--pds", srv.URL, "--handle", "alice.bsky.social", "--password", "app-password",
		"--hostname", "feed.example.com", "--rkey", "tech", "--avatar", avatar,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded avatar")
	assert.Contains(t, out, "Feed published: at://did:plc:publisher/app.bsky.feed.generator/tech")

	assert.Equal(t, "did:web:feed.example.com", gjson.GetBytes(*record, "did").String())
	assert.Equal(t, "bafkavatar", gjson.GetBytes(*record, "avatar.ref.$link").String())
	assert.Equal(t, int64(len(pngHeader)), gjson.GetBytes(*record, "avatar.size").Int())
}

func TestPublishRejectsNonImageAvatar(t *testing.T) {
	srv, record := newPDS(t)
	avatar := filepath.Join(t.TempDir(), "avatar.txt")
	require.NoError(t, os.WriteFile(avatar, []byte("not an image"), 0o600))

	_, err := execute(
		"--pds", srv.URL, "--handle", "alice.bsky.social", "--password", "app-password",
		"--hostname", "feed.example.com", "--rkey", "tech", "--avatar", avatar,
	)
	require.ErrorContains(t, err, "unsupported type")
	assert.Nil(t, *record)
}

func TestPublishWithoutAvatar(t *testing.T) {
	srv, record := newPDS(t)

	_, err := execute(
		"--pds", srv.URL, "--handle", "alice.bsky.social", "--password", "app-password",
		"--service-did", "did:web:feed.example.com", "--rkey", "tech",
	)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(*record, "avatar").Exists())
}
