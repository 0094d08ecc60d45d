package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/tech-threads-feed/internal/domain"
	"github.com/blackmichael/tech-threads-feed/internal/storage"
)

func setupDB(t *testing.T) string {
	t.Helper()
	t.Setenv("FEEDGEN_PUBLISHER_DID", "did:plc:publisher")

	path := filepath.Join(t.TempDir(), "feed.db")
	t.Setenv("FEEDGEN_DATABASE_URL", path)

	repo, err := storage.Open(context.Background(), path)
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	for i, uri := range []string{"at://a", "at://b", "at://c"} {
		require.NoError(t, repo.UpsertPost(ctx, &domain.Post{
			URI:       uri,
			Text:      "Rust tutorial " + uri,
			Priority:  40,
			Timestamp: int64(100 * (i + 1)),
		}))
	}
	require.NoError(t, repo.AddLike(ctx, "at://a", "at://like/1"))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openRepo(t *testing.T, path string) *storage.Repository {
	t.Helper()
	repo, err := storage.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestStats(t *testing.T) {
	setupDB(t)

	out, err := execute(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "visible posts: 3")
	assert.Contains(t, out, "cursor:        none")
}

func TestShow(t *testing.T) {
	setupDB(t)

	out, err := execute(t, "show", "at://a")
	require.NoError(t, err)
	assert.Contains(t, out, "priority:  40")
	assert.Contains(t, out, "likes:     1")

	_, err = execute(t, "show", "at://missing")
	require.ErrorContains(t, err, "post not found")
}

func TestPinAndHide(t *testing.T) {
	path := setupDB(t)

	_, err := execute(t, "pin", "at://b")
	require.NoError(t, err)
	_, err = execute(t, "hide", "at://c")
	require.NoError(t, err)

	repo := openRepo(t, path)
	post, err := repo.GetPost(context.Background(), "at://b")
	require.NoError(t, err)
	assert.True(t, post.Pinned)

	count, err := repo.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = execute(t, "unhide", "at://c")
	require.NoError(t, err)
	count, err = repo.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = execute(t, "pin", "at://missing")
	require.ErrorContains(t, err, "post not found")
}

func TestDelete(t *testing.T) {
	path := setupDB(t)

	_, err := execute(t, "delete", "at://a")
	require.NoError(t, err)

	likes, err := openRepo(t, path).CountLikes(context.Background(), "at://a")
	require.NoError(t, err)
	assert.Zero(t, likes)
}

func TestEvict(t *testing.T) {
	path := setupDB(t)

	out, err := execute(t, "evict", "--max-posts", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "evicted 2 posts")

	post, err := openRepo(t, path).GetPost(context.Background(), "at://c")
	require.NoError(t, err)
	assert.Equal(t, int64(300), post.Timestamp)
}

func TestClassify(t *testing.T) {
	t.Setenv("FEEDGEN_PUBLISHER_DID", "")
	t.Setenv("FEEDGEN_DATABASE_URL", filepath.Join(t.TempDir(), "missing", "feed.db"))

	out, err := execute(t, "classify", "Here's a deep dive tutorial on Rust embedded dev")
	require.NoError(t, err)
	assert.Equal(t, "accepted priority=40\n", out)

	out, err = execute(t, "classify", "A thread on assembly programming for the Pico")
	require.NoError(t, err)
	assert.Equal(t, "accepted priority=40\n", out)

	out, err = execute(t, "classify", "just", "a", "random", "rust", "mention")
	require.NoError(t, err)
	assert.Equal(t, "rejected\n", out)
}

func TestClassifyWithRulesFile(t *testing.T) {
	t.Setenv("FEEDGEN_PUBLISHER_DID", "")
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte("topic: [Zig]\nform: [thread]\n"), 0o600))

	out, err := execute(t, "--rules-file", rules, "classify", "A Zig thread")
	require.NoError(t, err)
	assert.Equal(t, "accepted priority=40\n", out)

	out, err = execute(t, "--rules-file", rules, "classify", "A Rust thread")
	require.NoError(t, err)
	assert.Equal(t, "rejected\n", out)
}

func TestStatsRequiresPublisherDID(t *testing.T) {
	setupDB(t)
	t.Setenv("FEEDGEN_PUBLISHER_DID", "")

	_, err := execute(t, "stats")
	require.ErrorContains(t, err, "load config")
}
