// Package storage persists curated posts, likes and firehose cursors in
// SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/blackmichael/tech-threads-feed/internal/domain"
)

//go:embed schema.sql
var schema string

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// Repository implements domain.PostRepository and domain.CursorRepository
// using SQLite or PostgreSQL.
type Repository struct {
	db       *sqlx.DB
	postgres bool
}

// Open connects to the database at databaseURL, verifies the connection and
// applies the schema. Postgres URLs (postgres:// or postgresql://) use the
// Postgres driver; anything else is treated as a SQLite file path. The caller
// should call Close when the repository is no longer needed.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}

	var (
		db       *sqlx.DB
		err      error
		postgres = isPostgresURL(databaseURL)
	)

	if postgres {
		db, err = sqlx.Open("postgres", databaseURL)
	} else {
		db, err = sqlx.Open("sqlite", sqliteDSN(databaseURL))
		if err == nil {
			// A single connection serializes writers and keeps per-connection
			// pragmas such as foreign_keys in effect.
			db.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &Repository{db: db, postgres: postgres}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return r, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPost inserts a post or replaces the text, priority and timestamp of
// the post with the same URI. Pinned and deleted are reset; likes survive.
func (r *Repository) UpsertPost(ctx context.Context, post *domain.Post) error {
	query := r.db.Rebind(`
		INSERT INTO posts (uri, text, pinned, deleted, priority, indexed_at, like_count)
		VALUES (?, ?, FALSE, FALSE, ?, ?, 0)
		ON CONFLICT (uri) DO UPDATE SET
			text = excluded.text,
			pinned = FALSE,
			deleted = FALSE,
			priority = excluded.priority,
			indexed_at = excluded.indexed_at`)

	if _, err := r.db.ExecContext(ctx, query,
		post.URI,
		post.Text,
		post.Priority,
		post.Timestamp,
	); err != nil {
		return fmt.Errorf("upsert post %s: %w", post.URI, err)
	}
	return nil
}

// DeletePost removes a post by URI. Its likes are removed by the foreign key
// cascade.
func (r *Repository) DeletePost(ctx context.Context, uri string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM posts WHERE uri = ?`), uri); err != nil {
		return fmt.Errorf("delete post %s: %w", uri, err)
	}
	return nil
}

// GetPost returns a single post, hidden or not.
func (r *Repository) GetPost(ctx context.Context, uri string) (*domain.Post, error) {
	var p domain.Post
	err := r.db.GetContext(ctx, &p, r.db.Rebind(`
		SELECT uri, text, pinned, deleted, priority, indexed_at, like_count
		FROM posts
		WHERE uri = ?`), uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", uri, err)
	}
	return &p, nil
}

// SetPinned pins or unpins a post.
func (r *Repository) SetPinned(ctx context.Context, uri string, pinned bool) error {
	return r.updateFlag(ctx, `UPDATE posts SET pinned = ? WHERE uri = ?`, uri, pinned)
}

// SetDeleted hides or restores a post.
func (r *Repository) SetDeleted(ctx context.Context, uri string, deleted bool) error {
	return r.updateFlag(ctx, `UPDATE posts SET deleted = ? WHERE uri = ?`, uri, deleted)
}

func (r *Repository) updateFlag(ctx context.Context, query, uri string, value bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), value, uri)
	if err != nil {
		return fmt.Errorf("update post %s: %w", uri, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post %s: %w", uri, err)
	}
	if n == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// AddLike records a like for a stored post and bumps its like count. Likes
// for unknown posts and duplicate likes change nothing.
func (r *Repository) AddLike(ctx context.Context, postURI, likeURI string) error {
	return r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO likes (post_uri, like_uri)
			SELECT ?, ?
			WHERE EXISTS (SELECT 1 FROM posts WHERE uri = ?)
			ON CONFLICT (post_uri, like_uri) DO NOTHING`),
			postURI, likeURI, postURI,
		)
		if err != nil {
			return fmt.Errorf("insert like: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert like: %w", err)
		}
		if inserted == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE posts SET like_count = like_count + 1 WHERE uri = ?`),
			postURI,
		); err != nil {
			return fmt.Errorf("increment like count: %w", err)
		}
		return nil
	})
}

// RemoveLike deletes every like with the given URI and decrements the like
// counts of the posts it referenced.
func (r *Repository) RemoveLike(ctx context.Context, likeURI string) error {
	return r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE posts SET like_count = like_count - 1
			WHERE like_count > 0
			AND uri IN (SELECT post_uri FROM likes WHERE like_uri = ?)`),
			likeURI,
		); err != nil {
			return fmt.Errorf("decrement like count: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM likes WHERE like_uri = ?`), likeURI); err != nil {
			return fmt.Errorf("delete like: %w", err)
		}
		return nil
	})
}

// CountLikes returns the number of likes stored for a post.
func (r *Repository) CountLikes(ctx context.Context, postURI string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM likes WHERE post_uri = ?`), postURI); err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	return n, nil
}

// QueryPage retrieves visible posts ordered by indexed_at descending, ties by
// URI descending, together with the number of visible posts. Both queries
// run in one transaction so a page and its total agree.
func (r *Repository) QueryPage(ctx context.Context, limit, offset int) ([]domain.Post, int, error) {
	var opts *sql.TxOptions
	if r.postgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}

	var (
		posts []domain.Post
		total int
	)
	err := r.withTx(ctx, opts, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &posts, tx.Rebind(`
			SELECT uri, text, pinned, deleted, priority, indexed_at, like_count
			FROM posts
			WHERE deleted = FALSE
			ORDER BY indexed_at DESC, uri DESC
			LIMIT ? OFFSET ?`),
			limit, offset,
		); err != nil {
			return fmt.Errorf("query posts (limit=%d, offset=%d): %w", limit, offset, err)
		}

		if err := tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM posts WHERE deleted = FALSE`); err != nil {
			return fmt.Errorf("count posts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return posts, total, nil
}

// CountPosts returns the number of visible posts.
func (r *Repository) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM posts WHERE deleted = FALSE`); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// DeleteOldPosts removes posts indexed before cutoff (when cutoff is
// positive) and any excess rows beyond maxRows, keeping the most recent
// posts. Hidden posts count towards maxRows. Returns the total number of rows
// deleted.
func (r *Repository) DeleteOldPosts(ctx context.Context, cutoff int64, maxRows int) (int64, error) {
	var deleted int64
	err := r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		if cutoff > 0 {
			res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM posts WHERE indexed_at < ?`), cutoff)
			if err != nil {
				return fmt.Errorf("delete expired posts: %w", err)
			}
			n, _ := res.RowsAffected()
			deleted += n
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`
			DELETE FROM posts WHERE uri NOT IN (
				SELECT uri FROM posts
				ORDER BY indexed_at DESC, uri DESC
				LIMIT ?
			)`), maxRows,
		)
		if err != nil {
			return fmt.Errorf("delete excess posts: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *Repository) withTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isPostgresURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqlitePragmas
	}
	return path + "?" + sqlitePragmas
}
