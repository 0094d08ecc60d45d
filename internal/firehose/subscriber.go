// Package firehose consumes post and like commits from Jetstream and hands
// them to the feed service.
package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/tech-threads-feed/internal/domain"
)

const (
	cursorServiceName  = "jetstream"
	cursorSaveInterval = 5 * time.Second
	reconnectBackoff   = 5 * time.Second
	statsLogInterval   = 30 * time.Second
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream.
var wantedCollections = []string{
	collectionPost,
	collectionLike,
}

// EventHandler receives decoded firehose events. *domain.FeedService
// implements it.
type EventHandler interface {
	ProcessNewPost(ctx context.Context, incoming *domain.IncomingPost) (bool, error)
	ProcessDeletePost(ctx context.Context, uri string) error
	ProcessLike(ctx context.Context, like *domain.IncomingLike) error
	ProcessUnlike(ctx context.Context, likeURI string) error
	GetCursor(ctx context.Context, service string) (int64, error)
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// Subscriber connects to the Jetstream firehose and processes events.
type Subscriber struct {
	url     string
	handler EventHandler
	logger  *slog.Logger
}

// NewSubscriber creates a new firehose subscriber.
func NewSubscriber(firehoseURL string, handler EventHandler, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		url:     firehoseURL,
		handler: handler,
		logger:  logger,
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.subscribe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("firehose connection error, reconnecting", "error", err, "backoff", reconnectBackoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectBackoff):
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse firehose url: %w", err)
	}
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// stats counts events over the lifetime of one connection.
type stats struct {
	events, commits, matched, likes, deletes int64
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.handler.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL, err := s.buildURL(cursor)
	if err != nil {
		return err
	}
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("connected to firehose")

	var (
		st             stats
		latestCursor   int64
		lastCursorSave = time.Now()
		lastStatsLog   = time.Now()
	)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if latestCursor > 0 {
				s.saveCursor(context.WithoutCancel(ctx), latestCursor)
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		st.events++
		latestCursor = event.TimeUS

		if event.Kind == "commit" && event.Commit != nil {
			st.commits++
			if err := s.handleCommit(ctx, event, &st); err != nil {
				s.logger.Error("failed to handle commit",
					"collection", event.Commit.Collection,
					"operation", event.Commit.Operation,
					"error", err,
				)
			}
		}

		if time.Since(lastStatsLog) >= statsLogInterval {
			s.logger.Info("firehose stats",
				"events_received", st.events,
				"commits_received", st.commits,
				"posts_matched", st.matched,
				"likes_received", st.likes,
				"deletes_received", st.deletes,
			)
			lastStatsLog = time.Now()
		}

		if time.Since(lastCursorSave) >= cursorSaveInterval {
			if s.saveCursor(ctx, latestCursor) {
				lastCursorSave = time.Now()
			}
		}
	}
}

func (s *Subscriber) saveCursor(ctx context.Context, cursor int64) bool {
	if err := s.handler.UpdateCursor(ctx, cursorServiceName, cursor); err != nil {
		s.logger.Error("failed to save cursor", "error", err)
		return false
	}
	return true
}

func (s *Subscriber) handleCommit(ctx context.Context, event *jetstreamEvent, st *stats) error {
	commit := event.Commit
	uri := event.uri()

	switch commit.Collection {
	case collectionPost:
		switch commit.Operation {
		case "create":
			if commit.Post == nil {
				return nil
			}
			incoming := &domain.IncomingPost{
				URI:       uri,
				AuthorDID: event.DID,
				Text:      commit.Post.Text,
				Embed:     commit.Post.Embed.toDomain(),
				Timestamp: event.TimeUS / 1_000_000,
			}

			matched, err := s.handler.ProcessNewPost(ctx, incoming)
			if err != nil {
				return err
			}
			if matched {
				st.matched++
				s.logger.Info("matched post",
					"uri", uri,
					"text_preview", truncate(incoming.Text, 100),
				)
			}
			return nil

		case "delete":
			st.deletes++
			return s.handler.ProcessDeletePost(ctx, uri)
		}

	case collectionLike:
		switch commit.Operation {
		case "create":
			if commit.Like == nil || commit.Like.Subject.URI == "" {
				return nil
			}
			st.likes++
			return s.handler.ProcessLike(ctx, &domain.IncomingLike{
				URI:        uri,
				SubjectURI: commit.Like.Subject.URI,
				LikerDID:   event.DID,
			})

		case "delete":
			return s.handler.ProcessUnlike(ctx, uri)
		}
	}

	return nil
}

// truncate returns the first n bytes of s, appending "..." if truncated. The
// cut is moved back to a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
