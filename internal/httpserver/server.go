// Package httpserver serves the feed generator XRPC endpoints and the did:web
// document.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blackmichael/tech-threads-feed/internal/config"
	"github.com/blackmichael/tech-threads-feed/internal/domain"
)

const defaultLimit = 50

// FeedReader serves feed pages. *domain.FeedService implements it.
type FeedReader interface {
	FeedURIs() []string
	GetFeedSkeleton(ctx context.Context, feedURI string, limit int, cursor string) (*domain.FeedSkeleton, error)
}

// Server is the HTTP server that serves feed generator XRPC endpoints.
type Server struct {
	cfg        *config.Config
	feeds      FeedReader
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server with the given feed service.
func NewServer(cfg *config.Config, feeds FeedReader, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		feeds:  feeds,
		logger: logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Routes returns the server's router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(withLogging(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/.well-known/did.json", s.handleDIDDoc)
	r.Get("/health", s.handleHealth)
	r.Route("/xrpc", func(r chi.Router) {
		r.Get("/app.bsky.feed.describeFeedGenerator", s.handleDescribeFeedGenerator)
		r.Get("/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
	})

	return r
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDIDDoc(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"@context": []string{"https://www.w3.org/ns/did/v1"},
		"id":       s.cfg.ServiceDID(),
		"service": []map[string]any{
			{
				"id":              "#bsky_fg",
				"type":            "BskyFeedGenerator",
				"serviceEndpoint": fmt.Sprintf("https://%s", s.cfg.Hostname),
			},
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDescribeFeedGenerator(w http.ResponseWriter, _ *http.Request) {
	uris := s.feeds.FeedURIs()
	feeds := make([]map[string]string, 0, len(uris))
	for _, uri := range uris {
		feeds = append(feeds, map[string]string{"uri": uri})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"did":   s.cfg.ServiceDID(),
		"feeds": feeds,
	})
}

func (s *Server) handleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	feedURI := query.Get("feed")
	if feedURI == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "feed parameter is required")
		return
	}

	limit := defaultLimit
	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			s.logger.Warn("invalid limit parameter", "limit", l)
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	cursor := query.Get("cursor")

	skeleton, err := s.feeds.GetFeedSkeleton(r.Context(), feedURI, limit, cursor)
	switch {
	case errors.Is(err, domain.ErrUnknownFeed):
		writeError(w, http.StatusBadRequest, "UnknownFeed", "unknown feed "+feedURI)
		return
	case err != nil:
		s.logger.Error("failed to get feed skeleton",
			"feed", feedURI,
			"limit", limit,
			"cursor", cursor,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to get feed")
		return
	}

	s.logger.Debug("getFeedSkeleton success", "feed", feedURI, "posts_returned", len(skeleton.Posts), "next_cursor", skeleton.Cursor)

	writeJSON(w, http.StatusOK, toSkeletonResponse(skeleton))
}

type skeletonResponse struct {
	Cursor string         `json:"cursor,omitempty"`
	Feed   []skeletonItem `json:"feed"`
}

type skeletonItem struct {
	Post string `json:"post"`
}

func toSkeletonResponse(skeleton *domain.FeedSkeleton) skeletonResponse {
	items := make([]skeletonItem, len(skeleton.Posts))
	for i, p := range skeleton.Posts {
		items[i] = skeletonItem{Post: p.Post}
	}
	return skeletonResponse{Cursor: skeleton.Cursor, Feed: items}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"remote", r.RemoteAddr,
				"duration", time.Since(start),
			)
		})
	}
}
