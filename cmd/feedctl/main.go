// Command feedctl inspects and curates the feed database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blackmichael/tech-threads-feed/internal/classifier"
	"github.com/blackmichael/tech-threads-feed/internal/config"
	"github.com/blackmichael/tech-threads-feed/internal/domain"
	"github.com/blackmichael/tech-threads-feed/internal/storage"
)

func main() {
	config.LoadDotEnv()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds state shared by the subcommands. The repository is opened on
// first use so commands that never touch the database do not need one.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	repo    *storage.Repository
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{
		v:      config.NewViper(),
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}

	root := &cobra.Command{
		Use:           "feedctl",
		Short:         "Inspect and curate the tech threads feed",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.readConfigFile(); err != nil {
				return err
			}
			if cmd.Annotations[annotationNoConfig] != "" {
				return nil
			}
			return a.loadConfig()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.repo != nil {
				return a.repo.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Path to a configuration file")
	flags.String("database-url", a.v.GetString("database.url"), "Postgres URL or SQLite file path")
	flags.String("rules-file", a.v.GetString("rules.file"), "YAML file overriding the classifier rules")
	if err := a.v.BindPFlag("database.url", flags.Lookup("database-url")); err != nil {
		panic(err)
	}
	if err := a.v.BindPFlag("rules.file", flags.Lookup("rules-file")); err != nil {
		panic(err)
	}

	root.AddCommand(
		a.statsCmd(),
		a.showCmd(),
		a.flagCmd("pin", "Pin a post", func(ctx context.Context, uri string) error {
			return a.repo.SetPinned(ctx, uri, true)
		}),
		a.flagCmd("unpin", "Unpin a post", func(ctx context.Context, uri string) error {
			return a.repo.SetPinned(ctx, uri, false)
		}),
		a.flagCmd("hide", "Hide a post from the feed without deleting it", func(ctx context.Context, uri string) error {
			return a.repo.SetDeleted(ctx, uri, true)
		}),
		a.flagCmd("unhide", "Show a hidden post again", func(ctx context.Context, uri string) error {
			return a.repo.SetDeleted(ctx, uri, false)
		}),
		a.deleteCmd(),
		a.evictCmd(),
		a.classifyCmd(),
	)

	return root
}

// annotationNoConfig marks commands that run without a validated config,
// and so without a publisher DID or database.
const annotationNoConfig = "feedctl/no-config"

func (a *app) readConfigFile() error {
	if a.cfgFile == "" {
		return nil
	}
	a.v.SetConfigFile(a.cfgFile)
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", a.cfgFile, err)
	}
	return nil
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) open(ctx context.Context) error {
	if a.repo != nil {
		return nil
	}
	repo, err := storage.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.repo = repo
	return nil
}

func (a *app) classifier() (*classifier.Classifier, error) {
	rules := classifier.DefaultRules()
	if path := a.v.GetString("rules.file"); path != "" {
		var err error
		if rules, err = classifier.LoadRules(path); err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
	}
	return classifier.New(rules, classifier.NewSafetyChecker(), a.logger)
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show post counts and the firehose cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}

			visible, err := a.repo.CountPosts(ctx)
			if err != nil {
				return err
			}
			cursor, err := a.repo.GetCursor(ctx, "jetstream")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "feed:          %s\n", a.cfg.FeedURI())
			fmt.Fprintf(out, "visible posts: %d\n", visible)
			fmt.Fprintf(out, "max posts:     %d\n", a.cfg.MaxPosts)
			if cursor > 0 {
				fmt.Fprintf(out, "cursor:        %d (%s)\n", cursor, time.UnixMicro(cursor).UTC().Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "cursor:        none")
			}
			return nil
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <uri>",
		Short: "Show a stored post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}

			post, err := a.repo.GetPost(ctx, args[0])
			if err != nil {
				return notFound(err, args[0])
			}
			likes, err := a.repo.CountLikes(ctx, post.URI)
			if err != nil {
				return err
			}

			printPost(cmd.OutOrStdout(), post, likes)
			return nil
		},
	}
}

func (a *app) flagCmd(use, short string, apply func(ctx context.Context, uri string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <uri>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := apply(ctx, args[0]); err != nil {
				return notFound(err, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", use, args[0])
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uri>",
		Short: "Remove a post and its likes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := a.repo.DeletePost(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted: %s\n", args[0])
			return nil
		},
	}
}

func (a *app) evictCmd() *cobra.Command {
	var (
		maxPosts int
		maxAge   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Run one eviction pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			clf, err := a.classifier()
			if err != nil {
				return err
			}

			service, err := domain.NewFeedService(domain.FeedServiceConfig{
				FeedURI:    a.cfg.FeedURI(),
				Classifier: clf,
				Posts:      a.repo,
				Cursors:    a.repo,
				Logger:     a.logger,
			})
			if err != nil {
				return err
			}

			policy := a.cfg.Eviction()
			if cmd.Flags().Changed("max-posts") {
				policy.MaxPosts = maxPosts
			}
			if cmd.Flags().Changed("max-age") {
				policy.MaxAge = maxAge
			}

			deleted, err := service.Evict(ctx, policy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %d posts\n", deleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPosts, "max-posts", 0, "Override eviction.max_posts")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Override eviction.max_age")
	return cmd
}

func (a *app) classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "classify <text>",
		Short:       "Dry-run the classifier on a post body",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			clf, err := a.classifier()
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			scoring, ok := clf.Classify(domain.Extract(text, nil))

			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "rejected")
				return nil
			}
			fmt.Fprintf(out, "accepted priority=%d\n", scoring.Priority)
			return nil
		},
	}
}

func printPost(w io.Writer, post *domain.Post, likes int) {
	fmt.Fprintf(w, "uri:       %s\n", post.URI)
	fmt.Fprintf(w, "indexed:   %s\n", time.Unix(post.Timestamp, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "priority:  %d\n", post.Priority)
	fmt.Fprintf(w, "pinned:    %t\n", post.Pinned)
	fmt.Fprintf(w, "hidden:    %t\n", post.Deleted)
	fmt.Fprintf(w, "likes:     %d\n", likes)
	fmt.Fprintf(w, "text:      %s\n", post.Text)
}

func notFound(err error, uri string) error {
	if errors.Is(err, domain.ErrPostNotFound) {
		return fmt.Errorf("post not found: %s", uri)
	}
	return err
}
