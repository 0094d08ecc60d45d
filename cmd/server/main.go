package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blackmichael/tech-threads-feed/internal/bluesky"
	"github.com/blackmichael/tech-threads-feed/internal/classifier"
	"github.com/blackmichael/tech-threads-feed/internal/config"
	"github.com/blackmichael/tech-threads-feed/internal/domain"
	"github.com/blackmichael/tech-threads-feed/internal/firehose"
	"github.com/blackmichael/tech-threads-feed/internal/httpserver"
	"github.com/blackmichael/tech-threads-feed/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var cfgFile string

func main() {
	config.LoadDotEnv()

	v := config.NewViper()
	rootCmd := &cobra.Command{
		Use:           "feedgen",
		Short:         "Tech threads Bluesky feed generator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := readConfigFile(v); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "Path to a configuration file (yaml, toml or json)")
	flags.Int("port", v.GetInt("port"), "HTTP listen port")
	flags.String("database-url", v.GetString("database.url"), "Postgres URL or SQLite file path")
	flags.String("rules-file", v.GetString("rules.file"), "YAML file overriding the classifier rules")
	flags.String("log-level", v.GetString("log.level"), "Log level (debug, info, warn, error)")
	bindFlag(v, rootCmd, "port", "port")
	bindFlag(v, rootCmd, "database.url", "database-url")
	bindFlag(v, rootCmd, "rules.file", "rules-file")
	bindFlag(v, rootCmd, "log.level", "log-level")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg.LogLevel)

	repo, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database")

	rules := classifier.DefaultRules()
	if cfg.RulesFile != "" {
		rules, err = classifier.LoadRules(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		logger.Info("loaded classifier rules", "file", cfg.RulesFile)
	}

	clf, err := classifier.New(rules, classifier.NewSafetyChecker(), logger)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}

	feedService, err := domain.NewFeedService(domain.FeedServiceConfig{
		FeedURI:    cfg.FeedURI(),
		OwnerDID:   cfg.OwnerDID,
		Classifier: clf,
		Posts:      repo,
		Cursors:    repo,
		Fetcher:    bluesky.NewClient("", cfg.AppViewURL),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create feed service: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subscriber := firehose.NewSubscriber(cfg.FirehoseURL, feedService, logger)
	go func() {
		if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("firehose subscriber exited with error", "error", err)
		}
	}()

	policy := cfg.Eviction()
	go feedService.StartEvictionJob(ctx, policy)

	server := httpserver.NewServer(cfg, feedService, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("server started",
		"port", cfg.Port,
		"hostname", cfg.Hostname,
		"feed", cfg.FeedURI(),
		"max_posts", policy.MaxPosts,
		"eviction_interval", policy.Interval,
	)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-serverErr:
		stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}

func readConfigFile(v *viper.Viper) error {
	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", cfgFile, err)
	}
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
