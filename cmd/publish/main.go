package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blackmichael/tech-threads-feed/internal/bluesky"
	"github.com/blackmichael/tech-threads-feed/internal/config"
)

func main() {
	config.LoadDotEnv()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the publish command. Every flag falls back to an
// environment variable.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"handle":      "BLUESKY_HANDLE",
		"password":    "BLUESKY_APP_PASSWORD",
		"pds":         "BLUESKY_PDS",
		"service-did": "FEEDGEN_SERVICE_DID",
		"hostname":    "FEEDGEN_HOSTNAME",
		"rkey":        "FEEDGEN_FEED_NAME",
		"avatar":      "FEEDGEN_AVATAR",
	} {
		_ = v.BindEnv(key, env)
	}

	cmd := &cobra.Command{
		Use:           "publish",
		Short:         "Publish or unpublish the app.bsky.feed.generator record",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("handle", "", "BlueSky handle (e.g. user.bsky.social)")
	flags.String("password", "", "BlueSky app password")
	flags.String("pds", "https://bsky.social", "PDS service URL")
	flags.String("service-did", "", "Feed generator service DID (defaults to did:web:<FEEDGEN_HOSTNAME>)")
	flags.String("hostname", "", "Feed generator hostname, used when --service-did is not set")
	flags.String("rkey", "TechThreadsAndMore", "Record key / short name for the feed")
	flags.String("name", "Tech Threads", "Feed display name (max 24 graphemes)")
	flags.String("description", "Threads, tutorials and deep dives on programming, embedded dev and hardware.", "Feed description (max 300 graphemes)")
	flags.String("avatar", "", "PNG or JPEG file to upload as the feed avatar")
	flags.Bool("unpublish", false, "Delete the feed generator record instead of publishing")
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	var (
		ctx      = cmd.Context()
		out      = cmd.OutOrStdout()
		handle   = v.GetString("handle")
		password = v.GetString("password")
		feedRKey = v.GetString("rkey")
	)

	if handle == "" || password == "" {
		return errors.New("--handle and --password are required (or set BLUESKY_HANDLE and BLUESKY_APP_PASSWORD)")
	}
	if feedRKey == "" {
		return errors.New("--rkey is required")
	}

	client := bluesky.NewClient(v.GetString("pds"), "")

	fmt.Fprintf(out, "Logging in as %s...\n", handle)
	if err := client.Login(ctx, handle, password); err != nil {
		return err
	}
	fmt.Fprintf(out, "Authenticated as %s\n", client.DID())

	feedURI := fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", client.DID(), feedRKey)

	if v.GetBool("unpublish") {
		fmt.Fprintf(out, "Unpublishing feed %q...\n", feedRKey)
		if err := client.UnpublishFeedGenerator(ctx, feedRKey); err != nil {
			return err
		}
		fmt.Fprintf(out, "Feed unpublished: %s\n", feedURI)
		return nil
	}

	serviceDID := v.GetString("service-did")
	if serviceDID == "" && v.GetString("hostname") != "" {
		serviceDID = "did:web:" + v.GetString("hostname")
	}
	if serviceDID == "" {
		return errors.New("--service-did or --hostname is required for publishing")
	}

	record := bluesky.FeedGeneratorRecord{
		DID:         serviceDID,
		DisplayName: v.GetString("name"),
		Description: v.GetString("description"),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	if path := v.GetString("avatar"); path != "" {
		avatar, err := uploadAvatar(ctx, client, path)
		if err != nil {
			return err
		}
		record.Avatar = avatar
		fmt.Fprintf(out, "Uploaded avatar %s (%s, %d bytes)\n", path, avatar.MimeType, avatar.Size)
	}

	fmt.Fprintf(out, "Publishing feed %q for %s...\n", feedRKey, serviceDID)
	if err := client.PublishFeedGenerator(ctx, feedRKey, record); err != nil {
		return err
	}

	fmt.Fprintf(out, "Feed published: %s\n", feedURI)
	return nil
}

// avatarMimeTypes are the blob types app.bsky.feed.generator accepts.
var avatarMimeTypes = map[string]bool{"image/png": true, "image/jpeg": true}

func uploadAvatar(ctx context.Context, client *bluesky.Client, path string) (*bluesky.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	mimeType := http.DetectContentType(data)
	if !avatarMimeTypes[mimeType] {
		return nil, fmt.Errorf("avatar %s: unsupported type %s, want PNG or JPEG", path, mimeType)
	}
	return client.UploadBlob(ctx, data, mimeType)
}
