package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rinkside/rinkside/pkg/client"
	"github.com/rinkside/rinkside/pkg/config"
	"github.com/rinkside/rinkside/pkg/utils"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "uploader",
		Usage: "upload game footage to a rinkside server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-format", Value: "text", EnvVars: []string{"LOG_FORMAT"}},
		},
		Before: func(c *cli.Context) error {
			config.LoggingConfig{Level: c.String("log-level"), Format: c.String("log-format")}.SetupLogging()
			return nil
		},
		Commands: []*cli.Command{uploadCommand()},
	}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "upload a video file in resumable chunks",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", EnvVars: []string{"RINKSIDE_SERVER"}},
			&cli.StringFlag{Name: "token", EnvVars: []string{"RINKSIDE_TOKEN"}},
			&cli.StringFlag{Name: "mime-type", Usage: "declared content type (server default when empty)"},
			&cli.Int64Flag{Name: "chunk-size", Value: client.DefaultChunkSize},
			&cli.Int64Flag{Name: "threshold", Value: client.DefaultThreshold, Usage: "files up to this size are sent as one chunk"},
			&cli.IntFlag{Name: "attempts", Value: client.DefaultMaxAttempts},
			&cli.DurationFlag{Name: "backoff", Value: client.DefaultInitialBackoff},
			&cli.IntFlag{Name: "restarts", Value: client.DefaultMaxRestarts},
		},
		Action: runUpload,
	}
}

func runUpload(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("missing FILE argument", 2)
	}

	restarts := c.Int("restarts")
	if restarts == 0 {
		restarts = -1
	}

	uploader := client.New(c.String("server"), client.Options{
		Token:          c.String("token"),
		ChunkSize:      c.Int64("chunk-size"),
		Threshold:      c.Int64("threshold"),
		MaxAttempts:    c.Int("attempts"),
		InitialBackoff: c.Duration("backoff"),
		MaxRestarts:    restarts,
		OnProgress: func(p client.Progress) {
			log.Info().
				Int("chunk", p.CurrentChunk).
				Int("chunks", p.TotalChunks).
				Int("percent", p.Percentage).
				Str("uploaded", utils.FormatBytes(p.UploadedBytes)).
				Msg("Upload progress")
		},
	})

	result, err := uploader.UploadFile(c.Context, path, c.String("mime-type"))
	if err != nil {
		return err
	}

	if err := verifyChecksum(path, result.Checksum); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	log.Info().
		Str("upload_id", result.UploadID).
		Str("file_key", result.FileKey).
		Str("size", utils.FormatBytes(result.FileSize)).
		Msg("Upload complete")
	fmt.Fprintln(c.App.Writer, result.VideoURL)
	return nil
}

// verifyChecksum compares the local file against the hash the server computed
// over the assembled upload. Servers that report no checksum are trusted.
func verifyChecksum(path, remote string) error {
	if remote == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to reopen %s: %w", path, err)
	}
	defer f.Close()

	local, err := utils.ComputeSHA256FromReader(f)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if local != remote {
		return fmt.Errorf("checksum mismatch: local %s, server %s", local, remote)
	}
	return nil
}
