package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
	"github.com/vodkeeper/vodkeeper/internal/media"
	"github.com/vodkeeper/vodkeeper/util"
)

// One-shot media fetch, bypassing the job queue entirely. Useful for
// grabbing a single video and for poking at the extraction layer.
func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	zap.RedirectStdLog(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:      "fetch-video",
		Usage:     "download a single video to a local file",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Usage: "output `DIR`",
				Value: ".",
			},
			&cli.BoolFlag{
				Name:  "info",
				Usage: "print metadata without downloading",
			},
		},
		HideHelpCommand: true,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one URL argument")
			}
			return fetch(ctx, c.Args().First(), c.String("target"), c.Bool("info"))
		},
	}

	result := make(chan error, 1)
	go func() { result <- app.Run(os.Args) }()

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		stop()
		if err = <-result; err != nil {
			logger.Fatal(err.Error())
		}
	}
}

func fetch(ctx context.Context, url, target string, infoOnly bool) error {
	youtube := media.NewYouTube()

	info, err := youtube.Extract(ctx, url)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("%s is a scheduled premiere, nothing to download yet", url)
	}
	zap.S().Infow("resolved video",
		"id", info.ID, "title", info.Title, "channel", info.Channel,
		"class", media.Classify(info, vodkeeper.DefaultConfig().ShortMaxDuration).String())
	if infoOnly {
		return nil
	}
	if info.IsLive {
		return fmt.Errorf("%s is a livestream in progress, try again when it ends", url)
	}

	filename, err := util.MediaFilename(url)
	if err != nil {
		return err
	}
	dest := filepath.Join(target, filename)

	bar := progressbar.DefaultBytes(1, "downloading")
	youtube.Progress = func(expected int64, r io.Reader) io.Reader {
		bar.ChangeMax64(expected)
		return io.TeeReader(r, bar)
	}

	written, err := youtube.Fetch(ctx, url, dest, "")
	if err != nil {
		return err
	}
	zap.S().Infow("downloaded", "dest", dest, "bytes", written)
	return nil
}
