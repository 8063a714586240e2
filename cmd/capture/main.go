package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jo-hoe/imagecapture/internal/capture"
	"github.com/jo-hoe/imagecapture/internal/core"
	"github.com/jo-hoe/imagecapture/internal/flow"
	"github.com/jo-hoe/imagecapture/internal/permission"
	"github.com/jo-hoe/imagecapture/internal/provider"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

// runCaptures drives one flow through n presses with a simulated camera and
// prints the resulting reference after each one.
func runCaptures(out io.Writer, config *core.ServiceConfig, kind flow.Kind, times int, source capture.Source, granted bool) error {
	fileProvider, err := provider.NewFileProvider(config.Authority,
		provider.Root{Name: capture.CacheRootName, Dir: config.Storage.CacheDir},
		provider.Root{Name: capture.ImagesRootName, Dir: config.ImagesDir()},
	)
	if err != nil {
		return fmt.Errorf("failed to register file provider: %w", err)
	}

	controller := flow.NewTempController(capture.NewMinter(fileProvider, capture.TempPolicy(config.Storage.CacheDir, time.Now)))
	if kind == flow.Folder {
		controller = flow.NewFolderController(capture.NewMinter(fileProvider, capture.FolderPolicy(config.ImagesDir())), fileProvider)
	}
	loop := flow.NewLoop(permission.StaticGate{Granted: granted}, capture.NewSimulatedActivity(fileProvider, source), controller)

	for i := 0; i < times; i++ {
		if err := loop.Press(kind); err != nil {
			return err
		}
		loop.RunPending()

		state := controller.State()
		if state.Err != "" {
			return errors.New(state.Err)
		}
		if state.Displayed.IsEmpty() {
			_, _ = fmt.Fprintf(out, "%d\t-\n", i+1)
			continue
		}
		path, err := fileProvider.Resolve(state.Displayed)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%d\t%s\t%s\n", i+1, state.Displayed, path)
	}
	return nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	config := core.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		loaded, err := core.LoadConfig(path)
		if err != nil {
			return err
		}
		config = loaded
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.SlogLevel()})))

	kind, err := flow.ParseKind(cmd.String("flow"))
	if err != nil {
		return err
	}
	source := capture.PatternSource(config.Capture.Width, config.Capture.Height)
	if path := cmd.String("source"); path != "" {
		source = capture.FileSource(path)
	}
	return runCaptures(os.Stdout, config, kind, int(cmd.Int("times")), source, !cmd.Bool("deny"))
}

func main() {
	cmd := &cli.Command{
		Name:   "imagecapture-cli",
		Usage:  "Run a capture flow with a simulated camera",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file, defaults are used when empty",
				Sources: cli.EnvVars("CONFIG_PATH", "APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "flow",
				Usage: "Flow to run: temp or folder",
				Value: string(flow.Temp),
			},
			&cli.IntFlag{
				Name:  "times",
				Usage: "Number of captures",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Image file the simulated camera returns; a test pattern when empty",
			},
			&cli.BoolFlag{
				Name:  "deny",
				Usage: "Deny the camera permission",
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Printf("capture error: %v", err)
		os.Exit(1)
	}
}
