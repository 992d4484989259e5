package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/offline"
	"github.com/iTrooz/offline-cache/internal/proxy"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:   "offline-cache",
		Usage:  "Cache-first proxy that pre-caches a fixed asset list",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration",
				Value:   "configs/config.yaml",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "install the assets, then serve requests cache-first",
				Action: serve,
			},
			{
				Name:   "install",
				Usage:  "fetch every asset into the cache once and exit",
				Action: install,
			},
			{
				Name:      "fetch",
				Usage:     "answer one GET request cache-first and print the outcome",
				ArgsUsage: "<url>",
				Action:    fetch,
			},
			{
				Name:   "config",
				Usage:  "print the effective configuration",
				Action: printConfig,
			},
		},
	}
}

// loadConfig reads and validates the configuration, then sets up logging
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := cfg.LogLevel()
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	server, err := proxy.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}
	defer func() { _ = server.Close() }()

	return server.Start(ctx)
}

func install(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	server, err := proxy.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}
	defer func() { _ = server.Close() }()

	result, err := server.Manager().Install(ctx)
	printInstallResult(cmd.Root().Writer, result)
	return err
}

func printInstallResult(w io.Writer, result *offline.InstallResult) {
	for _, o := range result.Outcomes {
		if o.Err != nil {
			_, _ = fmt.Fprintf(w, "FAIL  %s: %v\n", o.URL, o.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "OK    %s (%d, %s)\n", o.URL, o.StatusCode, humanize.Bytes(uint64(o.Size)))
	}
	if result.OK() {
		_, _ = fmt.Fprintf(w, "%s: %d assets cached\n", result.CacheName, len(result.Outcomes))
	} else {
		_, _ = fmt.Fprintf(w, "%s: nothing cached\n", result.CacheName)
	}
}

func fetch(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("fetch takes exactly one URL")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	server, err := proxy.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}
	defer func() { _ = server.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cmd.Args().First(), nil)
	if err != nil {
		return err
	}

	resp, hit, err := server.Manager().Intercept(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}

	source := "MISS"
	if hit {
		source = "HIT"
	}
	_, _ = fmt.Fprintf(cmd.Root().Writer, "%s %d %s\n", source, resp.StatusCode, humanize.Bytes(uint64(n)))
	return nil
}

func printConfig(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := cfg.Dump()
	if err != nil {
		return err
	}
	_, err = cmd.Root().Writer.Write(data)
	return err
}
