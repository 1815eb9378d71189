package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/pagestore/internal"
	pkgconfig "github.com/starford/pagestore/pkg/config"
)

var version = "dev"

type runner func(ctx context.Context, opts ...internal.Option) error

func action(run runner) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithVersion(version),
		}

		if err := run(ctx, opts...); err != nil {
			return fmt.Errorf("%s: %w", cmd.Name, err)
		}
		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "pagestore",
		Usage:   "Flat-file page storage with a derived search index",
		Version: version,
		Action:  action(internal.Run),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, the watcher and background index maintenance",
				Action: action(internal.Run),
			},
			{
				Name:   "rebuild",
				Usage:  "Regenerate the configured index and exit",
				Action: action(internal.Rebuild),
			},
			{
				Name:   "check",
				Usage:  "Report index consistency; exits non-zero unless ok",
				Action: action(internal.Check),
			},
			{
				Name:   "mcp",
				Usage:  "Serve page tools over MCP stdio",
				Action: action(internal.ServeMCP),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
