package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/kioku/pkg/tool"
	"github.com/urfave/cli/v3"
)

func searchCommand() *cli.Command {
	var (
		cfg   config
		query string
		limit int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Free-text query",
			Required:    true,
			Destination: &query,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of results",
			Value:       10,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Search stored memories",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			toolkit, err := cfg.newToolkit()
			if err != nil {
				return err
			}

			out, err := toolkit.SearchMemory(ctx, &tool.MemorySearchParams{
				Query: query,
				TopK:  int(limit),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, out)
			return nil
		},
	}
}
