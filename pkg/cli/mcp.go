package cli

import (
	"context"

	"github.com/m-mizutani/kioku/pkg/tool"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, featureFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the task and memory tools over MCP (stdio)",
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

			err = tool.ServeMCP(ctx, toolkit, version)
			drain(ctx, toolkit)
			return err
		},
	}
}
