package cli

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/kioku/pkg/tool"
	"github.com/urfave/cli/v3"
)

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "Print tool definitions for host-runtime registration as JSON",
		Action: func(ctx context.Context, c *cli.Command) error {
			encoder := json.NewEncoder(c.Root().Writer)
			encoder.SetIndent("", "  ")
			return encoder.Encode(tool.Definitions())
		},
	}
}
