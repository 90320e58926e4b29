package cli

import (
	"context"

	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:    "kioku",
		Usage:   "Agent memory plugin bridging lifecycle hooks to a semantic memory service",
		Version: version,
		Commands: []*cli.Command{
			hookCommand(),
			mcpCommand(),
			tasksCommand(),
			searchCommand(),
			toolsCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// setup applies the config file overlay and installs the logger.
func (cfg *config) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := cfg.loadFile(cmd); err != nil {
		return ctx, err
	}

	logger := logging.New(cfg.logLevel, cmd.Root().ErrWriter)
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}
