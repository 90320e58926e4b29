package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/tool"
	"github.com/urfave/cli/v3"
)

func tasksCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, featureFlags(&cfg)...)

	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage tasks stored in memory",
		Flags: flags,
		Commands: []*cli.Command{
			tasksListCommand(&cfg),
			tasksCreateCommand(&cfg),
			tasksCompleteCommand(&cfg),
		},
	}
}

func tasksListCommand(cfg *config) *cli.Command {
	var (
		status  string
		project string
	)

	return &cli.Command{
		Name:  "list",
		Usage: "List tasks with their reconciled status",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "status",
				Aliases:     []string{"s"},
				Usage:       "Filter by status (pending or done)",
				Destination: &status,
			},
			&cli.StringFlag{
				Name:        "project",
				Aliases:     []string{"p"},
				Usage:       "Filter by project",
				Destination: &project,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			toolkit, err := cfg.newToolkit()
			if err != nil {
				return err
			}

			out, err := toolkit.ListTasks(ctx, &tool.TaskListParams{
				Status:  status,
				Project: project,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, out)
			return nil
		},
	}
}

func tasksCreateCommand(cfg *config) *cli.Command {
	var (
		title       string
		description string
		priority    string
		dueDate     string
		project     string
	)

	return &cli.Command{
		Name:  "create",
		Usage: "Create a task",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "title",
				Aliases:     []string{"t"},
				Usage:       "Task title",
				Required:    true,
				Destination: &title,
			},
			&cli.StringFlag{
				Name:        "description",
				Aliases:     []string{"d"},
				Usage:       "Task description",
				Destination: &description,
			},
			&cli.StringFlag{
				Name:        "priority",
				Usage:       "Priority (P0, P1 or P2)",
				Destination: &priority,
			},
			&cli.StringFlag{
				Name:        "due",
				Usage:       "Due date (ISO 8601)",
				Destination: &dueDate,
			},
			&cli.StringFlag{
				Name:        "project",
				Aliases:     []string{"p"},
				Usage:       "Project name",
				Destination: &project,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			toolkit, err := cfg.newToolkit()
			if err != nil {
				return err
			}

			out, err := toolkit.CreateTask(ctx, &tool.TaskCreateParams{
				Title:       title,
				Description: description,
				Priority:    priority,
				DueDate:     dueDate,
				Project:     project,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, out)
			drain(ctx, toolkit)
			return nil
		},
	}
}

func tasksCompleteCommand(cfg *config) *cli.Command {
	var outcome string

	return &cli.Command{
		Name:      "complete",
		Usage:     "Mark a task as done",
		ArgsUsage: "<task-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "outcome",
				Aliases:     []string{"o"},
				Usage:       "What came of the task",
				Destination: &outcome,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			taskID := c.Args().First()
			if taskID == "" {
				return goerr.New("task ID is required")
			}

			toolkit, err := cfg.newToolkit()
			if err != nil {
				return err
			}

			out, err := toolkit.CompleteTask(ctx, &tool.TaskCompleteParams{
				TaskID:  taskID,
				Outcome: outcome,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, out)
			drain(ctx, toolkit)
			return nil
		},
	}
}
