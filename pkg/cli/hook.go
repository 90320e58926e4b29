package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/hook"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// flushGrace bounds how long a one-shot process waits for detached writes.
const flushGrace = 10 * time.Second

// drain gives detached writes a bounded grace period before process exit.
func drain(ctx context.Context, f interface{ Flush(context.Context) error }) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushGrace)
	defer cancel()

	if err := f.Flush(flushCtx); err != nil {
		logging.From(ctx).Warn("detached writes not fully drained", "error", err)
	}
}

// Hook payloads arrive as JSON on stdin; whatever a hook wants the host to
// use comes back on stdout. Logs stay on stderr.

type promptPayload struct {
	Prompt string `json:"prompt"`
}

type messagesPayload struct {
	Messages []model.Message `json:"messages"`
}

type toolPayload struct {
	Name       string `json:"name"`
	Input      string `json:"input"`
	Output     string `json:"output"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
}

func hookCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, featureFlags(&cfg)...)

	return &cli.Command{
		Name:  "hook",
		Usage: "Handle one agent lifecycle event (payload on stdin)",
		Flags: flags,
		Commands: []*cli.Command{
			{
				Name:  "user-prompt",
				Usage: "Return memory context to inject for the prompt",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runHook(ctx, c, &cfg, func(ctx context.Context, plugin *hook.Plugin, in io.Reader, out io.Writer) error {
						var payload promptPayload
						if err := decodePayload(in, &payload); err != nil {
							return err
						}
						if block := plugin.UserPrompt(ctx, payload.Prompt); block != "" {
							fmt.Fprintln(out, block)
						}
						return nil
					})
				},
			},
			{
				Name:  "turn-end",
				Usage: "Extract typed memories from the finished turn",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runHook(ctx, c, &cfg, func(ctx context.Context, plugin *hook.Plugin, in io.Reader, out io.Writer) error {
						var payload messagesPayload
						if err := decodePayload(in, &payload); err != nil {
							return err
						}
						plugin.TurnEnd(ctx, payload.Messages)
						return nil
					})
				},
			},
			{
				Name:  "pre-compact",
				Usage: "Flush the conversation to memory before compaction",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runHook(ctx, c, &cfg, func(ctx context.Context, plugin *hook.Plugin, in io.Reader, out io.Writer) error {
						var payload messagesPayload
						if err := decodePayload(in, &payload); err != nil {
							return err
						}
						if report := plugin.PreCompact(ctx, payload.Messages); report != nil {
							return json.NewEncoder(out).Encode(report)
						}
						return nil
					})
				},
			},
			{
				Name:  "post-compact",
				Usage: "Open the post-compaction retrieval window",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runHook(ctx, c, &cfg, func(ctx context.Context, plugin *hook.Plugin, in io.Reader, out io.Writer) error {
						plugin.PostCompact(ctx)
						return nil
					})
				},
			},
			{
				Name:  "tool-done",
				Usage: "Record a completed tool execution",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runHook(ctx, c, &cfg, func(ctx context.Context, plugin *hook.Plugin, in io.Reader, out io.Writer) error {
						var payload toolPayload
						if err := decodePayload(in, &payload); err != nil {
							return err
						}
						plugin.ToolDone(ctx, &hook.ToolTrace{
							Name:     payload.Name,
							Input:    payload.Input,
							Output:   payload.Output,
							Success:  payload.Success,
							Duration: time.Duration(payload.DurationMS) * time.Millisecond,
						})
						return nil
					})
				},
			},
		},
	}
}

// runHook wraps one hook invocation: load the persisted state, run the hook
// body, drain detached writes, save the state back. The process is one-shot,
// so skipping any of these loses throttles or writes.
func runHook(ctx context.Context, c *cli.Command, cfg *config, fn func(ctx context.Context, plugin *hook.Plugin, in io.Reader, out io.Writer) error) error {
	ctx, err := cfg.setup(ctx, c)
	if err != nil {
		return err
	}
	logger := logging.From(ctx)

	store := cfg.newStateStore()
	st, err := store.Load()
	if err != nil {
		logger.Warn("failed to load plugin state, starting fresh", "error", err)
		st = &model.PluginState{}
	}

	plugin, err := cfg.newPlugin(st)
	if err != nil {
		return err
	}

	hookErr := fn(ctx, plugin, os.Stdin, c.Root().Writer)

	drain(ctx, plugin)
	if err := store.Save(plugin.ExportState()); err != nil {
		logger.Warn("failed to save plugin state", "error", err)
	}
	return hookErr
}

func decodePayload(in io.Reader, v any) error {
	if err := json.NewDecoder(in).Decode(v); err != nil {
		return goerr.Wrap(err, "failed to decode hook payload")
	}
	return nil
}
