package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"courier/internal/backend"
	"courier/internal/command"
	"courier/internal/task"
)

type bannerWriter struct {
	w io.Writer
}

func (b bannerWriter) Show(banner command.Banner) {
	fmt.Fprintf(b.w, "%s: %s\n", banner.Title, banner.Message)
}

func newControlCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newCancelCommand(ctx),
		newCancelAllCommand(ctx),
		newRefreshCommand(ctx),
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var extract bool
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel one download or extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return errors.New("task id is required")
			}
			return runControl(cmd, ctx, command.Request{
				Op:       command.OpCancel,
				Pipeline: pipelineFlag(extract),
				TaskID:   id,
				Reason:   strings.TrimSpace(reason),
			})
		},
	}
	cmd.Flags().BoolVar(&extract, "extract", false, "Cancel an extraction instead of a download")
	cmd.Flags().StringVar(&reason, "reason", "", "Cancel reason sent with download cancels (default \"normal\")")
	return cmd
}

func newCancelAllCommand(ctx *commandContext) *cobra.Command {
	var extract bool

	cmd := &cobra.Command{
		Use:   "cancel-all",
		Short: "Cancel every task in a pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, ctx, command.Request{Op: command.OpCancelAll, Pipeline: pipelineFlag(extract)})
		},
	}
	cmd.Flags().BoolVar(&extract, "extract", false, "Cancel all extractions instead of downloads")
	return cmd
}

func newRefreshCommand(ctx *commandContext) *cobra.Command {
	var extract bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Ask the backend to push a fresh queue snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, ctx, command.Request{Op: command.OpRefresh, Pipeline: pipelineFlag(extract)})
		},
	}
	cmd.Flags().BoolVar(&extract, "extract", false, "Refresh the extraction queue instead of downloads")
	return cmd
}

// runControl sends one request straight to the backend. A failure is shown
// as its banner on stderr and turned into a non-zero exit.
func runControl(cmd *cobra.Command, ctx *commandContext, req command.Request) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := ctx.commandLogger()

	var outcome command.Outcome
	dispatcher := command.New(command.Options{
		Backend: backend.NewClientFromConfig(cfg, logger),
		Banner:  bannerWriter{w: cmd.ErrOrStderr()},
		Logger:  logger,
		Timeout: cfg.RequestTimeout(),
		Done:    func(out command.Outcome) { outcome = out },
	})
	dispatcher.Do(cmd.Context(), req)

	if outcome.Err != nil {
		return fmt.Errorf("%s failed", req.Method())
	}
	out := cmd.OutOrStdout()
	result := strings.TrimSpace(outcome.Result)
	if result == "" {
		result = "ok"
	}
	fmt.Fprintf(out, "%s: %s\n", req.Method(), result)
	return nil
}

func pipelineFlag(extract bool) task.Kind {
	if extract {
		return task.KindExtract
	}
	return task.KindDownload
}
