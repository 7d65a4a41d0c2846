package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/httpapi"
	"courier/internal/render"
	"courier/internal/task"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var pipeline string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks tracked by the running watch session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.apiURL()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if strings.TrimSpace(pipeline) != "" {
				if _, err := task.ParseKind(pipeline); err != nil {
					return err
				}
			}
			resp, err := fetchTasks(cmd.Context(), base, pipeline)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend connected: %s\n", yesNo(resp.Connected))
			if len(resp.Tasks) == 0 {
				fmt.Fprintln(out, "No tasks tracked")
				return nil
			}
			fmt.Fprintln(out, render.Table(
				[]string{"ID", "Pipeline", "Name", "Status", "Progress", "Cancelable"},
				taskRows(resp.Tasks),
				[]render.Alignment{render.AlignLeft, render.AlignLeft, render.AlignLeft, render.AlignLeft, render.AlignRight, render.AlignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&pipeline, "pipeline", "", "Only show tasks of one pipeline (download or extract)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func fetchTasks(ctx context.Context, base, pipeline string) (httpapi.TaskListResponse, error) {
	var out httpapi.TaskListResponse
	url := base + "/v1/tasks"
	if pipeline = strings.TrimSpace(pipeline); pipeline != "" {
		url += "?pipeline=" + pipeline
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return out, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("contact watch session at %s: %w (is `courier watch` running?)", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("watch session returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode tasks: %w", err)
	}
	if out.Tasks == nil {
		return out, errors.New("watch session returned no task list")
	}
	return out, nil
}

func taskRows(tasks []httpapi.TaskView) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID,
			string(t.Pipeline),
			render.Truncate(t.Name, 48),
			string(t.Status),
			render.Progress(t.Progress),
			yesNo(t.Cancelable),
		})
	}
	return rows
}
