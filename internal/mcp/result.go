package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deixis/tankbridge/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type resultParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID returned by tank_execute or tank_execute_async"`
}

func (h *handler) resultHandler(ctx context.Context, req *mcp.CallToolRequest, params resultParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	run, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	return textResult(formatRun(run))
}

func formatRun(run *report.Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s)\n", run.ID, run.Kind)
	fmt.Fprintf(&b, "Status: %s\n", run.Status)
	fmt.Fprintf(&b, "Command: %s\n", strings.Join(append([]string{run.Command}, run.Args...), " "))
	fmt.Fprintf(&b, "Config: %s\n", run.ConfigPath)

	if run.Status != report.Done {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Still running; call tank_result again later.")
		return b.String()
	}

	fmt.Fprintf(&b, "Exit code: %d\n", run.ExitCode)
	if d := run.Duration(); d > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", d.Round(time.Millisecond))
	}
	writeStream(&b, "Stdout", run.Out)
	writeStream(&b, "Stderr", run.Err)
	return b.String()
}

func writeStream(b *strings.Builder, name, text string) {
	fmt.Fprintln(b)
	if text == "" {
		fmt.Fprintf(b, "%s: (empty)\n", name)
		return
	}
	fmt.Fprintf(b, "%s:\n", name)
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		fmt.Fprintf(b, "    %s\n", line)
	}
}
