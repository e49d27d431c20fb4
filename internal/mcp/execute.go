package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/tankbridge/internal/report"
	"github.com/deixis/tankbridge/internal/tank"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

type executeParams struct {
	ConfigPath string   `json:"config_path" jsonschema:"absolute path of the pipeline configuration directory that contains the tank script"`
	Command    string   `json:"command" jsonschema:"tank command to run; must start with shotgun"`
	Args       []string `json:"args,omitempty" jsonschema:"arguments passed to the command, in order"`
}

func (p executeParams) request() tank.Request {
	return tank.Request{ConfigPath: p.ConfigPath, Command: p.Command, Args: p.Args}
}

type verifyParams struct {
	ConfigPath string `json:"config_path" jsonschema:"absolute path of the pipeline configuration directory"`
	Command    string `json:"command" jsonschema:"tank command to check; must start with shotgun"`
}

func (h *handler) verifyHandler(ctx context.Context, req *mcp.CallToolRequest, params verifyParams) (*mcp.CallToolResult, any, error) {
	if err := tank.Verify(params.ConfigPath, params.Command); err != nil {
		return errorResult(formatInvalid(err))
	}
	return textResult(fmt.Sprintf("OK: %s", tank.ScriptPath(params.ConfigPath)))
}

func (h *handler) executeHandler(ctx context.Context, req *mcp.CallToolRequest, params executeParams) (*mcp.CallToolResult, any, error) {
	run := h.newRun(report.Sync, params)
	log := h.log.WithField("run_id", run.ID)

	res := h.bridge.Execute(ctx, sessionHost{session: req.Session, log: log}, params.request())
	run = run.Finish(res.ExitCode, res.Stdout, res.Stderr, h.now())

	if err := h.store.Save(run); err != nil {
		log.WithError(err).Warn("saving run")
	}
	return textResult(formatRun(run))
}

func (h *handler) executeAsyncHandler(ctx context.Context, req *mcp.CallToolRequest, params executeParams) (*mcp.CallToolResult, any, error) {
	// Validate before recording anything so invalid input never leaves a
	// pending run behind.
	if err := tank.Verify(params.ConfigPath, params.Command); err != nil {
		return errorResult(formatInvalid(err))
	}

	run := h.newRun(report.Async, params)
	log := h.log.WithFields(logrus.Fields{"run_id": run.ID, "command": run.Command})
	if err := h.store.Save(run); err != nil {
		return errorResult(fmt.Sprintf("Failed to record run: %v", err))
	}

	finish := func(retcode int, out, errText string) {
		if err := h.store.Save(run.Finish(retcode, out, errText, h.now())); err != nil {
			log.WithError(err).Warn("saving finished run")
		}
		log.WithField("retcode", retcode).Info("background tank run finished")
	}

	// The run outlives this tool call.
	bg := context.WithoutCancel(ctx)
	host := sessionHost{session: req.Session, log: log}
	if err := h.bridge.ExecuteAsync(bg, host, params.request(), finish); err != nil {
		// The configuration changed between the check above and scheduling.
		finish(tank.SentinelExitCode, "", err.Error())
		return errorResult(formatInvalid(err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", run.ID)
	fmt.Fprintf(&b, "Status: %s\n", run.Status)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Poll with tank_result(run_id=%q).\n", run.ID)
	return textResult(b.String())
}

func (h *handler) newRun(kind report.Kind, params executeParams) *report.Run {
	return &report.Run{
		ID:         h.newID(),
		Kind:       kind,
		Status:     report.Pending,
		ConfigPath: params.ConfigPath,
		Command:    params.Command,
		Args:       params.Args,
		StartedAt:  h.now(),
	}
}

func formatInvalid(err error) string {
	var invalid *tank.InvalidArgumentError
	if errors.As(err, &invalid) {
		return fmt.Sprintf("Invalid (%s): %v", invalid.Condition, invalid)
	}
	return fmt.Sprintf("Invalid: %v", err)
}
