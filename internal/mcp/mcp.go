// Package mcp provides the tankbridge MCP server, exposing synchronous and
// background tank execution as tools.
package mcp

import (
	"context"
	_ "embed"
	"io"
	"time"

	"github.com/deixis/tankbridge"
	"github.com/deixis/tankbridge/internal/report"
	"github.com/deixis/tankbridge/internal/tank"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	bridge *tank.Bridge
	store  report.Store
	log    logrus.FieldLogger
	now    func() time.Time
	newID  func() string
}

// NewServer creates an MCP server with all tankbridge tools registered.
func NewServer(b *tank.Bridge, store report.Store, opts ...ServerOption) *mcp.Server {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	so := serverOptions{log: discard}
	for _, o := range opts {
		o(&so)
	}

	h := &handler{
		bridge: b,
		store:  store,
		log:    so.log,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools:   &mcp.ToolCapabilities{ListChanged: false},
			Logging: &mcp.LoggingCapabilities{},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "tankbridge", Version: tankbridge.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "tank_verify",
		Description: "Check that a command and pipeline configuration are valid without running anything.",
	}, h.verifyHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "tank_execute",
		Description: `Run a tank command and wait for it to finish.

Returns the exit code and the full stdout and stderr of the tank script.
Exit code -1 means the script did not exit normally or could not be started.`,
	}, h.executeHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "tank_execute_async",
		Description: `Start a tank command in the background and return a run ID immediately.

Invalid commands or configurations are reported right away. Poll the outcome with tank_result.`,
	}, h.executeAsyncHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "tank_result",
		Description: "Show the status and, once finished, the exit code and output of a tank run.",
	}, h.resultHandler)

	return s
}

// ServerOption configures the tankbridge MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	log logrus.FieldLogger
}

// WithLogger sets the logger used by tool handlers.
func WithLogger(l logrus.FieldLogger) ServerOption {
	return func(o *serverOptions) {
		o.log = l
	}
}

// sessionHost forwards bridge notifications to the MCP client as log
// messages. Delivery is best-effort; the client may have gone away.
type sessionHost struct {
	session *mcp.ServerSession
	log     logrus.FieldLogger
}

func (h sessionHost) Log(msg string) {
	h.log.Debug(msg)
	if h.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.session.Log(ctx, &mcp.LoggingMessageParams{
		Level:  "info",
		Logger: "tankbridge",
		Data:   msg,
	})
	if err != nil {
		h.log.WithError(err).Debug("forwarding host log to client")
	}
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
