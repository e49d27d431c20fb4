// Command tankbridge validates pipeline configurations and runs their tank
// script, directly or as an MCP server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/deixis/tankbridge"
	"github.com/deixis/tankbridge/internal/config"
	"github.com/deixis/tankbridge/internal/logging"
	tbmcp "github.com/deixis/tankbridge/internal/mcp"
	"github.com/deixis/tankbridge/internal/report"
	"github.com/deixis/tankbridge/internal/runner"
	"github.com/deixis/tankbridge/internal/tank"
	"github.com/fatih/color"
	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("tankbridge:"), err)
	os.Exit(1)
}

// ExitCodeError carries a process exit code without an extra message.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// app holds the state shared by all subcommands once flags are parsed.
type app struct {
	configPath string
	debug      bool

	cfg    *config.Config
	log    *logrus.Logger
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tankbridge",
		Short:         "Run tank pipeline commands",
		Version:       tankbridge.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a .tankbridge file (default: search from the working directory)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newVerifyCmd(a),
		newRunCmd(a),
		newResultCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init() error {
	var (
		loaded *config.LoadResult
		err    error
	)
	if a.configPath != "" {
		loaded, err = config.LoadFile(a.configPath)
	} else {
		var wd string
		wd, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("determining working directory: %w", err)
		}
		loaded, err = config.Load(wd)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = loaded.Config

	a.log, a.closer, err = logging.New(a.cfg, a.debug)
	if err != nil {
		return err
	}
	if loaded.Path != "" {
		a.log.WithField("path", loaded.Path).Debug("loaded config")
	}
	return nil
}

func (a *app) newBridge() *tank.Bridge {
	r := &runner.Runner{Timeout: a.cfg.Timeout()}
	return tank.New(r, tank.WithLogger(a.log), tank.WithAsyncLimit(a.cfg.AsyncLimit()))
}

func (a *app) newStore() report.Store {
	return report.NewLRUStore(a.cfg.StoreCacheSize(), report.NewDiskStore(a.cfg.Store.Dir))
}

// --- verify ---

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <config-path> <command>",
		Short: "Check a pipeline configuration and command without running anything",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := tank.Verify(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", tank.ScriptPath(args[0]))
			return nil
		},
	}
}

// --- run ---

type runOptions struct {
	async  bool
	json   bool
	record bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <config-path> <command> [args...]",
		Short: "Run a tank command and exit with its exit code",
		Long: `Run a tank command, print its captured stdout and stderr, and exit with
the script's exit code. A script that does not exit normally exits 1.

Everything after <command> is passed to the script unchanged.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := tank.Request{ConfigPath: args[0], Command: args[1], Args: args[2:]}
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), req, opts)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVar(&opts.async, "async", false, "validate up front, then run in the background and wait for the callback")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the retcode/out/err record as JSON")
	cmd.Flags().BoolVar(&opts.record, "record", false, "save the run to the run store and print its ID on stderr")
	return cmd
}

func (a *app) run(ctx context.Context, stdout, stderr io.Writer, req tank.Request, opts runOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	b := a.newBridge()
	host := tank.LoggerHost{Logger: a.log}

	var store report.Store
	var run *report.Run
	if opts.record {
		store = a.newStore()
		run = newRun(req, opts.async)
	}

	var res tank.Result
	if opts.async {
		done := make(chan tank.Result, 1)
		err := b.ExecuteAsync(ctx, host, req, func(retcode int, out, errText string) {
			done <- tank.Result{ExitCode: retcode, Stdout: out, Stderr: errText}
		})
		if err != nil {
			return err
		}
		res = <-done
		b.Wait()
	} else {
		res = b.Execute(ctx, host, req)
	}

	if store != nil {
		run = run.Finish(res.ExitCode, res.Stdout, res.Stderr, timeNow())
		if err := store.Save(run); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		fmt.Fprintf(stderr, "run %s\n", run.ID)
	}

	if err := writeResult(stdout, stderr, res, opts.json); err != nil {
		return err
	}
	return exitFor(stderr, res)
}

var timeNow = time.Now

func newRun(req tank.Request, async bool) *report.Run {
	kind := report.Sync
	if async {
		kind = report.Async
	}
	return &report.Run{
		ID:         uuid.New().String(),
		Kind:       kind,
		Status:     report.Pending,
		ConfigPath: req.ConfigPath,
		Command:    req.Command,
		Args:       req.Args,
		StartedAt:  timeNow(),
	}
}

func writeResult(stdout, stderr io.Writer, res tank.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if _, err := io.WriteString(stdout, res.Stdout); err != nil {
		return err
	}
	_, err := io.WriteString(stderr, res.Stderr)
	return err
}

// exitFor maps a tank result to the CLI's exit status.
func exitFor(stderr io.Writer, res tank.Result) error {
	switch {
	case res.ExitCode == 0:
		return nil
	case res.ExitCode == tank.SentinelExitCode:
		fmt.Fprintf(stderr, "%s tank did not exit normally\n", color.RedString("tankbridge:"))
		return &ExitCodeError{Code: 1}
	default:
		return &ExitCodeError{Code: res.ExitCode}
	}
}

// --- result ---

func newResultCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "result <run-id>",
		Short: "Show a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := a.newStore().Load(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatRunCLI(run))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run record as JSON")
	return cmd
}

func formatRunCLI(run *report.Run) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	w("%s  %s (%s)\n", run.ID, run.Status, run.Kind)
	w("  command  %s\n", strings.Join(append([]string{run.Command}, run.Args...), " "))
	w("  config   %s\n", run.ConfigPath)
	if run.Status != report.Done {
		return string(b)
	}

	code := fmt.Sprintf("%d", run.ExitCode)
	if run.ExitCode == 0 {
		code = color.GreenString(code)
	} else {
		code = color.RedString(code)
	}
	w("  retcode  %s\n", code)
	if run.Out != "" {
		w("\n%s", run.Out)
	}
	if run.Err != "" {
		w("\n%s", run.Err)
	}
	return string(b)
}

// --- mcp ---

func newMCPCmd(a *app) *cobra.Command {
	var httpAddr string
	var instructions bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if instructions {
				fmt.Fprint(cmd.OutOrStdout(), tbmcp.Instructions)
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.serve(ctx, httpAddr)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "start HTTP server on address (e.g. :9090)")
	cmd.Flags().BoolVar(&instructions, "instructions", false, "print model instructions and exit")
	return cmd
}

func (a *app) serve(ctx context.Context, httpAddr string) error {
	b := a.newBridge()
	// Let background runs record their outcome before exiting.
	defer b.Wait()

	server := tbmcp.NewServer(b, a.newStore(), tbmcp.WithLogger(a.log))

	if httpAddr != "" {
		return a.serveHTTP(ctx, server, httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func (a *app) serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return httpServer.Close()
	})
	g.Go(func() error {
		a.log.WithField("addr", addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// --- version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), tankbridge.Version)
			return nil
		},
	}
}
