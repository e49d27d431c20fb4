// Package tank validates a pipeline configuration and runs its tank script
// as a child process, either synchronously or in the background with a
// callback.
package tank

import (
	"path/filepath"

	"github.com/deixis/tankbridge/internal/runner"
)

// CommandPrefix is the literal every tank command must start with.
const CommandPrefix = "shotgun"

// SentinelExitCode is reported when the child did not exit normally or
// when the execution failed before or during launch.
const SentinelExitCode = runner.SentinelExitCode

// Request describes one tank invocation.
type Request struct {
	ConfigPath string   `json:"config_path"`
	Command    string   `json:"command"`
	Args       []string `json:"args,omitempty"`
}

// Result is the outcome of one tank invocation.
type Result struct {
	ExitCode int    `json:"retcode"`
	Stdout   string `json:"out"`
	Stderr   string `json:"err"`
}

// Map returns the result as a retcode/out/err record.
func (r Result) Map() map[string]any {
	return map[string]any{
		"retcode": r.ExitCode,
		"out":     r.Stdout,
		"err":     r.Stderr,
	}
}

// ScriptPath returns the location of the tank script inside configPath.
func ScriptPath(configPath string) string {
	return filepath.Join(configPath, ScriptName)
}

// argv builds [script, command, args...]. The child receives the script
// path as argv[0] and the command as its first argument.
func (r Request) argv() []string {
	argv := make([]string, 0, len(r.Args)+2)
	argv = append(argv, ScriptPath(r.ConfigPath), r.Command)
	return append(argv, r.Args...)
}

func faultResult(err error) Result {
	return Result{
		ExitCode: SentinelExitCode,
		Stdout:   "",
		Stderr:   err.Error(),
	}
}
