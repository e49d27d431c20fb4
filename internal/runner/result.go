package runner

// SentinelExitCode marks a child that did not exit normally.
const SentinelExitCode = -1

// Result holds the output of a command execution.
type Result struct {
	ExitCode int    // process exit code, or SentinelExitCode
	Stdout   string // captured stdout, one "\n" per line
	Stderr   string // captured stderr, one "\n" per line
}
