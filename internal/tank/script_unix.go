//go:build !windows

package tank

// ScriptName is the tank entry point on POSIX platforms.
const ScriptName = "tank"
