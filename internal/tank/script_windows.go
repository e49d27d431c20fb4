//go:build windows

package tank

// ScriptName is the tank entry point on Windows.
const ScriptName = "tank.bat"
