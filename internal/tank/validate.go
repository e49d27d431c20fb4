package tank

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"syscall"
)

// Verify checks that command carries CommandPrefix, that configPath is a
// directory and that it contains the tank script as a regular file.
// It only queries the filesystem. Every failure is an *InvalidArgumentError.
func Verify(configPath, command string) error {
	if !strings.HasPrefix(command, CommandPrefix) {
		return &InvalidArgumentError{Condition: InvalidCommand, Command: command}
	}

	isDir, err := statMode(configPath, fs.FileMode.IsDir)
	if err != nil {
		return &InvalidArgumentError{Condition: LookupFailure, Path: configPath, Err: err}
	}
	if !isDir {
		return &InvalidArgumentError{Condition: MissingConfiguration, Path: configPath}
	}

	script := ScriptPath(configPath)
	isFile, err := statMode(script, fs.FileMode.IsRegular)
	if err != nil {
		return &InvalidArgumentError{Condition: LookupFailure, Path: script, Err: err}
	}
	if !isFile {
		return &InvalidArgumentError{Condition: MissingExecutable, Path: script}
	}
	return nil
}

// statMode reports whether path exists and its mode satisfies want.
// A path that does not exist is not an error.
func statMode(path string, want func(fs.FileMode) bool) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, err
	}
	return want(info.Mode()), nil
}
