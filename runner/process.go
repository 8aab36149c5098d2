package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// stderrTail bounds how much of a failing command's stderr ends up in its error message
const stderrTail = 2048

// ProcessRunner executes one external command in a working directory
type ProcessRunner interface {
	Run(ctx context.Context, command, cwd string) error
}

// ShellRunner runs commands through the platform shell
type ShellRunner struct {
	Stream bool // also stream output to the terminal
	Logger *zap.Logger
}

// NewShellRunner creates a ShellRunner
func NewShellRunner(stream bool, logger *zap.Logger) *ShellRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShellRunner{Stream: stream, Logger: logger}
}

// Run executes the command and waits for it to exit. A nonzero exit or a
// spawn error is returned as a *ProcessFailure.
func (r *ShellRunner) Run(ctx context.Context, command, cwd string) error {
	cmd := shellCommand(ctx, command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	stdoutWriters := []io.Writer{&stdout}
	stderrWriters := []io.Writer{&stderr}
	if r.Stream {
		stdoutWriters = append(stdoutWriters, os.Stdout)
		stderrWriters = append(stderrWriters, os.Stderr)
	}
	cmd.Stdout = io.MultiWriter(stdoutWriters...)
	cmd.Stderr = io.MultiWriter(stderrWriters...)

	r.logger().Debug("spawning process", zap.String("command", command), zap.String("cwd", cwd))

	err := cmd.Run()
	if err == nil {
		return nil
	}

	failure := &ProcessFailure{Command: command, ExitCode: -1, Message: err.Error()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		failure.ExitCode = exitErr.ExitCode()
	}
	if tail := tailOf(stderr.String(), stderrTail); tail != "" {
		failure.Message += ": " + tail
	}

	r.logger().Debug("process failed",
		zap.String("command", command),
		zap.Int("exit_code", failure.ExitCode),
		zap.Int("stdout_bytes", stdout.Len()),
	)
	return failure
}

func (r *ShellRunner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "bash", "-c", command)
}

// tailOf keeps the last n bytes of s, starting on a rune boundary
func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		start := len(s) - n
		for start < len(s) && !utf8.RuneStart(s[start]) {
			start++
		}
		s = s[start:]
	}
	return s
}
