package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestShellRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell commands below are POSIX")
	}
	r := NewShellRunner(false, zaptest.NewLogger(t))
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert.NoError(t, r.Run(ctx, "true", t.TempDir()))
	})

	t.Run("runs in the working directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, r.Run(ctx, "echo ok > marker.txt", dir))
		data, err := os.ReadFile(filepath.Join(dir, "marker.txt"))
		require.NoError(t, err)
		assert.Equal(t, "ok\n", string(data))
	})

	t.Run("nonzero exit", func(t *testing.T) {
		err := r.Run(ctx, "echo 'dot: syntax error' >&2; exit 3", t.TempDir())
		require.Error(t, err)

		var failure *ProcessFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, 3, failure.ExitCode)
		assert.Contains(t, failure.Message, "exit status 3")
		assert.Contains(t, failure.Message, "dot: syntax error")
	})

	t.Run("missing working directory", func(t *testing.T) {
		err := r.Run(ctx, "true", filepath.Join(t.TempDir(), "gone"))

		var failure *ProcessFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, -1, failure.ExitCode)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, r.Run(cctx, "sleep 5", t.TempDir()))
	})
}

func TestTailOf(t *testing.T) {
	assert.Equal(t, "", tailOf("  \n", 10))
	assert.Equal(t, "abc", tailOf("abc\n", 10))
	assert.Equal(t, "def", tailOf("abcdef", 3))

	// "é" is two bytes; a cut through its middle moves forward
	assert.Equal(t, "f", tailOf("éf", 2))
	assert.Equal(t, "éf", tailOf("aéf", 3))
	assert.True(t, utf8.ValidString(tailOf(strings.Repeat("日本語", 1000), stderrTail)))
}
