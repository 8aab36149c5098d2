package presenter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fatgo/runner"
)

type recordingRunner struct {
	mu       sync.Mutex
	commands []string
	cwds     []string
	err      error
}

func (r *recordingRunner) Run(ctx context.Context, command, cwd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	r.cwds = append(r.cwds, cwd)
	return r.err
}

func TestViewerPresent(t *testing.T) {
	dir := t.TempDir()
	v := NewViewer(dir, nil, nil)
	image := filepath.Join(t.TempDir(), "firmware", "cfg.png")

	require.NoError(t, v.Present(context.Background(), image))

	panels := v.Panels()
	require.Len(t, panels, 1)
	p := panels[0]
	assert.Equal(t, ViewType, p.ViewType)
	assert.Equal(t, "Firmware Control Flow Graph", p.Title)
	assert.Equal(t, image, p.ImagePath)
	assert.Equal(t, dir, filepath.Dir(p.DocPath))
	assert.True(t, strings.HasPrefix(filepath.Base(p.DocPath), "firmwareCFG-"))

	doc, err := os.ReadFile(p.DocPath)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "<title>Firmware Control Flow Graph</title>")
	assert.Contains(t, string(doc), `src="`+FileURL(image)+`"`)

	got, ok := v.Panel(p.ID)
	require.True(t, ok)
	assert.Equal(t, p, got)
	_, ok = v.Panel("missing")
	assert.False(t, ok)
}

func TestViewerOpensNewPanelPerCall(t *testing.T) {
	v := NewViewer(t.TempDir(), nil, nil)
	image := filepath.Join(t.TempDir(), "cfg.png")

	require.NoError(t, v.Present(context.Background(), image))
	require.NoError(t, v.Present(context.Background(), image))

	panels := v.Panels()
	require.Len(t, panels, 2)
	assert.NotEqual(t, panels[0].ID, panels[1].ID)
	assert.NotEqual(t, panels[0].DocPath, panels[1].DocPath)
}

func TestViewerWithOpener(t *testing.T) {
	r := &recordingRunner{}
	opener, err := NewOpener(`xdg-open {{quote .Path}}`, "/ws", r)
	require.NoError(t, err)

	v := NewViewer(t.TempDir(), opener, nil)
	require.NoError(t, v.Present(context.Background(), "/ws/firmware/cfg.png"))

	p := v.Panels()[0]
	require.Len(t, r.commands, 1)
	assert.Equal(t, "xdg-open "+runner.Quote(p.DocPath), r.commands[0])
	assert.Equal(t, "/ws", r.cwds[0])
}

func TestViewerOpenerFailure(t *testing.T) {
	r := &recordingRunner{err: errors.New("no display")}
	opener, err := NewOpener(`xdg-open {{quote .Path}}`, "", r)
	require.NoError(t, err)

	v := NewViewer(t.TempDir(), opener, nil)
	err = v.Present(context.Background(), "/ws/firmware/cfg.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no display")
	assert.Len(t, v.Panels(), 1, "the panel exists even when it could not be shown")
}

func TestRenderPageEscapesTitle(t *testing.T) {
	page, err := RenderPage(`<script>x</script>`, "file:///ws/cfg.png")
	require.NoError(t, err)
	assert.NotContains(t, string(page), "<script>")
	assert.Contains(t, string(page), `src="file:///ws/cfg.png"`)
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "file:///ws/firmware/cfg.png", FileURL("/ws/firmware/cfg.png"))
	assert.Equal(t, "file:///home/dev/my%20fw/cfg.png", FileURL("/home/dev/my fw/cfg.png"))
}

func TestNewOpener(t *testing.T) {
	o, err := NewOpener("   ", "", &recordingRunner{})
	require.NoError(t, err)
	assert.Nil(t, o)

	_, err = NewOpener("code {{quote .Path", "", &recordingRunner{})
	assert.Error(t, err)

	o, err = NewOpener("code {{quote .Path}}", "", &recordingRunner{})
	require.NoError(t, err)
	cmd, err := o.Command(`/ws/firmware/report.md`)
	require.NoError(t, err)
	assert.Equal(t, "code "+runner.Quote("/ws/firmware/report.md"), cmd)
}
