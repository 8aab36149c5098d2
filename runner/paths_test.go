package runner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDerivePaths(t *testing.T) {
	root := filepath.FromSlash("/ws")
	paths := DerivePaths(WorkspaceContext{Root: root})

	assert.Equal(t, filepath.FromSlash("/ws/firmware/latest_firmware.bin"), paths.Firmware)
	assert.Equal(t, filepath.FromSlash("/ws/firmware/disassembly.log"), paths.Log)
	assert.Equal(t, filepath.FromSlash("/ws/firmware/cfg.dot"), paths.Graph)
	assert.Equal(t, filepath.FromSlash("/ws/firmware/cfg.png"), paths.Image)
	assert.Equal(t, filepath.FromSlash("/ws/firmware/report.md"), paths.Report)
}

func TestDerivePathsWithSpaces(t *testing.T) {
	paths := DerivePaths(WorkspaceContext{Root: filepath.FromSlash("/home/dev/My Project")})
	assert.Equal(t, filepath.FromSlash("/home/dev/My Project/firmware/cfg.png"), paths.Image)
}

func TestDerivePathsIsPure(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		segments := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z0-9 _.-]{1,12}`), 1, 5).Draw(rt, "segments")
		root := filepath.Join(append([]string{string(filepath.Separator)}, segments...)...)
		ws := WorkspaceContext{Root: root}

		first := DerivePaths(ws)
		second := DerivePaths(ws)
		if first != second {
			rt.Fatalf("paths differ for %q: %+v vs %+v", root, first, second)
		}

		dir := filepath.Join(root, FirmwareDir)
		for _, p := range []string{first.Firmware, first.Log, first.Graph, first.Image, first.Report} {
			if filepath.Dir(p) != dir {
				rt.Fatalf("%q is not under %q", p, dir)
			}
		}
	})
}

func TestArtifactPathsPath(t *testing.T) {
	paths := DerivePaths(WorkspaceContext{Root: "/ws"})

	for _, a := range []Artifact{ArtifactFirmware, ArtifactLog, ArtifactGraph, ArtifactImage, ArtifactReport} {
		p, err := paths.Path(a)
		require.NoError(t, err)
		assert.NotEmpty(t, p)
	}

	image, err := paths.Path(ArtifactImage)
	require.NoError(t, err)
	assert.Equal(t, paths.Image, image)

	_, err = paths.Path(Artifact("binary"))
	assert.Error(t, err)
}
