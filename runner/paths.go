package runner

import (
	"fmt"
	"path/filepath"
)

// Artifact names a file produced or consumed by a stage
type Artifact string

const (
	ArtifactFirmware Artifact = "firmware"
	ArtifactLog      Artifact = "log"
	ArtifactGraph    Artifact = "graph"
	ArtifactImage    Artifact = "image"
	ArtifactReport   Artifact = "report"
)

// FirmwareDir is the workspace-relative directory holding every artifact
const FirmwareDir = "firmware"

var artifactFiles = map[Artifact]string{
	ArtifactFirmware: "latest_firmware.bin",
	ArtifactLog:      "disassembly.log",
	ArtifactGraph:    "cfg.dot",
	ArtifactImage:    "cfg.png",
	ArtifactReport:   "report.md",
}

// ArtifactPaths holds the absolute locations of every artifact for one workspace
type ArtifactPaths struct {
	Firmware string `json:"firmware"`
	Log      string `json:"log"`
	Graph    string `json:"graph"`
	Image    string `json:"image"`
	Report   string `json:"report"`
}

// DerivePaths computes the artifact layout for a workspace. It is a pure
// function of the workspace root and performs no filesystem access.
func DerivePaths(ws WorkspaceContext) ArtifactPaths {
	join := func(a Artifact) string {
		return filepath.Join(ws.Root, FirmwareDir, artifactFiles[a])
	}
	return ArtifactPaths{
		Firmware: join(ArtifactFirmware),
		Log:      join(ArtifactLog),
		Graph:    join(ArtifactGraph),
		Image:    join(ArtifactImage),
		Report:   join(ArtifactReport),
	}
}

// Path returns the location of a single artifact
func (p ArtifactPaths) Path(a Artifact) (string, error) {
	switch a {
	case ArtifactFirmware:
		return p.Firmware, nil
	case ArtifactLog:
		return p.Log, nil
	case ArtifactGraph:
		return p.Graph, nil
	case ArtifactImage:
		return p.Image, nil
	case ArtifactReport:
		return p.Report, nil
	}
	return "", fmt.Errorf("unknown artifact %q", a)
}
