package runner

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

// Stage names of the fixed firmware pipeline
const (
	StageDisassemble = "disassemble"
	StageRender      = "render"
	StageReport      = "report"
)

// Default command templates. Paths are quoted when interpolated.
const (
	DefaultDisassembleCommand = `python3 {{quote (join .Workspace "rda_disassembler_enhanced.py")}} {{quote .Firmware}}`
	DefaultRenderCommand      = `dot -Tpng {{quote .Graph}} -o {{quote .Image}}`
	DefaultReportCommand      = `python3 {{quote (join .Workspace "generate_report.py")}} {{quote .Log}} {{quote .Report}}`
)

// Stage is one external tool invocation. Stages are values: the pipeline
// never mutates them after construction.
type Stage struct {
	Name     string
	Label    string // human-readable, used in notifications
	Command  string // text/template rendered against the run's artifact paths
	Requires []Artifact
	Produces []Artifact
	Optional bool
	Tool     string // binary looked up on PATH before an optional stage runs
}

// StageCommands holds the command templates for the fixed pipeline
type StageCommands struct {
	Disassemble string
	Render      string
	Report      string
}

// DefaultStages builds the pipeline: disassemble, optionally render the
// control flow graph to an image, then generate the report.
func DefaultStages(cmds StageCommands, render bool) []Stage {
	if cmds.Disassemble == "" {
		cmds.Disassemble = DefaultDisassembleCommand
	}
	if cmds.Render == "" {
		cmds.Render = DefaultRenderCommand
	}
	if cmds.Report == "" {
		cmds.Report = DefaultReportCommand
	}

	stages := []Stage{{
		Name:     StageDisassemble,
		Label:    "Firmware analysis",
		Command:  cmds.Disassemble,
		Requires: []Artifact{ArtifactFirmware},
		Produces: []Artifact{ArtifactLog},
	}}
	if render {
		stages = append(stages, Stage{
			Name:     StageRender,
			Label:    "Graph rendering",
			Command:  cmds.Render,
			Requires: []Artifact{ArtifactGraph},
			Produces: []Artifact{ArtifactImage},
			Optional: true,
			Tool:     toolName(cmds.Render),
		})
	}
	stages = append(stages, Stage{
		Name:     StageReport,
		Label:    "Report generation",
		Command:  cmds.Report,
		Requires: []Artifact{ArtifactLog},
		Produces: []Artifact{ArtifactReport},
	})
	return stages
}

// commandData is what stage templates are rendered against
type commandData struct {
	Workspace string
	ArtifactPaths
}

var templateFuncs = template.FuncMap{
	"quote": Quote,
	"join":  filepath.Join,
}

// Render interpolates the run's paths into the stage's command template
func (s Stage) Render(ws WorkspaceContext, paths ArtifactPaths) (string, error) {
	tmpl, err := template.New(s.Name).Funcs(templateFuncs).Option("missingkey=error").Parse(s.Command)
	if err != nil {
		return "", fmt.Errorf("failed to parse command for stage '%s': %w", s.Name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, commandData{Workspace: ws.Root, ArtifactPaths: paths}); err != nil {
		return "", fmt.Errorf("failed to render command for stage '%s': %w", s.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ValidateCommand checks that a command template parses and only refers to known fields
func ValidateCommand(command string) error {
	s := Stage{Name: "validate", Command: command}
	_, err := s.Render(WorkspaceContext{Root: "ws"}, DerivePaths(WorkspaceContext{Root: "ws"}))
	return err
}

// Quote makes s a single shell word that the shell passes through
// literally. POSIX shells get single quotes, which suppress every expansion;
// cmd.exe only understands double quotes.
func Quote(s string) string {
	if runtime.GOOS == "windows" {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// toolName returns the binary a command template starts with
func toolName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 || strings.Contains(fields[0], "{{") {
		return ""
	}
	return fields[0]
}
