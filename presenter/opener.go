package presenter

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"fatgo/runner"
)

// Opener launches an external program on a document, e.g. `code {{quote .Path}}`
type Opener struct {
	tmpl   *template.Template
	runner runner.ProcessRunner
	cwd    string
}

// NewOpener parses the command template. An empty command yields a nil
// Opener, which callers treat as "do not open".
func NewOpener(command, cwd string, pr runner.ProcessRunner) (*Opener, error) {
	if strings.TrimSpace(command) == "" {
		return nil, nil
	}
	tmpl, err := template.New("open").Funcs(template.FuncMap{
		"quote": runner.Quote,
	}).Parse(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse open command: %w", err)
	}
	return &Opener{tmpl: tmpl, runner: pr, cwd: cwd}, nil
}

// Command renders the command line for a document
func (o *Opener) Command(path string) (string, error) {
	var buf bytes.Buffer
	if err := o.tmpl.Execute(&buf, struct{ Path string }{path}); err != nil {
		return "", fmt.Errorf("failed to render open command: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Open implements runner.DocumentOpener
func (o *Opener) Open(ctx context.Context, path string) error {
	command, err := o.Command(path)
	if err != nil {
		return err
	}
	return o.runner.Run(ctx, command, o.cwd)
}

var _ runner.DocumentOpener = (*Opener)(nil)
