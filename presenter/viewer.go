// Package presenter displays pipeline artifacts: the control flow graph in
// a viewer document and the report through an external opener.
package presenter

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fatgo/runner"
)

// Viewer identity shown by every display surface
const (
	ViewType  = "firmwareCFG"
	ViewTitle = "Firmware Control Flow Graph"
)

// Panel is one opened viewer instance
type Panel struct {
	ID        string    `json:"id"`
	ViewType  string    `json:"view_type"`
	Title     string    `json:"title"`
	ImagePath string    `json:"image_path"`
	DocPath   string    `json:"doc_path"`
	CreatedAt time.Time `json:"created_at"`
}

var pageTemplate = template.Must(template.New(ViewType).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
</head>
<body>
    <h2>Control Flow Graph</h2>
    <p>CFG generated automatically during analysis.</p>
    <img src="{{.Src}}" alt="{{.Title}}" />
</body>
</html>
`))

// RenderPage writes the viewer document for an image source
func RenderPage(title string, src string) ([]byte, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Title string
		Src   template.URL
	}{Title: title, Src: template.URL(src)})
	if err != nil {
		return nil, fmt.Errorf("failed to render viewer page: %w", err)
	}
	return buf.Bytes(), nil
}

// FileURL converts an absolute path into a file:// URL
func FileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// Viewer presents the graph by writing a standalone HTML document that embeds
// the image and, when configured, launching an open command on it.
type Viewer struct {
	dir    string
	opener *Opener // optional
	log    *zap.Logger

	mu     sync.RWMutex
	panels map[string]Panel
	order  []string
}

// NewViewer creates a viewer writing documents into dir
func NewViewer(dir string, opener *Opener, logger *zap.Logger) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Viewer{
		dir:    dir,
		opener: opener,
		log:    logger,
		panels: make(map[string]Panel),
	}
}

// Present implements runner.Presenter. Every call opens a new panel.
func (v *Viewer) Present(ctx context.Context, imagePath string) error {
	panel := Panel{
		ID:        uuid.NewString(),
		ViewType:  ViewType,
		Title:     ViewTitle,
		ImagePath: imagePath,
		CreatedAt: time.Now(),
	}
	panel.DocPath = filepath.Join(v.dir, fmt.Sprintf("%s-%s.html", ViewType, panel.ID))

	page, err := RenderPage(panel.Title, FileURL(imagePath))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(v.dir, 0755); err != nil {
		return fmt.Errorf("failed to create viewer directory: %w", err)
	}
	if err := os.WriteFile(panel.DocPath, page, 0644); err != nil {
		return fmt.Errorf("failed to write viewer document: %w", err)
	}

	v.mu.Lock()
	v.panels[panel.ID] = panel
	v.order = append(v.order, panel.ID)
	v.mu.Unlock()

	v.log.Info("viewer opened", zap.String("panel_id", panel.ID), zap.String("doc", panel.DocPath))

	if v.opener != nil {
		if err := v.opener.Open(ctx, panel.DocPath); err != nil {
			return fmt.Errorf("failed to open viewer %s: %w", panel.ID, err)
		}
	}
	return nil
}

// Panel looks up an opened panel
func (v *Viewer) Panel(id string) (Panel, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.panels[id]
	return p, ok
}

// Panels lists opened panels, oldest first
func (v *Viewer) Panels() []Panel {
	v.mu.RLock()
	defer v.mu.RUnlock()
	panels := make([]Panel, 0, len(v.order))
	for _, id := range v.order {
		panels = append(panels, v.panels[id])
	}
	return panels
}

var _ runner.Presenter = (*Viewer)(nil)
