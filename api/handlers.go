package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"fatgo/host"
	"fatgo/presenter"
	"fatgo/runner"
	"fatgo/runner/storage"
)

const (
	runsLimit       = 100       // caps the run history returned by GetRuns
	maxFirmwareSize = 256 << 20 // largest accepted firmware upload
	multipartMemory = 32 << 20  // upload bytes buffered in memory before spilling to disk
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// GetRuns returns the most recent runs
func GetRuns(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "run history is disabled")
			return
		}

		runs, err := store.GetRuns(runsLimit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get runs: %v", err))
			return
		}
		if runs == nil {
			runs = []*storage.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// GetRun returns a single run with its stages
func GetRun(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "run history is disabled")
			return
		}

		runID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid run ID")
			return
		}

		run, err := store.GetRun(runID)
		if errors.Is(err, storage.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Run %d not found", runID))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get run: %v", err))
			return
		}

		stages, err := store.GetStageExecutions(runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get stages: %v", err))
			return
		}
		if stages == nil {
			stages = []*storage.StageExecution{}
		}

		type RunResponse struct {
			Run    *storage.Run              `json:"run"`
			Stages []*storage.StageExecution `json:"stages"`
		}
		writeJSON(w, http.StatusOK, RunResponse{Run: run, Stages: stages})
	}
}

// GetStats returns per-stage counters, optionally filtered by ?workspace=
func GetStats(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "run history is disabled")
			return
		}

		stats, err := store.GetStageStats(r.URL.Query().Get("workspace"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get stats: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// PostAnalyze dispatches the analyze command. A multipart request may carry
// the firmware image in a "file" field; it replaces the workspace's
// firmware/latest_firmware.bin before the run starts. The run continues after
// the response is written; progress is observable on the event stream.
func PostAnalyze(commands *host.Commands, resolve runner.WorkspaceResolver, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"command": host.AnalyzeCommand,
			"status":  "starting",
			"message": "Analysis started",
		}

		if isMultipart(r) {
			uploaded, status, err := saveFirmware(w, r, resolve)
			if err != nil {
				writeError(w, status, err.Error())
				return
			}
			if uploaded != "" {
				log.Info("firmware uploaded", zap.String("path", uploaded))
				response["firmware"] = uploaded
			}
		}

		// detach from the request so the run outlives it
		ctx := context.WithoutCancel(r.Context())

		go func() {
			if err := commands.Dispatch(ctx, host.AnalyzeCommand); err != nil {
				log.Error("analysis failed", zap.Error(err))
				return
			}
			log.Info("analysis completed")
		}()

		writeJSON(w, http.StatusAccepted, response)
	}
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// saveFirmware stores the uploaded "file" field as the workspace firmware.
// It returns "" when the request carries no file.
func saveFirmware(w http.ResponseWriter, r *http.Request, resolve runner.WorkspaceResolver) (string, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFirmwareSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", http.StatusRequestEntityTooLarge, fmt.Errorf("firmware exceeds %d bytes", maxFirmwareSize)
		}
		return "", http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err)
	}

	file, _, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return "", 0, nil
	}
	if err != nil {
		return "", http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err)
	}
	defer file.Close()

	ws, err := workspaceRoot(resolve)
	if err != nil {
		return "", http.StatusConflict, err
	}
	dest := runner.DerivePaths(ws).Firmware
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("failed to create firmware directory: %w", err)
	}

	// write beside the destination and rename, so a run never reads a partial image
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("failed to store firmware: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		return "", http.StatusInternalServerError, fmt.Errorf("failed to store firmware: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("failed to store firmware: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("failed to store firmware: %w", err)
	}
	return dest, 0, nil
}

// workspaceRoot resolves the workspace and checks that it is a directory
func workspaceRoot(resolve runner.WorkspaceResolver) (runner.WorkspaceContext, error) {
	if resolve == nil {
		return runner.WorkspaceContext{}, runner.ErrNoWorkspace
	}
	ws := resolve()
	if ws.Root == "" {
		return ws, runner.ErrNoWorkspace
	}
	info, err := os.Stat(ws.Root)
	if err != nil || !info.IsDir() {
		return ws, fmt.Errorf("%w: %s", runner.ErrNoWorkspace, ws.Root)
	}
	return ws, nil
}

// GetDisassemblyLog downloads firmware/disassembly.log from the workspace
func GetDisassemblyLog(resolve runner.WorkspaceResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := workspaceRoot(resolve)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		path := runner.DerivePaths(ws).Log
		if _, err := os.Stat(path); err != nil {
			writeError(w, http.StatusNotFound, "disassembly log not found, run an analysis first")
			return
		}

		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
		http.ServeFile(w, r, path)
	}
}

// GetPanels lists opened viewer panels
func GetPanels(viewer *presenter.Viewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, viewer.Panels())
	}
}

// GetViewer serves the viewer page for a panel, pointing at the image endpoint
func GetViewer(viewer *presenter.Viewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		panel, ok := viewer.Panel(chi.URLParam(r, "id"))
		if !ok {
			http.NotFound(w, r)
			return
		}

		page, err := presenter.RenderPage(panel.Title, "/viewer/"+panel.ID+"/image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	}
}

// GetViewerImage serves the image a panel displays
func GetViewerImage(viewer *presenter.Viewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		panel, ok := viewer.Panel(chi.URLParam(r, "id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		if _, err := os.Stat(panel.ImagePath); err != nil {
			http.Error(w, "image not found", http.StatusNotFound)
			return
		}
		http.ServeFile(w, r, panel.ImagePath)
	}
}
