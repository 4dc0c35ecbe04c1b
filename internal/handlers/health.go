package handlers

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "claude-workspace",
	})
}

// Diagnostics reports whether the interactive tool is installed, walking
// up the expected install tree when it is not.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	toolBin := filepath.Join(h.ToolBinDir, "claude")
	diag := map[string]interface{}{
		"claudeCodeInstalled": fileExists(h.ToolPath),
		"claudeBinExists":     fileExists(toolBin),
		"claudePath":          h.ToolPath,
		"claudeBin":           toolBin,
		"path":                os.Getenv("PATH"),
	}

	if h.CountAccounts != nil {
		if n, err := h.CountAccounts(); err == nil {
			diag["accountCount"] = n
		} else {
			log.Printf("[diagnostics] count accounts: %v", err)
		}
	}

	if !diag["claudeCodeInstalled"].(bool) && h.ToolPath != "" {
		dir := nearestExistingDir(filepath.Dir(h.ToolPath))
		diag["nearestExistingDir"] = dir
		if entries, err := os.ReadDir(dir); err == nil {
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			sort.Strings(names)
			diag["nearestExistingDirContents"] = names
		} else {
			diag["directoryCheckError"] = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, diag)
}

func nearestExistingDir(dir string) string {
	for {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
