// Package setup implements the first-run wizard: runtime detection,
// dependency installation, model download, and completion tracking.
package setup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RequiredPackages are the Python packages the worker needs. Keys are pip
// names, values the module names used for import checks.
var RequiredPackages = map[string]string{
	"openpyxl":         "openpyxl",
	"pandas":           "pandas",
	"chromadb":         "chromadb",
	"llama-cpp-python": "llama_cpp",
	"pdfplumber":       "pdfplumber",
	"PyPDF2":           "PyPDF2",
}

// PythonStatus describes a detected Python installation.
type PythonStatus struct {
	Installed         bool     `json:"installed"`
	Version           string   `json:"version,omitempty"`
	ExecutablePath    string   `json:"executable_path,omitempty"`
	PipAvailable      bool     `json:"pip_available"`
	PackagesInstalled []string `json:"packages_installed"`
	MissingPackages   []string `json:"missing_packages"`
}

// DetectPython probes for a usable runtime: the override (if any), then a
// local virtual environment, then python3 on PATH. The returned status is
// never an error; an unusable system simply reports Installed=false.
func DetectPython(ctx context.Context, override string) PythonStatus {
	var candidates []string
	if override != "" {
		candidates = append(candidates, override)
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, "venv", "bin", "python"))
	}
	if p, err := exec.LookPath("python3"); err == nil {
		candidates = append(candidates, p)
	}

	for _, python := range candidates {
		version, err := pythonVersion(ctx, python)
		if err != nil {
			continue
		}
		st := PythonStatus{
			Installed:      true,
			Version:        version,
			ExecutablePath: python,
			PipAvailable:   pipAvailable(ctx, python),
		}
		for pip, module := range RequiredPackages {
			if importable(ctx, python, module) {
				st.PackagesInstalled = append(st.PackagesInstalled, pip)
			} else {
				st.MissingPackages = append(st.MissingPackages, pip)
			}
		}
		return st
	}
	return PythonStatus{}
}

func pythonVersion(ctx context.Context, python string) (string, error) {
	out, err := exec.CommandContext(ctx, python, "--version").CombinedOutput()
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(out))
	if !strings.HasPrefix(version, "Python ") {
		return "", fmt.Errorf("unexpected version output %q", version)
	}
	return strings.TrimPrefix(version, "Python "), nil
}

func pipAvailable(ctx context.Context, python string) bool {
	return exec.CommandContext(ctx, python, "-m", "pip", "--version").Run() == nil
}

func importable(ctx context.Context, python, module string) bool {
	return exec.CommandContext(ctx, python, "-c", "import "+module).Run() == nil
}
