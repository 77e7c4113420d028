// Package python locates a Python interpreter and runs scripts with it.
package python

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// ErrNotFound is returned when no interpreter can be located.
var ErrNotFound = errors.New("python interpreter not found")

// Config selects the interpreter. PythonPath wins over VenvDir, which wins
// over python3/python on PATH.
type Config struct {
	PythonPath string
	VenvDir    string
}

// Env resolves the interpreter lazily and caches the result.
type Env struct {
	cfg Config

	once       sync.Once
	pythonPath string
	resolveErr error
}

func New(cfg Config) *Env {
	return &Env{cfg: cfg}
}

// venvPython returns the interpreter inside a virtual environment.
func venvPython(venvDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvDir, "Scripts", "python.exe")
	}
	return filepath.Join(venvDir, "bin", "python")
}

// PythonPath returns the resolved interpreter path.
func (e *Env) PythonPath() (string, error) {
	e.once.Do(func() {
		e.pythonPath, e.resolveErr = e.resolve()
	})
	return e.pythonPath, e.resolveErr
}

func (e *Env) resolve() (string, error) {
	if e.cfg.PythonPath != "" {
		if _, err := os.Stat(e.cfg.PythonPath); err == nil {
			return e.cfg.PythonPath, nil
		}
		if path, err := exec.LookPath(e.cfg.PythonPath); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, e.cfg.PythonPath)
	}
	if e.cfg.VenvDir != "" {
		candidate := venvPython(e.cfg.VenvDir)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// Command builds a command that runs script with args. The process is killed
// when ctx is done.
func (e *Env) Command(ctx context.Context, script string, args ...string) (*exec.Cmd, error) {
	pythonPath, err := e.PythonPath()
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, pythonPath, append([]string{script}, args...)...)
	configureProcess(cmd)
	return cmd, nil
}

// RunScript runs script and returns its stdout. On failure the error carries
// the tail of stderr.
func (e *Env) RunScript(ctx context.Context, dir string, env []string, script string, args ...string) (string, error) {
	cmd, err := e.Command(ctx, script, args...)
	if err != nil {
		return "", err
	}
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout.String(), ctxErr
		}
		if msg := Tail(stderr.String(), 20); msg != "" {
			return stdout.String(), fmt.Errorf("%w: %s", err, msg)
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// HasModule reports whether module can be imported.
func (e *Env) HasModule(ctx context.Context, module string) bool {
	pythonPath, err := e.PythonPath()
	if err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, pythonPath, "-c", "import "+module)
	configureProcess(cmd)
	return cmd.Run() == nil
}

// Tail returns the last n non-empty lines of s.
func Tail(s string, n int) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r "); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
