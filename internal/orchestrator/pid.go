package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile manages the orchestrator's PID file, so a second `ckbd serve`
// invocation against the same state directory refuses to start instead of
// running two server pools against the same workspace caches. Adapted
// from the teacher's single-repo daemon PID file to carry no repo-specific
// assumptions.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PID file manager rooted at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire writes the current process's PID to path, failing if another
// process already holds it.
func (p *PIDFile) Acquire() error {
	running, pid, err := p.IsRunning()
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("ckbd is already running (pid %d)", pid)
	}

	if err := p.removeStale(); err != nil {
		return err
	}

	content := fmt.Sprintf("%d\n", os.Getpid())
	return os.WriteFile(p.path, []byte(content), 0o644)
}

// Release removes the PID file.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// IsRunning reports whether the process named in the PID file is still
// alive.
func (p *PIDFile) IsRunning() (bool, int, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, nil //nolint:nilerr // invalid pid file content treated as not running
	}

	if processExists(pid) {
		return true, pid, nil
	}
	return false, pid, nil
}

func (p *PIDFile) removeStale() error {
	running, _, err := p.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
