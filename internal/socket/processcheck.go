package socket

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-ps"
)

// ProcessChecker reports whether a process with the given executable name runs.
type ProcessChecker interface {
	IsRunning(name string) bool
}

// CheckerFunc adapts a function to ProcessChecker.
type CheckerFunc func(name string) bool

// IsRunning implements ProcessChecker.
func (f CheckerFunc) IsRunning(name string) bool { return f(name) }

// ProcessTable looks names up in the OS process table, ignoring the calling
// process.
var ProcessTable ProcessChecker = CheckerFunc(inProcessTable)

func inProcessTable(name string) bool {
	procs, err := ps.Processes()
	if err != nil {
		return false
	}
	self := os.Getpid()
	for _, proc := range procs {
		if proc.Pid() != self && matchesExecutable(proc.Executable(), name) {
			return true
		}
	}
	return false
}

// matchesExecutable compares base names, ignoring case and a ".exe" suffix.
func matchesExecutable(executable, name string) bool {
	exe := strings.TrimSuffix(filepath.Base(executable), ".exe")
	return strings.EqualFold(exe, name)
}
