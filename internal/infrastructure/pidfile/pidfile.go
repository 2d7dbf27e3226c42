package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

const (
	// defaultPath is the standard daemon PID file location.
	defaultPath = "/var/run/fossibot-bridge.pid"

	// fallbackPath is used when /var/run is not writable (unprivileged runs).
	fallbackPath = "fossibot-bridge.pid"

	// fileMode is the permission mode for the PID file.
	fileMode = 0600

	// maxRetries limits acquisition attempts when clearing stale files.
	maxRetries = 3
)

// File is an acquired single-instance lock. Release removes it.
type File struct {
	path string
}

// DefaultPath returns the PID file location used when the config leaves
// daemon.pid_file empty: /var/run when writable, otherwise a file in
// the working directory.
func DefaultPath() string {
	if f, err := os.OpenFile(defaultPath, os.O_CREATE|os.O_WRONLY, fileMode); err == nil {
		f.Close()
		os.Remove(defaultPath) // Remove the test file
		return defaultPath
	}
	return fallbackPath
}

// Acquire atomically creates the PID file and writes the current
// process ID, formatted as a single integer followed by a newline.
//
// A PID file naming a live process refuses acquisition. A stale file
// (dead process, unparsable content) is removed and acquisition
// retried.
//
// Parameters:
//   - path: PID file location; empty selects DefaultPath()
//
// Returns:
//   - *File: Acquired lock; call Release on shutdown
//   - error: If another instance is running or the file cannot be written
func Acquire(path string) (*File, error) {
	if path == "" {
		path = DefaultPath()
	}
	pid := os.Getpid()

	for attempt := 0; attempt < maxRetries; attempt++ {
		// Try atomic exclusive create - fails if file already exists
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
		if err == nil {
			_, writeErr := fmt.Fprintf(f, "%d\n", pid)
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				os.Remove(path)
				if writeErr == nil {
					writeErr = closeErr
				}
				return nil, fmt.Errorf("writing PID file: %w", writeErr)
			}
			return &File{path: path}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating PID file %s: %w", path, err)
		}

		// File exists - check if it's stale
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			os.Remove(path)
			continue
		}

		existingPID, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr != nil {
			// Invalid content, treat as stale
			os.Remove(path)
			continue
		}

		if processAlive(existingPID) {
			return nil, fmt.Errorf("another instance is already running (PID %d, file %s)", existingPID, path)
		}

		// Stale PID file, remove and retry
		os.Remove(path)
	}

	return nil, fmt.Errorf("failed to acquire PID file %s after %d attempts", path, maxRetries)
}

// processAlive reports whether a process with the given PID exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds - send signal 0 to check
	return proc.Signal(syscall.Signal(0)) == nil
}

// Path returns the location the lock was acquired at.
func (f *File) Path() string {
	return f.path
}

// Release removes the PID file. Safe to call once per acquired lock.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing PID file %s: %w", f.path, err)
	}
	return nil
}
