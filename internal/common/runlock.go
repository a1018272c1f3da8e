package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RunLock is an exclusive lock file serializing cycles that touch the ledger.
type RunLock struct {
	path string
}

// AcquireRunLock creates path exclusively. A lock older than staleAfter is treated as
// abandoned by a crashed run and replaced. Returns ErrLocked when held.
func AcquireRunLock(path string, staleAfter time.Duration, logger *Logger) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			return &RunLock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock %s: %w", path, err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil || time.Since(info.ModTime()) < staleAfter {
			holder := readLockHolder(path)
			return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, path, holder)
		}

		logger.Warn().Str("path", path).Dur("age", time.Since(info.ModTime())).Msg("Breaking stale run lock")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

func readLockHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown holder"
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "unknown holder"
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return "unknown holder"
	}
	return "pid " + strings.Join(fields, " since ")
}

// Release removes the lock file.
func (l *RunLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
