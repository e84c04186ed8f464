package tomo

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// NumCPU returns the number of logical CPUs available for worker pools.
// A positive requested count is returned unchanged.
func NumCPU(requested int) int {
	if requested > 0 {
		return requested
	}
	return runtime.NumCPU()
}

// ConvertToAbsolute converts a path relative to the directory of base into an
// absolute path.  Absolute and empty paths are returned unchanged.
func ConvertToAbsolute(path, base string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return path, nil
	}
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("unable to get absolute path of %q: %v", base, err)
	}
	return filepath.Join(filepath.Dir(baseAbs), path), nil
}

// FileExists returns true if the path exists and is not a directory.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
