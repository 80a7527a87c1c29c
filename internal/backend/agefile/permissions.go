package agefile

import (
	"fmt"
	"os"
)

// requiredMode is the file mode for the identity and the data file.
const requiredMode os.FileMode = 0600

// PermissionError reports a key or data file readable by others.
type PermissionError struct {
	Path    string
	Current os.FileMode
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("insecure permissions %04o on %s (want %04o); fix with: chmod %04o %s",
		e.Current, e.Path, requiredMode, requiredMode, e.Path)
}

// checkMode returns a *PermissionError unless path is missing or exactly 0600.
func checkMode(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if mode := info.Mode().Perm(); mode != requiredMode {
		return &PermissionError{Path: path, Current: mode}
	}
	return nil
}
