package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePath resolves inputPath (following symlinks) and, when allowedDir
// is non-empty, rejects anything that escapes it.
func ValidatePath(inputPath, allowedDir string) (string, error) {
	absInput, err := filepath.Abs(inputPath)
	if err != nil {
		return "", fmt.Errorf("invalid input path: %w", err)
	}

	resolvedInput, err := filepath.EvalSymlinks(absInput)
	if err != nil {
		return "", fmt.Errorf("cannot resolve input path: %w", err)
	}

	if allowedDir == "" {
		return resolvedInput, nil
	}

	absBase, err := filepath.Abs(allowedDir)
	if err != nil {
		return "", fmt.Errorf("invalid allowed directory: %w", err)
	}
	resolvedBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", fmt.Errorf("cannot resolve allowed directory: %w", err)
	}

	rel, err := filepath.Rel(resolvedBase, resolvedInput)
	if err != nil {
		return "", fmt.Errorf("cannot compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", rel)
	}

	return resolvedInput, nil
}

// ValidateFile checks that the resolved path is an existing regular file.
func ValidateFile(resolvedPath string) error {
	info, err := os.Stat(resolvedPath)
	if err != nil {
		return fmt.Errorf("file does not exist: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", resolvedPath)
	}
	return nil
}
