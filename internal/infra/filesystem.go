package infra

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// GetWorkDir expands base, appends the optional sub path and makes sure it exists.
func GetWorkDir(base string, sub ...string) (string, error) {
	workDir, err := homedir.Expand(filepath.Join(append([]string{base}, sub...)...))
	if err != nil {
		return "", fmt.Errorf("expand work dir: %w", err)
	}
	if err := os.MkdirAll(workDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return workDir, nil
}

// GetResourcesPath joins embedded resource path parts, which always use forward slashes.
func GetResourcesPath(parts ...string) string {
	return path.Join(parts...)
}
