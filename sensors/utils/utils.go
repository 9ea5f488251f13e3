// Package utils contains helper functions for the sensor implementations.
package utils

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// CheckDataroot returns an error if dataroot is not an existing directory.
func CheckDataroot(dataroot string) error {
	if dataroot == "" {
		return errors.New("dataroot is required")
	}
	info, err := os.Stat(dataroot)
	if err != nil {
		return errors.Wrap(err, "error reading dataroot")
	}
	if !info.IsDir() {
		return errors.Errorf("dataroot %v is not a directory", dataroot)
	}
	return nil
}

// ResolvePath joins a dataroot-relative filename from a sample_data record onto dataroot
// and checks that the result names a regular file.
func ResolvePath(dataroot, filename string) (string, error) {
	if filename == "" {
		return "", errors.New("sample_data record has no filename")
	}
	if filepath.IsAbs(filename) {
		return "", errors.Errorf("expected a dataroot-relative filename, got %v", filename)
	}
	path := filepath.Join(dataroot, filepath.FromSlash(filename))
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", errors.Errorf("%v is not a regular file", path)
	}
	return path, nil
}
