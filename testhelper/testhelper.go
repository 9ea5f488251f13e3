// Package testhelper provides helper functions for testing scene exports.
package testhelper

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

// CreateTempOutputDirectory creates a new random temporary directory to export scenes into.
// The caller is responsible for removing it.
func CreateTempOutputDirectory(logger golog.Logger) (string, error) {
	tmpDir, err := os.MkdirTemp("", "scene-fusion-*")
	if err != nil {
		return "", err
	}
	logger.Debugf("exporting to %v", tmpDir)
	return tmpDir, nil
}

// ResetFolder removes all content in path and creates a new directory
// in its place.
func ResetFolder(path string) error {
	dirInfo, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !dirInfo.IsDir() {
		return errors.Errorf("the path passed ResetFolder does not point to a folder: %v", path)
	}
	if err = os.RemoveAll(path); err != nil {
		return err
	}
	return os.Mkdir(path, dirInfo.Mode())
}

// CheckOutputDirForExpectedFiles ensures that dir holds exactly one export per scene name
// with the given extension and that each one is non-empty.
func CheckOutputDirForExpectedFiles(t *testing.T, dir string, sceneNames []string, ext string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)

	var got []string
	for _, entry := range entries {
		got = append(got, entry.Name())
		info, err := entry.Info()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
	}
	want := make([]string, 0, len(sceneNames))
	for _, name := range sceneNames {
		want = append(want, filepath.Base(name)+ext)
	}
	sort.Strings(got)
	sort.Strings(want)
	test.That(t, got, test.ShouldResemble, want)
}
