// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// Purge removes dir and everything under it. Files are made writable and
// removed one at a time, deepest first, before the directories themselves,
// so a single stubborn file is reported by name. A missing dir is not an error.
func Purge(dir string) error {
	if _, err := os.Lstat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	var files, dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			_ = os.Chmod(path, 0o700)
			dirs = append(dirs, path)
		} else {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}

	var errList []error
	for _, f := range files {
		_ = os.Chmod(f, 0o600)
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errList = append(errList, fmt.Errorf("remove %s: %w", f, err))
		}
	}
	slices.Reverse(dirs)
	for _, d := range dirs {
		if err := os.Remove(d); err != nil && !errors.Is(err, os.ErrNotExist) {
			errList = append(errList, fmt.Errorf("remove %s: %w", d, err))
		}
	}
	if len(errList) > 0 {
		return errors.Join(errList...)
	}
	return nil
}
