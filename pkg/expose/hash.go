// SPDX-License-Identifier: MPL-2.0

package expose

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/sha3"
)

// TreeHash computes a deterministic SHA3-256 hash over a directory tree:
// every regular file's repo-relative path and content, in sorted order.
// Symlinks, .git directories and the provenance marker itself are excluded
// so the hash of a copy matches the hash of its source.
func TreeHash(root string) (string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || d.Name() == MarkerFileName {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return "", &FilesystemError{Op: "hash", Path: root, Cause: err}
	}

	sort.Strings(files)

	hasher := sha3.New256()
	for _, file := range files {
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return "", &FilesystemError{Op: "hash", Path: file, Cause: err}
		}

		hasher.Write([]byte(filepath.ToSlash(rel)))
		hasher.Write([]byte{0})

		f, err := os.Open(file)
		if err != nil {
			return "", &FilesystemError{Op: "hash", Path: file, Cause: err}
		}
		if _, err := io.Copy(hasher, f); err != nil {
			_ = f.Close()
			return "", &FilesystemError{Op: "hash", Path: file, Cause: err}
		}
		_ = f.Close()
		hasher.Write([]byte{0})
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
