// Package wsid derives stable workspace identifiers from filesystem roots.
package wsid

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Markers are the files/directories whose presence in a candidate directory
// identifies it as a workspace root, checked in the order a caller walking
// upward from a file should prefer them.
var Markers = []string{
	"go.mod",
	"package.json",
	"tsconfig.json",
	"Cargo.toml",
	"pyproject.toml",
	"setup.py",
	"pom.xml",
	"build.gradle",
	"build.gradle.kts",
	"CMakeLists.txt",
	"Makefile",
	".git",
	".hg",
	".svn",
}

// ID is a workspace identifier: "{8-hex Blake3}_{folder}".
type ID string

// Canonicalize resolves a workspace root to its canonical absolute form:
// symlinks are resolved where the filesystem allows it, falling back to the
// literal absolute path when EvalSymlinks fails (e.g. the root doesn't exist
// yet, or straddles a filesystem that doesn't support it).
func Canonicalize(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		abs = resolved
	}

	abs = filepath.ToSlash(abs)
	return strings.TrimSuffix(abs, "/")
}

// For computes the workspace_id for a canonicalized root: the first 8 hex
// characters of the Blake3 hash of the normalized path, followed by an
// underscore and the root's final path component.
func For(root string) ID {
	canonical := Canonicalize(root)

	sum := blake3.Sum256([]byte(canonical))
	hash := hex.EncodeToString(sum[:4]) // 4 bytes -> 8 hex chars

	folder := filepath.Base(canonical)
	if folder == "" || folder == "." || folder == "/" {
		folder = "root"
	}

	return ID(hash + "_" + folder)
}

// IsMarkerPresent reports whether dir directly contains one of Markers.
func IsMarkerPresent(dir string) bool {
	for _, m := range Markers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}

// FindRoot walks upward from startPath looking for the nearest ancestor
// directory (inclusive) that contains a workspace marker. It returns the
// starting directory (startPath, or its parent directory when startPath is
// a file), canonicalized, if no marker is found before reaching the
// filesystem root, matching the spec's "treat the file's own directory
// as the workspace" fallback.
func FindRoot(startPath string) string {
	dir := startPath
	if fi, err := os.Stat(startPath); err == nil && !fi.IsDir() {
		dir = filepath.Dir(startPath)
	}

	dir = Canonicalize(dir)
	fallback := dir

	for {
		if IsMarkerPresent(dir) {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return fallback
}
