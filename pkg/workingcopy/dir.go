package workingcopy

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// repoDir is the repository metadata directory, excluded from listing.
const repoDir = ".pijul"

// Dir is a Provider rooted at a real directory.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) abs(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

func (d *Dir) Read(path string) ([]byte, error) {
	b, err := os.ReadFile(d.abs(path))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (d *Dir) Write(path string, data []byte) error {
	full := d.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (d *Dir) Remove(path string) error {
	err := os.Remove(d.abs(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (d *Dir) List() ([]string, error) {
	var out []string
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if entry.IsDir() {
			if rel == repoDir || strings.HasPrefix(rel, repoDir+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == repoDir || strings.HasPrefix(rel, repoDir+"/") {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
