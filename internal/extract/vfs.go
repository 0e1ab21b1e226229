// Package extract applies a parsed tar archive onto a virtual
// filesystem (the Extractor) and builds a tar archive from a virtual
// filesystem subtree (the Packer).
package extract

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/npmcore/npmcore/internal/npmerr"
)

// FileInfo is the VFS's minimal stat shape.
type FileInfo struct {
	Name      string
	Mode      os.FileMode
	Size      int64
	IsDir     bool
	IsSymlink bool
}

// VFS is the narrow filesystem port the Extractor and Packer depend on,
// letting either run against the real filesystem, an in-memory fixture,
// or (eventually) a different backing store entirely.
type VFS interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(path string, data []byte, perm os.FileMode) error
	ReadFile(path string) ([]byte, error)
	Symlink(target, linkPath string) error
	Readlink(path string) (string, error)
	Lstat(path string) (FileInfo, bool, error)
	Remove(path string) error
	ReadDir(path string) ([]FileInfo, error)
}

// OSFS is a VFS rooted at a real directory on disk. Every path passed to
// its methods is treated as relative to Root.
type OSFS struct {
	Root string
}

// NewOSFS builds an OSFS rooted at root, creating root if it doesn't exist.
func NewOSFS(root string) (*OSFS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, npmerr.Wrap(err, npmerr.EInstall)
	}
	return &OSFS{Root: root}, nil
}

func (fs *OSFS) abs(path string) string {
	return filepath.Join(fs.Root, filepath.FromSlash(path))
}

func (fs *OSFS) MkdirAll(path string, perm os.FileMode) error {
	return npmerr.Wrap(os.MkdirAll(fs.abs(path), perm), npmerr.EInstall)
}

func (fs *OSFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return npmerr.Wrap(os.WriteFile(fs.abs(path), data, perm), npmerr.EInstall)
}

func (fs *OSFS) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(fs.abs(path))
	return data, npmerr.Wrap(err, npmerr.EInstall)
}

func (fs *OSFS) Symlink(target, linkPath string) error {
	if err := fs.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(fs.abs(linkPath))
	return npmerr.Wrap(os.Symlink(target, fs.abs(linkPath)), npmerr.EInstall)
}

func (fs *OSFS) Readlink(path string) (string, error) {
	target, err := os.Readlink(fs.abs(path))
	return target, npmerr.Wrap(err, npmerr.EInstall)
}

func (fs *OSFS) Lstat(path string) (FileInfo, bool, error) {
	info, err := os.Lstat(fs.abs(path))
	if os.IsNotExist(err) {
		return FileInfo{}, false, nil
	}
	if err != nil {
		return FileInfo{}, false, npmerr.Wrap(err, npmerr.EInstall)
	}
	return FileInfo{
		Name:      info.Name(),
		Mode:      info.Mode(),
		Size:      info.Size(),
		IsDir:     info.IsDir(),
		IsSymlink: info.Mode()&os.ModeSymlink != 0,
	}, true, nil
}

func (fs *OSFS) Remove(path string) error {
	err := os.Remove(fs.abs(path))
	if os.IsNotExist(err) {
		return nil
	}
	return npmerr.Wrap(err, npmerr.EInstall)
}

func (fs *OSFS) ReadDir(path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(fs.abs(path))
	if err != nil {
		return nil, npmerr.Wrap(err, npmerr.EInstall)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, npmerr.Wrap(err, npmerr.EInstall)
		}
		out = append(out, FileInfo{
			Name:      e.Name(),
			Mode:      info.Mode(),
			Size:      info.Size(),
			IsDir:     e.IsDir(),
			IsSymlink: info.Mode()&os.ModeSymlink != 0,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
