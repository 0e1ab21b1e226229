package extract

import (
	"os"
	"path"
	"strings"
	"sync"

	"github.com/hashicorp/go-gatedio"
	"github.com/pyr-sh/dag"

	"github.com/npmcore/npmcore/internal/archive"
	"github.com/npmcore/npmcore/internal/npmerr"
)

// Options configures Extract.
type Options struct {
	// StripPrefix removes a leading path component from every entry
	// before placing it (npm tarballs nest everything under "package/").
	StripPrefix string
	// Limit caps the total bytes written across all entries; 0 means
	// unlimited.
	Limit int64
	// OnProgress, if set, is called after each file entry is written with
	// the cumulative byte count written so far; directory and symlink
	// entries do not trigger it.
	OnProgress func(written int64)
	// VerifySymlinkTargets defers symlink creation until every other
	// entry has been placed, and fails a symlink whose target is absent
	// from both the already-restored files and the rest of the deferred
	// symlink set.
	VerifySymlinkTargets bool
}

// Extract decompresses (if needed) and unpacks data onto vfs rooted at
// the VFS's own root, returning every path it wrote.
func Extract(data []byte, vfs VFS, opts Options) ([]string, error) {
	if archive.IsGzip(data) {
		decompressed, err := archive.Decompress(data)
		if err != nil {
			return nil, err
		}
		data = decompressed
	}

	entries, err := archive.ParseTar(data, archive.ParseOptions{Secure: true})
	if err != nil {
		return nil, err
	}

	progress := gatedio.NewWriter(&progressWriter{onProgress: opts.OnProgress})

	var written int64
	var restored []string
	dirsMade := make(map[string]bool)
	var deferredSymlinks []archive.TarEntry

	for _, entry := range entries {
		name, ok := stripPrefix(entry.Name, opts.StripPrefix)
		if !ok {
			continue
		}
		if name == "" || name == "." {
			continue
		}

		if opts.Limit > 0 && written+entry.Size > opts.Limit {
			return restored, npmerr.New(npmerr.ESecurity, "extraction exceeds byte limit %d", opts.Limit).With("entry", name)
		}

		switch entry.Type {
		case archive.TypeDirectory:
			if err := ensureDir(vfs, dirsMade, name); err != nil {
				return restored, err
			}
		case archive.TypeSymlink:
			if opts.VerifySymlinkTargets {
				deferred := entry
				deferred.Name = name
				deferredSymlinks = append(deferredSymlinks, deferred)
				continue
			}
			if err := ensureDir(vfs, dirsMade, path.Dir(name)); err != nil {
				return restored, err
			}
			if err := vfs.Symlink(entry.Linkname, name); err != nil {
				return restored, err
			}
		case archive.TypeFile, archive.TypeContiguous:
			if err := ensureDir(vfs, dirsMade, path.Dir(name)); err != nil {
				return restored, err
			}
			if err := vfs.WriteFile(name, entry.Content, fileMode(entry.Mode)); err != nil {
				return restored, err
			}
			written += int64(len(entry.Content))
			_, _ = progress.Write(entry.Content)
		default:
			continue
		}
		restored = append(restored, name)
	}

	symlinksRestored, err := restoreSymlinksInOrder(vfs, dirsMade, deferredSymlinks)
	if err != nil {
		return restored, err
	}
	restored = append(restored, symlinksRestored...)

	return restored, nil
}

func ensureDir(vfs VFS, made map[string]bool, dir string) error {
	if dir == "" || dir == "." || made[dir] {
		return nil
	}
	if err := vfs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	made[dir] = true
	return nil
}

func fileMode(mode int64) os.FileMode {
	return os.FileMode(mode & 0o7777)
}

// stripPrefix removes prefix (a single leading path component, e.g.
// "package") from name, reporting ok=false if name doesn't have it.
func stripPrefix(name, prefix string) (string, bool) {
	if prefix == "" {
		return name, true
	}
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, prefix), true
}

// restoreSymlinksInOrder topologically orders deferred symlinks (a
// symlink may target another deferred symlink) and creates each only
// after any deferred symlink it targets. A target that resolves to
// neither an already-restored file nor another deferred symlink fails.
func restoreSymlinksInOrder(vfs VFS, dirsMade map[string]bool, entries []archive.TarEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	byName := make(map[string]archive.TarEntry, len(entries))
	var g dag.AcyclicGraph
	for _, e := range entries {
		byName[e.Name] = e
		g.Add(e.Name)
	}
	for _, e := range entries {
		target := path.Join(path.Dir(e.Name), e.Linkname)
		if _, isDeferred := byName[target]; isDeferred {
			g.Connect(dag.BasicEdge(e.Name, target))
		}
	}

	var order []string
	var orderMu sync.Mutex
	if err := g.Walk(func(v dag.Vertex) error {
		orderMu.Lock()
		order = append(order, v.(string))
		orderMu.Unlock()
		return nil
	}); err != nil {
		return nil, npmerr.Wrap(err, npmerr.ESecurity)
	}

	var restored []string
	for _, name := range order {
		e := byName[name]
		if _, exists, err := vfs.Lstat(path.Join(path.Dir(e.Name), e.Linkname)); err == nil && !exists {
			if _, isDeferred := byName[path.Join(path.Dir(e.Name), e.Linkname)]; !isDeferred {
				return restored, npmerr.New(npmerr.EInstall, "symlink %q targets missing path %q", e.Name, e.Linkname).With("entry", e.Name)
			}
		}
		if err := ensureDir(vfs, dirsMade, path.Dir(e.Name)); err != nil {
			return restored, err
		}
		if err := vfs.Symlink(e.Linkname, e.Name); err != nil {
			return restored, err
		}
		restored = append(restored, e.Name)
	}
	return restored, nil
}

type progressWriter struct {
	total      int64
	onProgress func(int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.total += int64(len(b))
	if p.onProgress != nil {
		p.onProgress(p.total)
	}
	return len(b), nil
}
