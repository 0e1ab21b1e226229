package extract

import (
	"path"
	"sort"

	"github.com/npmcore/npmcore/internal/archive"
)

// PackOptions configures Pack.
type PackOptions struct {
	// Prefix is prepended to every entry name (npm tarballs nest
	// everything under "package/").
	Prefix string
	// OnComplete, if set, receives the finished tarball's SRI integrity
	// string once packing succeeds.
	OnComplete func(sri string)
}

// Pack walks root within vfs and builds a gzip-compressed tar of its
// contents, in deterministic (sorted) path order.
func Pack(vfs VFS, root string, opts PackOptions) ([]byte, error) {
	var entries []archive.WriteEntry
	if err := walk(vfs, root, opts.Prefix, &entries); err != nil {
		return nil, err
	}

	tarBytes, err := archive.WriteTar(entries)
	if err != nil {
		return nil, err
	}

	gz, err := archive.Compress(tarBytes)
	if err != nil {
		return nil, err
	}

	if opts.OnComplete != nil {
		sri, err := archive.Calculate(gz, archive.SHA512)
		if err != nil {
			return nil, err
		}
		opts.OnComplete(sri)
	}

	return gz, nil
}

func walk(vfs VFS, dir, prefix string, entries *[]archive.WriteEntry) error {
	children, err := vfs.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })

	for _, child := range children {
		rel := path.Join(dir, child.Name)
		name := path.Join(prefix, rel)

		switch {
		case child.IsSymlink:
			target, err := vfs.Readlink(rel)
			if err != nil {
				return err
			}
			*entries = append(*entries, archive.WriteEntry{
				Name: name, Type: archive.TypeSymlink, Linkname: target, Mode: int64(child.Mode.Perm()),
			})
		case child.IsDir:
			*entries = append(*entries, archive.WriteEntry{
				Name: name + "/", Type: archive.TypeDirectory, Mode: int64(child.Mode.Perm()),
			})
			if err := walk(vfs, rel, prefix, entries); err != nil {
				return err
			}
		default:
			data, err := vfs.ReadFile(rel)
			if err != nil {
				return err
			}
			*entries = append(*entries, archive.WriteEntry{
				Name: name, Type: archive.TypeFile, Mode: int64(child.Mode.Perm()), Content: data,
			})
		}
	}
	return nil
}

// PackFiles builds a tarball directly from an in-memory path->content
// map, for callers (tests, the registry publish path) that have file
// contents in hand rather than a VFS to walk.
func PackFiles(files map[string][]byte, prefix string, opts PackOptions) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]archive.WriteEntry, 0, len(names))
	for _, name := range names {
		data := files[name]
		entries = append(entries, archive.WriteEntry{
			Name: path.Join(prefix, name), Type: archive.TypeFile, Mode: 0o644, Content: data,
		})
	}

	tarBytes, err := archive.WriteTar(entries)
	if err != nil {
		return nil, err
	}
	gz, err := archive.Compress(tarBytes)
	if err != nil {
		return nil, err
	}
	if opts.OnComplete != nil {
		sri, err := archive.Calculate(gz, archive.SHA512)
		if err != nil {
			return nil, err
		}
		opts.OnComplete(sri)
	}
	return gz, nil
}
