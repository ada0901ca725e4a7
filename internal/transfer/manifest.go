package transfer

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/kenneth/p2p-copy/internal/protocol"
)

// sourceFile binds a wire path to its local origin.
type sourceFile struct {
	wirePath string
	local    string
	size     int64
}

// collectSources expands the input paths into the transfer order: a file
// contributes (basename, size); a directory contributes (basename/rel, size)
// for every regular file underneath, lexicographically by path. Wire paths
// use forward slashes regardless of platform.
func collectSources(inputs []string) ([]sourceFile, error) {
	var sources []sourceFile
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", in, err)
		}
		base := filepath.Base(filepath.Clean(in))
		if info.Mode().IsRegular() {
			sources = append(sources, sourceFile{wirePath: base, local: in, size: info.Size()})
			continue
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s: not a regular file or directory", in)
		}
		// WalkDir visits entries in lexical order, which is the transfer
		// order the manifest promises.
		err = filepath.WalkDir(in, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(in, p)
			if err != nil {
				return err
			}
			sources = append(sources, sourceFile{
				wirePath: path.Join(base, filepath.ToSlash(rel)),
				local:    p,
				size:     fi.Size(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", in, err)
		}
	}
	return sources, nil
}

// manifestEntries projects the sources into wire manifest entries.
func manifestEntries(sources []sourceFile) []protocol.ManifestEntry {
	entries := make([]protocol.ManifestEntry, len(sources))
	for i, s := range sources {
		entries[i] = protocol.ManifestEntry{Path: s.wirePath, Size: s.size}
	}
	return entries
}
