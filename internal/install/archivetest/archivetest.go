// Package archivetest builds release archives for tests.
package archivetest

import (
	"archive/tar"
	"bytes"
	"sort"

	"github.com/klauspost/compress/gzip"
)

// TarGz returns a gzip-compressed tar holding files (name → content).
// Names ending in "/" become directories.
func TarGz(files map[string]string) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		content := files[name]
		if name[len(name)-1] == '/' {
			tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0755})
			continue
		}
		tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		})
		tw.Write([]byte(content))
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}
