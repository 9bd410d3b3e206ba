package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ZIPOptions configures ExtractZIP.
type ZIPOptions struct {
	// NameCharset decodes entry names not flagged as UTF-8 (e.g. "big5").
	NameCharset string
	// Match selects entries by decoded name; nil extracts every file.
	Match func(name string) bool
}

// ExtractZIP extracts the matching files of zipPath into destDir and returns
// their paths in archive order.
func ExtractZIP(zipPath, destDir string, opts ZIPOptions) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var out []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := f.Name
		if f.NonUTF8 && opts.NameCharset != "" {
			if decoded, err := DecodeString(name, opts.NameCharset); err == nil {
				name = decoded
			}
		}
		if opts.Match != nil && !opts.Match(name) {
			continue
		}
		path, err := extractEntry(f, name, destDir)
		if err != nil {
			return out, err
		}
		out = append(out, path)
	}
	return out, nil
}

func extractEntry(f *zip.File, name, destDir string) (string, error) {
	dest := filepath.Join(destDir, name)
	if !strings.HasPrefix(filepath.Clean(dest), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", name)
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "zip: open entry %s", name)
	}
	defer rc.Close() //nolint:errcheck

	if _, err := writeAtomic(dest, io.LimitReader(rc, int64(f.UncompressedSize64)+1)); err != nil {
		return "", eris.Wrapf(err, "zip: extract %s", name)
	}
	return dest, nil
}
