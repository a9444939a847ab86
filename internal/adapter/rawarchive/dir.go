package rawarchive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/weather-quality-etl/internal/domain"
)

// DirSink stores archives under a local directory, for runs without a bucket.
type DirSink struct {
	root string
}

// NewDirSink creates a DirSink rooted at root.
func NewDirSink(root string) *DirSink {
	return &DirSink{root: root}
}

// WriteRaw writes the archive to root/<key>. Existing files are never replaced.
func (d *DirSink) WriteRaw(_ context.Context, a domain.RawArchive) (string, error) {
	key := Key(a)
	body, err := Encode(a)
	if err != nil {
		return "", err
	}

	path := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return key, fmt.Errorf("%s: %w", path, ErrAlreadyExists)
		}
		return "", fmt.Errorf("create archive file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return "", fmt.Errorf("write archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive file: %w", err)
	}
	return key, nil
}

// ListArchives returns every *.json.gz file under root, sorted by path.
// root may also name a single file.
func ListArchives(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json.gz") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}
