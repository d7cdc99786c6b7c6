// Package file implements a local filesystem data source: a directory tree
// whose regular files are the dataset's input units.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"silverload/internal/config"
	"silverload/internal/datasource"
)

func init() {
	datasource.Register("file", func(_ context.Context, cfg config.Source) (datasource.Store, error) {
		return NewLocal(cfg.Path, cfg.Pattern)
	})
}

// Local is a directory of units. It is safe for concurrent use.
type Local struct {
	root    string
	pattern string
}

var _ datasource.Store = (*Local)(nil)

// NewLocal returns a store rooted at root. pattern is an optional
// path.Match glob applied to base names.
func NewLocal(root, pattern string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("file: root must not be empty")
	}
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("file: bad pattern %q: %w", pattern, err)
		}
	}
	return &Local{root: filepath.Clean(root), pattern: pattern}, nil
}

func (l *Local) Location() string { return l.root }

// List walks the tree and returns every regular file. Hidden files and
// directories (leading '.' or '_') are skipped.
//
// A missing root is an error: the dataset location must exist even when it
// holds no units yet.
func (l *Local) List(ctx context.Context) ([]datasource.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []datasource.Unit
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == l.root {
			if !d.IsDir() {
				return fmt.Errorf("%s is not a directory", l.root)
			}
			return nil
		}
		if datasource.Hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if l.pattern != "" {
			if ok, _ := path.Match(l.pattern, d.Name()); !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		out = append(out, datasource.Unit{
			ID:      filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.root, err)
	}
	return out, nil
}

// Open opens unit id for reading.
//
// A pre-canceled context returns the context error without touching the
// filesystem. A missing unit wraps both os.ErrNotExist and
// datasource.ErrUnitNotFound.
func (l *Local) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if !fs.ValidPath(id) {
		return nil, fmt.Errorf("open %q: invalid unit id", id)
	}
	p := filepath.Join(l.root, filepath.FromSlash(id))
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w: %w", p, datasource.ErrUnitNotFound, err)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}
