package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/letters/internal/core"
)

// FS stores each template as <dir>/<id>.<format>.
type FS struct {
	dir string
	mu  sync.RWMutex
}

var _ core.TemplateStore = (*FS)(nil)

// NewFS creates the directory if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create template dir: %w", err)
	}
	return &FS{dir: dir}, nil
}

// Dir returns the template directory.
func (s *FS) Dir() string { return s.dir }

// Store writes content atomically and removes any copy of the template in
// another format.
func (s *FS) Store(ctx context.Context, id, format string, content []byte) error {
	id, format, err := checkInput(id, format)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write template: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync template: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close template: %w", err)
	}

	if err := os.Rename(tmpName, s.path(id, format)); err != nil {
		return fmt.Errorf("save template: %w", err)
	}

	for _, other := range Formats {
		if other != format {
			if err := os.Remove(s.path(id, other)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove old template: %w", err)
			}
		}
	}
	return nil
}

// Resolve reads the template for id.
func (s *FS) Resolve(ctx context.Context, id string) (*core.TemplateHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, format := range Formats {
		p := s.path(id, format)
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat template: %w", err)
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read template: %w", err)
		}
		return &core.TemplateHandle{
			ID:        id,
			Format:    format,
			Content:   content,
			UpdatedAt: info.ModTime(),
		}, nil
	}
	return nil, notFound(id)
}

// List returns stored templates sorted by id.
func (s *FS) List(ctx context.Context) ([]core.TemplateInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}

	var out []core.TemplateInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		format := strings.TrimPrefix(filepath.Ext(name), ".")
		if !validFormat(format) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, core.TemplateInfo{
			ID:        strings.TrimSuffix(name, "."+format),
			Format:    format,
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// path joins id and format. id must never contain a separator.
func (s *FS) path(id, format string) string {
	return filepath.Join(s.dir, filepath.Base(id)+"."+format)
}
