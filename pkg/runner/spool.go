package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// Spool is the file store shared with the supervisor. Names are slash separated
// and relative to the spool root.
type Spool interface {
	MkdirAll(ctx context.Context, dir string) error
	// WriteFile replaces name atomically.
	WriteFile(ctx context.Context, name string, data []byte) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	// ReadDir returns the sorted entry names of dir, or nothing when dir is absent.
	ReadDir(ctx context.Context, dir string) ([]string, error)
	Exists(ctx context.Context, name string) (bool, error)
	ModTime(ctx context.Context, name string) (time.Time, error)
	Remove(ctx context.Context, name string) error
	RemoveAll(ctx context.Context, dir string) error
	Close() error
}

// FSSpool is a Spool on an afero filesystem.
type FSSpool struct {
	fs afero.Fs
}

// NewLocalSpool returns a spool rooted at a local directory.
func NewLocalSpool(root string) (*FSSpool, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return NewFSSpool(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

// NewFSSpool wraps an afero filesystem, e.g. afero.NewMemMapFs in tests.
func NewFSSpool(fsys afero.Fs) *FSSpool {
	return &FSSpool{fs: fsys}
}

func (s *FSSpool) MkdirAll(_ context.Context, dir string) error {
	return s.fs.MkdirAll(clean(dir), 0o750)
}

func (s *FSSpool) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = clean(name)
	tmp, err := afero.TempFile(s.fs, path.Dir(name), ".spool-*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp.Name(), name); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

func (s *FSSpool) ReadFile(_ context.Context, name string) ([]byte, error) {
	return afero.ReadFile(s.fs, clean(name))
}

func (s *FSSpool) ReadDir(_ context.Context, dir string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, clean(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *FSSpool) Exists(_ context.Context, name string) (bool, error) {
	return afero.Exists(s.fs, clean(name))
}

func (s *FSSpool) ModTime(_ context.Context, name string) (time.Time, error) {
	fi, err := s.fs.Stat(clean(name))
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (s *FSSpool) Remove(_ context.Context, name string) error {
	err := s.fs.Remove(clean(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FSSpool) RemoveAll(_ context.Context, dir string) error {
	return s.fs.RemoveAll(clean(dir))
}

func (s *FSSpool) Close() error { return nil }

// clean keeps names inside the spool root.
func clean(name string) string {
	return path.Clean("/" + name)
}
