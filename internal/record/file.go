package record

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/timkendrick/shunt/pkg/models"
)

const fileExt = ".json.gz"

// File stores each record as {dir}/{user}/{app}.json.gz.
type File struct {
	fs  afero.Fs
	dir string
}

// NewFile creates a file store rooted at dir on fsys.
func NewFile(fsys afero.Fs, dir string) (*File, error) {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &File{fs: fsys, dir: dir}, nil
}

func (f *File) path(key models.AppKey) string {
	return filepath.Join(f.dir, key.User, key.App+fileExt)
}

func (f *File) Get(ctx context.Context, key models.AppKey) (rec *models.SyncRecord, err error) {
	start := time.Now()
	defer func() { observe("file", "get", start, err) }()

	if err := key.Validate(); err != nil {
		return nil, err
	}
	fh, err := f.fs.Open(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open record: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}

// Put writes to a temp file and renames it over the old record.
func (f *File) Put(ctx context.Context, key models.AppKey, rec *models.SyncRecord) (err error) {
	start := time.Now()
	defer func() { observe("file", "put", start, err) }()

	if err := key.Validate(); err != nil {
		return err
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	localPath := f.path(key)
	if err := f.fs.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	tempPath := localPath + ".tmp"
	if err := afero.WriteFile(f.fs, tempPath, data, 0644); err != nil {
		f.fs.Remove(tempPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.fs.Rename(tempPath, localPath); err != nil {
		f.fs.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (f *File) Delete(ctx context.Context, key models.AppKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	err := f.fs.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

func (f *File) List(ctx context.Context) ([]models.AppKey, error) {
	var keys []models.AppKey
	err := afero.Walk(f.fs, f.dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || !strings.HasSuffix(p, fileExt) {
			return nil
		}
		rel, err := filepath.Rel(f.dir, p)
		if err != nil {
			return nil
		}
		key, err := models.ParseAppKey(filepath.ToSlash(strings.TrimSuffix(rel, fileExt)))
		if err != nil {
			return nil // not ours
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sortKeys(keys)
	return keys, nil
}

func (f *File) Close() error { return nil }
