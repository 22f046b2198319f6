// Package local serves app trees straight from a filesystem, without a
// remote or a sync record. Its trees are always fresh.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/timkendrick/shunt/pkg/models"
)

// Adapter builds trees by walking a directory on an afero filesystem.
type Adapter struct {
	fs   afero.Fs
	root string
}

// New creates an adapter serving sites under root.
func New(fsys afero.Fs, root string) *Adapter {
	return &Adapter{fs: fsys, root: root}
}

// GetTree walks root+prefix and returns its tree. Node paths are relative to
// the site folder, so the returned root is "/". A missing folder yields nil, nil.
func (a *Adapter) GetTree(ctx context.Context, key models.AppKey, prefix string) (*models.FileNode, error) {
	fullPath := filepath.Join(a.root, filepath.FromSlash(prefix))
	info, err := a.fs.Stat(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("site folder for %s is not a directory", key)
	}
	return a.buildNode(ctx, fullPath, "/", info)
}

func (a *Adapter) buildNode(ctx context.Context, fullPath, relPath string, info fs.FileInfo) (*models.FileNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	node := infoToNode(relPath, info)
	if !info.IsDir() {
		return node, nil
	}

	entries, err := afero.ReadDir(a.fs, fullPath)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", relPath, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	node.Children = make([]*models.FileNode, 0, len(entries))
	for _, entry := range entries {
		// Skip hidden files
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		child, err := a.buildNode(ctx, filepath.Join(fullPath, entry.Name()), path.Join(relPath, entry.Name()), entry)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue // Skip entries we can't read
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func infoToNode(relPath string, info fs.FileInfo) *models.FileNode {
	node := &models.FileNode{
		Path:     relPath,
		Name:     path.Base(relPath),
		IsDir:    info.IsDir(),
		ModTime:  info.ModTime().UTC(),
		ReadOnly: info.Mode().Perm()&0200 == 0,
	}
	if relPath == "/" {
		node.Name = ""
	}
	if !info.IsDir() {
		node.Size = info.Size()
		node.MimeType = mime.TypeByExtension(path.Ext(relPath))
	}
	return node
}
