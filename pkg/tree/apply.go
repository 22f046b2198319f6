package tree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/timkendrick/shunt/pkg/models"
)

// ErrMalformedChange is returned when a change record cannot be applied.
// The whole batch is rejected.
var ErrMalformedChange = errors.New("malformed change record")

// ErrOrphanChange is returned when a record's parent directory is not part of
// the tree, typically because the feed delivered a child before its parent.
var ErrOrphanChange = fmt.Errorf("%w: parent not found", ErrMalformedChange)

// ChangeError reports which record of a batch failed.
type ChangeError struct {
	Index int
	Path  string
	Err   error
}

func (e *ChangeError) Error() string {
	return fmt.Sprintf("change %d (%q): %v", e.Index, e.Path, e.Err)
}

func (e *ChangeError) Unwrap() error {
	return e.Err
}

// Apply merges changes, in order, into the tree rooted at root whose
// designated root path is rootPath. idx must index root; pass nil to have it
// built. The updated root and index are returned. Apply mutates the tree it
// is given, so callers that need the previous version must pass a Clone.
//
// On error the tree and index may be partially updated and must be discarded.
func Apply(rootPath string, root *models.FileNode, idx Index, changes []models.ChangeRecord) (*models.FileNode, Index, error) {
	if idx == nil {
		idx = BuildIndex(root)
	}
	rootKey := Normalize(rootPath)

	for i, c := range changes {
		if strings.TrimSpace(c.Path) == "" {
			return nil, nil, &ChangeError{Index: i, Err: fmt.Errorf("%w: missing path", ErrMalformedChange)}
		}
		key := Normalize(c.Path)

		if c.Removed {
			root = applyRemove(rootKey, root, idx, key)
			continue
		}

		if c.Entry == nil {
			return nil, nil, &ChangeError{Index: i, Path: c.Path, Err: fmt.Errorf("%w: missing entry", ErrMalformedChange)}
		}

		var err error
		root, err = applyUpsert(rootKey, root, idx, key, newNode(c))
		if err != nil {
			return nil, nil, &ChangeError{Index: i, Path: c.Path, Err: err}
		}
	}

	return root, idx, nil
}

func applyRemove(rootKey Key, root *models.FileNode, idx Index, key Key) *models.FileNode {
	if key == rootKey {
		clear(idx)
		return nil
	}
	node, ok := idx[key]
	if !ok {
		return root
	}
	if parent, ok := idx[key.Parent()]; ok {
		RemoveChild(parent, key)
	}
	idx.drop(node)
	return root
}

func applyUpsert(rootKey Key, root *models.FileNode, idx Index, key Key, node *models.FileNode) (*models.FileNode, error) {
	if key == rootKey {
		// A directory record for an existing directory only updates its
		// metadata. The remote never resends children, so they must be kept.
		if root != nil && root.IsDir && node.IsDir {
			node.Children = root.Children
		} else {
			clear(idx)
		}
		idx[key] = node
		return node, nil
	}

	parent, ok := idx[key.Parent()]
	if !ok {
		return nil, ErrOrphanChange
	}
	if !parent.IsDir {
		return nil, fmt.Errorf("%w: parent %q is not a directory", ErrMalformedChange, parent.Path)
	}

	replaced := false
	for i, child := range parent.Children {
		if Normalize(child.Path) != key {
			continue
		}
		// directory over directory keeps the subtree, as for the root above
		if child.IsDir && node.IsDir {
			node.Children = child.Children
		} else {
			idx.dropDescendants(child)
		}
		parent.Children[i] = node
		replaced = true
		break
	}
	if !replaced {
		parent.Children = append(parent.Children, node)
	}
	idx[key] = node
	return root, nil
}

// newNode builds the node a record introduces. The entry's attributes are
// taken wholesale; the record's path, with its original casing, wins.
func newNode(c models.ChangeRecord) *models.FileNode {
	n := c.Entry.CloneEntry()
	n.Path = cleanPath(c.Path)
	if n.Name == "" {
		n.Name = Base(n.Path)
	}
	if n.IsDir {
		n.Children = []*models.FileNode{}
	}
	return n
}

func cleanPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}
