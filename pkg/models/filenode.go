// Package models contains shared data types used across the mirror.
package models

import (
	"encoding/json"
	"time"
)

// FileNode represents a file or directory in a mirrored app tree.
//
// Attributes the mirror does not know about are kept in Extra and written
// back out unchanged, so entries coming from the remote survive a round trip
// through the persisted record.
type FileNode struct {
	Path      string
	Name      string
	IsDir     bool
	Size      int64
	ModTime   time.Time
	Hash      string
	MimeType  string
	ReadOnly  bool
	Thumbnail bool
	Extra     map[string]json.RawMessage

	// Children is nil for files and non-nil (possibly empty) for directories.
	Children []*FileNode
}

// fileNodeJSON is the wire shape of the known FileNode attributes.
type fileNodeJSON struct {
	Path      string      `json:"path"`
	Name      string      `json:"name"`
	IsDir     bool        `json:"is_dir"`
	Size      int64       `json:"size"`
	ModTime   time.Time   `json:"mtime"`
	Hash      string      `json:"hash,omitempty"`
	MimeType  string      `json:"mime_type,omitempty"`
	ReadOnly  bool        `json:"read_only,omitempty"`
	Thumbnail bool        `json:"thumbnail,omitempty"`
	Children  []*FileNode `json:"children"`
}

var knownFields = map[string]struct{}{
	"path": {}, "name": {}, "is_dir": {}, "size": {}, "mtime": {},
	"hash": {}, "mime_type": {}, "read_only": {}, "thumbnail": {}, "children": {},
}

// MarshalJSON encodes the known attributes and inlines Extra.
func (n FileNode) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(fileNodeJSON{
		Path:      n.Path,
		Name:      n.Name,
		IsDir:     n.IsDir,
		Size:      n.Size,
		ModTime:   n.ModTime,
		Hash:      n.Hash,
		MimeType:  n.MimeType,
		ReadOnly:  n.ReadOnly,
		Thumbnail: n.Thumbnail,
		Children:  n.Children,
	})
	if err != nil || len(n.Extra) == 0 {
		return base, err
	}

	merged := make(map[string]json.RawMessage, len(knownFields)+len(n.Extra))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range n.Extra {
		if _, known := knownFields[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known attributes and collects the rest into Extra.
func (n *FileNode) UnmarshalJSON(data []byte) error {
	var aux fileNodeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*n = FileNode{
		Path:      aux.Path,
		Name:      aux.Name,
		IsDir:     aux.IsDir,
		Size:      aux.Size,
		ModTime:   aux.ModTime,
		Hash:      aux.Hash,
		MimeType:  aux.MimeType,
		ReadOnly:  aux.ReadOnly,
		Thumbnail: aux.Thumbnail,
		Children:  aux.Children,
	}
	for k, v := range raw {
		if _, known := knownFields[k]; known {
			continue
		}
		if n.Extra == nil {
			n.Extra = make(map[string]json.RawMessage)
		}
		n.Extra[k] = v
	}
	return nil
}

// Clone returns a deep copy of the node and its subtree.
func (n *FileNode) Clone() *FileNode {
	if n == nil {
		return nil
	}
	c := n.CloneEntry()
	if n.Children != nil {
		c.Children = make([]*FileNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// CloneEntry copies the node's own attributes without its children.
func (n *FileNode) CloneEntry() *FileNode {
	if n == nil {
		return nil
	}
	c := *n
	c.Children = nil
	if n.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(n.Extra))
		for k, v := range n.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}
