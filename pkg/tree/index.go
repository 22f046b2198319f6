package tree

import "github.com/timkendrick/shunt/pkg/models"

// Index maps every node reachable from a root to its normalized Key.
// It is transient: rebuild it from the root before applying a batch.
type Index map[Key]*models.FileNode

// BuildIndex flattens the tree under root. A nil root yields an empty Index.
func BuildIndex(root *models.FileNode) Index {
	idx := make(Index)
	Walk(root, func(n *models.FileNode) bool {
		idx[Normalize(n.Path)] = n
		return true
	})
	return idx
}

// Lookup finds the node for path, comparing case-insensitively.
func (idx Index) Lookup(path string) (*models.FileNode, bool) {
	n, ok := idx[Normalize(path)]
	return n, ok
}

// Keys returns the indexed Keys in no particular order.
func (idx Index) Keys() []Key {
	keys := make([]Key, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	return keys
}

// drop removes node and every descendant from the index. Entries are only
// deleted while they still point at the detached node, so a newer node
// indexed under the same Key survives.
func (idx Index) drop(node *models.FileNode) {
	Walk(node, func(n *models.FileNode) bool {
		k := Normalize(n.Path)
		if idx[k] == n {
			delete(idx, k)
		}
		return true
	})
}

// dropDescendants removes everything below node, keeping node itself.
func (idx Index) dropDescendants(node *models.FileNode) {
	for _, child := range node.Children {
		idx.drop(child)
	}
}
