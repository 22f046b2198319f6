// Package tree provides the path index and delta applier that keep a mirrored
// file tree current, plus small helpers for walking it.
package tree

import "github.com/timkendrick/shunt/pkg/models"

// FindByPath resolves a path in the tree, comparing normalized Keys.
func FindByPath(root *models.FileNode, path string) *models.FileNode {
	return findByKey(root, Normalize(path))
}

func findByKey(node *models.FileNode, key Key) *models.FileNode {
	if node == nil {
		return nil
	}
	nodeKey := Normalize(node.Path)
	if nodeKey == key {
		return node
	}
	if !nodeKey.Contains(key) {
		return nil
	}
	for _, child := range node.Children {
		if found := findByKey(child, key); found != nil {
			return found
		}
	}
	return nil
}

// CountNodes counts all nodes in a tree.
func CountNodes(root *models.FileNode) int {
	if root == nil {
		return 0
	}
	count := 1
	for _, child := range root.Children {
		count += CountNodes(child)
	}
	return count
}

// RemoveChild drops every child of parent whose path normalizes to key and
// returns the removed nodes.
func RemoveChild(parent *models.FileNode, key Key) []*models.FileNode {
	var removed []*models.FileNode
	kept := parent.Children[:0]
	for _, child := range parent.Children {
		if Normalize(child.Path) == key {
			removed = append(removed, child)
			continue
		}
		kept = append(kept, child)
	}
	for i := len(kept); i < len(parent.Children); i++ {
		parent.Children[i] = nil
	}
	parent.Children = kept
	return removed
}

// Walk visits node and its descendants depth first. Returning false from fn
// skips the node's children.
func Walk(node *models.FileNode, fn func(*models.FileNode) bool) {
	if node == nil {
		return
	}
	if !fn(node) {
		return
	}
	for _, child := range node.Children {
		Walk(child, fn)
	}
}
