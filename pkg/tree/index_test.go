package tree

import (
	"testing"

	"github.com/timkendrick/shunt/pkg/models"
)

func TestBuildIndex(t *testing.T) {
	root := sampleTree()
	idx := BuildIndex(root)

	if len(idx) != 4 {
		t.Errorf("BuildIndex returned %d nodes, want 4", len(idx))
	}
	for _, path := range []string{"/site", "/site/a.txt", "/site/dir", "/site/dir/b.txt"} {
		node, ok := idx[Key(path)]
		if !ok {
			t.Errorf("index missing path %q", path)
			continue
		}
		if walked := FindByPath(root, path); walked != node {
			t.Errorf("index entry for %q is not the node reachable from root", path)
		}
	}

	if n, ok := idx.Lookup("/SITE/Dir/B.TXT"); !ok || n.Name != "b.txt" {
		t.Error("Lookup should be case-insensitive")
	}

	if len(BuildIndex(nil)) != 0 {
		t.Error("BuildIndex(nil) should return empty index")
	}
}

func TestBuildIndexMatchesReachableSet(t *testing.T) {
	root := sampleTree()
	idx := BuildIndex(root)

	reachable := make(map[Key]bool)
	Walk(root, func(n *models.FileNode) bool {
		reachable[Normalize(n.Path)] = true
		return true
	})

	if len(reachable) != len(idx) {
		t.Fatalf("index has %d keys, tree has %d reachable paths", len(idx), len(reachable))
	}
	for _, k := range idx.Keys() {
		if !reachable[k] {
			t.Errorf("index key %q not reachable", k)
		}
	}
}
