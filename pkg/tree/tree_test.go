package tree

import (
	"testing"

	"github.com/timkendrick/shunt/pkg/models"
)

func sampleTree() *models.FileNode {
	return &models.FileNode{
		Path: "/Site", Name: "Site", IsDir: true,
		Children: []*models.FileNode{
			{Path: "/Site/A.txt", Name: "A.txt"},
			{Path: "/Site/dir", Name: "dir", IsDir: true, Children: []*models.FileNode{
				{Path: "/Site/dir/b.txt", Name: "b.txt"},
			}},
		},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Key
	}{
		{"/", "/"},
		{"", "/"},
		{"/Site/Index.HTML", "/site/index.html"},
		{"site/a", "/site/a"},
		{"/site/dir/", "/site/dir"},
		{"//", "/"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeyParent(t *testing.T) {
	tests := []struct {
		key, want Key
	}{
		{"/site/a/b.txt", "/site/a"},
		{"/site", "/"},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := tt.key.Parent(); got != tt.want {
			t.Errorf("%q.Parent() = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestKeyContains(t *testing.T) {
	tests := []struct {
		k, other Key
		want     bool
	}{
		{"/site", "/site", true},
		{"/site", "/site/a", true},
		{"/site", "/sites", false},
		{"/", "/anything", true},
		{"/site/a", "/site", false},
	}
	for _, tt := range tests {
		if got := tt.k.Contains(tt.other); got != tt.want {
			t.Errorf("%q.Contains(%q) = %v, want %v", tt.k, tt.other, got, tt.want)
		}
	}
	if !Normalize("/A").Equal(Normalize("/a")) {
		t.Error("Equal should ignore case")
	}
	if !Key("/a").Less("/b") {
		t.Error("Less ordering wrong")
	}
}

func TestFindByPath(t *testing.T) {
	root := sampleTree()

	tests := []struct {
		path  string
		found bool
	}{
		{"/Site", true},
		{"/site/a.txt", true},
		{"/SITE/DIR", true},
		{"/Site/dir/b.txt", true},
		{"/Site/nonexistent", false},
		{"/elsewhere", false},
	}
	for _, tt := range tests {
		node := FindByPath(root, tt.path)
		if (node != nil) != tt.found {
			t.Errorf("FindByPath(%q) found=%v, want %v", tt.path, node != nil, tt.found)
		}
		if node != nil && Normalize(node.Path) != Normalize(tt.path) {
			t.Errorf("FindByPath(%q).Path = %q", tt.path, node.Path)
		}
	}

	if FindByPath(nil, "/") != nil {
		t.Error("FindByPath(nil, /) should return nil")
	}
}

func TestCountNodes(t *testing.T) {
	if got := CountNodes(sampleTree()); got != 4 {
		t.Errorf("CountNodes = %d, want 4", got)
	}
	if got := CountNodes(nil); got != 0 {
		t.Errorf("CountNodes(nil) = %d, want 0", got)
	}
}

func TestRemoveChild(t *testing.T) {
	parent := &models.FileNode{
		Path: "/", IsDir: true,
		Children: []*models.FileNode{
			{Name: "a", Path: "/a"},
			{Name: "B", Path: "/B"},
			{Name: "c", Path: "/c"},
		},
	}

	removed := RemoveChild(parent, Normalize("/b"))
	if len(removed) != 1 || removed[0].Name != "B" {
		t.Errorf("removed = %v", removed)
	}
	if len(parent.Children) != 2 {
		t.Errorf("got %d children, want 2", len(parent.Children))
	}
	if parent.Children[0].Name != "a" || parent.Children[1].Name != "c" {
		t.Error("unexpected children after remove")
	}

	// Remove nonexistent: no-op
	RemoveChild(parent, "/z")
	if len(parent.Children) != 2 {
		t.Errorf("remove nonexistent changed count: %d", len(parent.Children))
	}
}

func TestBuildChildPath(t *testing.T) {
	tests := []struct {
		parent, name, want string
	}{
		{"/", "file.txt", "/file.txt"},
		{"/dir", "file.txt", "/dir/file.txt"},
		{"/a/b", "c", "/a/b/c"},
	}
	for _, tt := range tests {
		got := BuildChildPath(tt.parent, tt.name)
		if got != tt.want {
			t.Errorf("BuildChildPath(%q, %q) = %q, want %q", tt.parent, tt.name, got, tt.want)
		}
	}
}

func TestBase(t *testing.T) {
	if got := Base("/Site/Dir/Page.html"); got != "Page.html" {
		t.Errorf("Base = %q", got)
	}
	if got := Base("/Site/Dir/"); got != "Dir" {
		t.Errorf("Base with trailing slash = %q", got)
	}
}
