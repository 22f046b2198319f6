package tree

import "strings"

// Key is a normalized, case-folded absolute path. Two paths name the same
// entry exactly when their Keys are equal.
type Key string

// Root is the Key of "/".
const Root Key = "/"

// Normalize folds a remote path into its Key: a leading slash is ensured,
// trailing slashes are dropped and the result is lowercased.
func Normalize(path string) Key {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return Key(strings.ToLower(path))
}

// Parent returns the Key of the containing directory: the text before the
// final separator, "/" for top-level entries, and "" for the root itself.
func (k Key) Parent() Key {
	if k == Root || k == "" {
		return ""
	}
	i := strings.LastIndex(string(k), "/")
	if i <= 0 {
		return Root
	}
	return k[:i]
}

// Equal reports whether k and other name the same entry.
func (k Key) Equal(other Key) bool {
	return k == other
}

// Less orders Keys by their normalized byte form.
func (k Key) Less(other Key) bool {
	return k < other
}

// Contains reports whether other is k or lies below it.
func (k Key) Contains(other Key) bool {
	if k == other || k == Root {
		return true
	}
	return strings.HasPrefix(string(other), string(k)+"/")
}

// Base returns the last path segment as given, keeping its casing.
func Base(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	if parentPath == "/" || parentPath == "" {
		return "/" + name
	}
	return parentPath + "/" + name
}
