package models

import (
	"fmt"
	"strings"
	"time"
)

// AppKey identifies one app tree: one user's one application or site.
type AppKey struct {
	User string `json:"user"`
	App  string `json:"app"`
}

// String returns "user/app".
func (k AppKey) String() string {
	return k.User + "/" + k.App
}

// Validate rejects keys that cannot name a single path segment each.
func (k AppKey) Validate() error {
	for _, part := range []string{k.User, k.App} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("invalid app key %q: want user/app", k.String())
		}
	}
	return nil
}

// ParseAppKey parses "user/app".
func ParseAppKey(s string) (AppKey, error) {
	user, app, ok := strings.Cut(s, "/")
	if !ok {
		return AppKey{}, fmt.Errorf("invalid app key %q: want user/app", s)
	}
	k := AppKey{User: user, App: app}
	if err := k.Validate(); err != nil {
		return AppKey{}, err
	}
	return k, nil
}

// ChangeRecord is one add, update or remove event for a single path.
type ChangeRecord struct {
	Path    string    `json:"path"`
	Removed bool      `json:"removed"`
	Entry   *FileNode `json:"entry,omitempty"`
}

// SyncRecord is the persisted unit for one app tree.
type SyncRecord struct {
	// Root is nil while the tree is not known locally.
	Root *FileNode `json:"root"`
	// Cursor is the remote resumption token; empty means start from scratch.
	Cursor string `json:"cursor,omitempty"`
	// UpdatedAt is zero until a sync has completed once.
	UpdatedAt time.Time `json:"updated_at"`
}

// Synced reports whether a sync has completed at least once.
func (r *SyncRecord) Synced() bool {
	return r != nil && !r.UpdatedAt.IsZero()
}

// Fresh reports whether the record can be served without asking the remote.
// A record without a root is never fresh.
func (r *SyncRecord) Fresh(now time.Time, ttl time.Duration) bool {
	if r == nil || r.Root == nil || r.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(r.UpdatedAt) < ttl
}

// Clone returns a deep copy of the record.
func (r *SyncRecord) Clone() *SyncRecord {
	if r == nil {
		return nil
	}
	return &SyncRecord{
		Root:      r.Root.Clone(),
		Cursor:    r.Cursor,
		UpdatedAt: r.UpdatedAt,
	}
}
