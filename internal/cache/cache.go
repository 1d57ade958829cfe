// Package cache keeps path-keyed directory listings of the remote drive.
//
// The remote API can only list children by parent fid, so resolving an
// arbitrary path requires descending from a known ancestor. Ensure walks the
// tree only along the ancestry of the requested path, re-using whatever
// prefix is already cached, and publishes every directory it traverses.
package cache

import (
	"context"
	"log"
	"path"
	"strings"

	"quark-webdav/internal/drive"
)

// Lister is the part of the drive client the cache needs.
type Lister interface {
	ListAll(ctx context.Context, pdirFid string) ([]drive.File, error)
}

// Store is a TTL + capacity bounded map of path -> listing.
type Store interface {
	Close() error
	Get(path string) ([]drive.File, bool)
	Set(path string, files []drive.File) error
	Delete(path string) error
	Clear() error
}

// DirCache resolves and caches directory listings by absolute path.
type DirCache struct {
	store Store
	drive Lister
}

func New(store Store, drive Lister) *DirCache {
	return &DirCache{store: store, drive: drive}
}

func (c *DirCache) Close() error {
	return c.store.Close()
}

// Lookup returns the cached listing for path, if any.
func (c *DirCache) Lookup(p string) ([]drive.File, bool) {
	return c.store.Get(Canonical(p))
}

// Ensure returns the listing for path, populating the cache by targeted
// descent on a miss. It returns false when the path does not resolve to a
// directory upstream or when the remote fails before the target is reached;
// partial progress already published stays either way.
func (c *DirCache) Ensure(ctx context.Context, p string) ([]drive.File, bool) {
	target := Canonical(p)
	if files, ok := c.store.Get(target); ok {
		return files, true
	}

	seed := drive.RootFile()
	seedPath := "/"
	if target != "/" {
		// Walk ancestors toward root; the nearest cached one is the
		// descent base, the synthetic root otherwise.
		for ancestor := parentPath(target); ; ancestor = parentPath(ancestor) {
			files, ok := c.store.Get(ancestor)
			if ok {
				name := nextSegment(ancestor, target)
				child, found := findChild(files, name)
				if !found || !child.IsDir {
					return nil, false
				}
				seed = child
				seedPath = joinPath(ancestor, name)
				break
			}
			if ancestor == "/" {
				break
			}
		}
	}

	c.dfs(ctx, seed, target, seedPath)
	return c.store.Get(target)
}

// dfs lists dir (published under dirPath), then recurses into the child that
// is the next segment of target. Recursion depth is bounded by the segment
// count of target.
func (c *DirCache) dfs(ctx context.Context, dir drive.File, target, dirPath string) {
	if !dir.IsDir {
		return
	}

	files, err := c.drive.ListAll(ctx, dir.Fid)
	if err != nil {
		log.Printf("Cache: listing %s failed: %v", dirPath, err)
		return
	}
	for i := range files {
		files[i].ParentPath = dirPath
	}
	if err := c.store.Set(dirPath, files); err != nil {
		log.Printf("Cache: storing %s failed: %v", dirPath, err)
	}

	if dirPath == target {
		return
	}
	name := nextSegment(dirPath, target)
	child, found := findChild(files, name)
	if !found {
		// The published listing is still correct; the caller observes a
		// miss on the target.
		return
	}
	c.dfs(ctx, child, target, joinPath(dirPath, name))
}

// Invalidate drops the cached listing of path.
func (c *DirCache) Invalidate(p string) {
	if err := c.store.Delete(Canonical(p)); err != nil {
		log.Printf("Cache: invalidating %s failed: %v", p, err)
	}
}

// InvalidateParent drops the cached listing of path's parent. Every
// mutation of a path must call this before reporting success.
func (c *DirCache) InvalidateParent(p string) {
	c.Invalidate(parentPath(Canonical(p)))
}

// InvalidateAll empties the cache.
func (c *DirCache) InvalidateAll() {
	if err := c.store.Clear(); err != nil {
		log.Printf("Cache: invalidating all failed: %v", err)
	}
}

// Canonical normalizes a path to the cache key form: absolute, forward
// slashes, no trailing slash except for the root itself.
func Canonical(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func parentPath(p string) string {
	return path.Dir(p)
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// nextSegment returns the first path segment of target below prefix.
func nextSegment(prefix, target string) string {
	rest := strings.TrimPrefix(target, prefix)
	rest = strings.TrimPrefix(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func findChild(files []drive.File, name string) (drive.File, bool) {
	for _, f := range files {
		if f.FileName == name {
			return f, true
		}
	}
	return drive.File{}, false
}
