// Package davfs adapts the drive client and the directory cache to the
// webdav.FileSystem interface. All resolution is path based: a record is
// always found by listing its parent directory through the cache, never by a
// direct remote lookup, because the remote API has no path endpoint.
package davfs

import (
	"context"
	"io"
	"os"
	"path"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/net/webdav"

	"quark-webdav/internal/cache"
	"quark-webdav/internal/drive"
)

// Drive is the part of the drive client the filesystem needs beyond
// directory listing (which goes through the cache).
type Drive interface {
	DownloadURL(ctx context.Context, fid string) (string, error)
	OpenDownload(ctx context.Context, url string, offset, length int64) (io.ReadCloser, error)
	Rename(ctx context.Context, fid, name string) error
	Move(ctx context.Context, fid, toPdirFid string) error
	Delete(ctx context.Context, fid string) error
	CreateFolder(ctx context.Context, pdirFid, name string) (string, error)
}

// Resolved download URLs are short-lived upstream; keep them briefly and
// re-resolve on CDN rejection.
const urlCacheTTL = 5 * time.Minute

// FileSystem is a read-mostly webdav.FileSystem over the remote drive.
// Writes of file content are not supported; directory mutations are.
type FileSystem struct {
	drive Drive
	cache *cache.DirCache
	root  string
	urls  *gocache.Cache
}

var _ webdav.FileSystem = (*FileSystem)(nil)

// New creates a filesystem rooted at the given remote path. A root of "/"
// maps the remote top directly.
func New(drv Drive, dirCache *cache.DirCache, root string) *FileSystem {
	return &FileSystem{
		drive: drv,
		cache: dirCache,
		root:  cache.Canonical(root),
		urls:  gocache.New(urlCacheTTL, 10*time.Minute),
	}
}

// MapPath converts a decoded request path into the filesystem path under
// the configured root.
func (f *FileSystem) MapPath(p string) string {
	p = cache.Canonical(p)
	if f.root == "/" {
		return p
	}
	if p == "/" {
		return f.root
	}
	return f.root + p
}

// resolveRecord finds the record for fsPath by listing its parent. The
// synthetic root is only ever returned for the drive top itself.
func (f *FileSystem) resolveRecord(ctx context.Context, fsPath string) (drive.File, error) {
	if fsPath == "/" {
		return drive.RootFile(), nil
	}
	files, ok := f.cache.Ensure(ctx, path.Dir(fsPath))
	if !ok {
		return drive.File{}, os.ErrNotExist
	}
	name := path.Base(fsPath)
	for _, file := range files {
		if file.FileName == name {
			return file, nil
		}
	}
	return drive.File{}, os.ErrNotExist
}

func (f *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	rec, err := f.resolveRecord(ctx, f.MapPath(name))
	if err != nil {
		return nil, err
	}
	return newFileInfo(rec), nil
}

func (f *FileSystem) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, os.ErrPermission
	}

	fsPath := f.MapPath(name)
	rec, err := f.resolveRecord(ctx, fsPath)
	if err != nil {
		return nil, err
	}
	if rec.IsDir {
		return &dirHandle{fs: f, ctx: ctx, fsPath: fsPath, rec: rec}, nil
	}
	return &fileHandle{fs: f, ctx: ctx, rec: rec}, nil
}

func (f *FileSystem) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	fsPath := f.MapPath(name)
	if fsPath == "/" {
		return os.ErrExist
	}
	parent, err := f.resolveRecord(ctx, path.Dir(fsPath))
	if err != nil {
		return err
	}
	if !parent.IsDir {
		return os.ErrInvalid
	}
	if _, err := f.drive.CreateFolder(ctx, parent.Fid, path.Base(fsPath)); err != nil {
		return err
	}
	f.cache.InvalidateParent(fsPath)
	return nil
}

func (f *FileSystem) RemoveAll(ctx context.Context, name string) error {
	fsPath := f.MapPath(name)
	if fsPath == "/" {
		return os.ErrPermission
	}
	rec, err := f.resolveRecord(ctx, fsPath)
	if err != nil {
		return err
	}
	if err := f.drive.Delete(ctx, rec.Fid); err != nil {
		return err
	}
	f.urls.Delete(rec.Fid)
	f.cache.InvalidateParent(fsPath)
	return nil
}

func (f *FileSystem) Rename(ctx context.Context, oldName, newName string) error {
	oldPath := f.MapPath(oldName)
	newPath := f.MapPath(newName)
	if oldPath == "/" || newPath == "/" {
		return os.ErrPermission
	}
	if oldPath == newPath {
		return nil
	}

	rec, err := f.resolveRecord(ctx, oldPath)
	if err != nil {
		return err
	}

	oldParent := path.Dir(oldPath)
	newParent := path.Dir(newPath)
	newBase := path.Base(newPath)

	if oldParent == newParent {
		if err := f.drive.Rename(ctx, rec.Fid, newBase); err != nil {
			return err
		}
	} else {
		parentRec, err := f.resolveRecord(ctx, newParent)
		if err != nil {
			return err
		}
		if !parentRec.IsDir {
			return os.ErrInvalid
		}
		if err := f.drive.Move(ctx, rec.Fid, parentRec.Fid); err != nil {
			return err
		}
		if newBase != path.Base(oldPath) {
			if err := f.drive.Rename(ctx, rec.Fid, newBase); err != nil {
				return err
			}
		}
	}

	f.cache.InvalidateParent(oldPath)
	f.cache.InvalidateParent(newPath)
	return nil
}

// downloadURL returns a fresh-enough download URL for fid, resolving and
// caching it on a miss.
func (f *FileSystem) downloadURL(ctx context.Context, fid string) (string, error) {
	if cached, ok := f.urls.Get(fid); ok {
		return cached.(string), nil
	}
	resolved, err := f.drive.DownloadURL(ctx, fid)
	if err != nil {
		return "", err
	}
	f.urls.Set(fid, resolved, gocache.DefaultExpiration)
	return resolved, nil
}

func (f *FileSystem) forgetURL(fid string) {
	f.urls.Delete(fid)
}
