package davfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"quark-webdav/internal/drive"
)

// fileHandle streams remote file content. A body stream is opened lazily at
// the current position and re-opened after seeks; when the CDN rejects a
// cached download URL the URL is re-resolved once.
type fileHandle struct {
	fs  *FileSystem
	ctx context.Context
	rec drive.File

	pos     int64
	body    io.ReadCloser
	bodyPos int64
}

func (f *fileHandle) Read(p []byte) (int, error) {
	if f.pos >= f.rec.Size {
		return 0, io.EOF
	}
	if f.body == nil || f.bodyPos != f.pos {
		if err := f.reopen(); err != nil {
			return 0, err
		}
	}
	n, err := f.body.Read(p)
	f.pos += int64(n)
	f.bodyPos = f.pos
	return n, err
}

func (f *fileHandle) reopen() error {
	f.closeBody()

	body, err := f.open()
	if err != nil {
		// the resolved URL may have expired; re-resolve once
		var statusErr *drive.StatusError
		if !errors.As(err, &statusErr) {
			return err
		}
		f.fs.forgetURL(f.rec.Fid)
		body, err = f.open()
		if err != nil {
			return err
		}
	}
	f.body = body
	f.bodyPos = f.pos
	return nil
}

func (f *fileHandle) open() (io.ReadCloser, error) {
	url, err := f.fs.downloadURL(f.ctx, f.rec.Fid)
	if err != nil {
		return nil, err
	}
	return f.fs.drive.OpenDownload(f.ctx, url, f.pos, -1)
}

func (f *fileHandle) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.rec.Size + offset
	default:
		return 0, os.ErrInvalid
	}
	if pos < 0 {
		return 0, os.ErrInvalid
	}
	if pos != f.bodyPos {
		f.closeBody()
	}
	f.pos = pos
	return pos, nil
}

func (f *fileHandle) Write(p []byte) (int, error) {
	return 0, os.ErrPermission
}

func (f *fileHandle) Readdir(count int) ([]os.FileInfo, error) {
	return nil, os.ErrInvalid
}

func (f *fileHandle) Stat() (os.FileInfo, error) {
	return newFileInfo(f.rec), nil
}

func (f *fileHandle) Close() error {
	f.closeBody()
	return nil
}

func (f *fileHandle) closeBody() {
	if f.body != nil {
		f.body.Close()
		f.body = nil
	}
}

// dirHandle serves directory listings from the cache.
type dirHandle struct {
	fs     *FileSystem
	ctx    context.Context
	fsPath string
	rec    drive.File

	children []os.FileInfo
	loaded   bool
	pos      int
}

func (d *dirHandle) load() error {
	if d.loaded {
		return nil
	}
	files, ok := d.fs.cache.Ensure(d.ctx, d.fsPath)
	if !ok {
		return fmt.Errorf("failed to list %s", d.fsPath)
	}
	d.children = make([]os.FileInfo, 0, len(files))
	for _, file := range files {
		d.children = append(d.children, newFileInfo(file))
	}
	d.loaded = true
	return nil
}

func (d *dirHandle) Readdir(count int) ([]os.FileInfo, error) {
	if err := d.load(); err != nil {
		return nil, err
	}
	if d.pos >= len(d.children) {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}
	end := len(d.children)
	if count > 0 && d.pos+count < end {
		end = d.pos + count
	}
	infos := d.children[d.pos:end]
	d.pos = end
	return infos, nil
}

func (d *dirHandle) Read(p []byte) (int, error) {
	return 0, os.ErrInvalid
}

func (d *dirHandle) Seek(offset int64, whence int) (int64, error) {
	return 0, os.ErrInvalid
}

func (d *dirHandle) Write(p []byte) (int, error) {
	return 0, os.ErrPermission
}

func (d *dirHandle) Stat() (os.FileInfo, error) {
	return newFileInfo(d.rec), nil
}

func (d *dirHandle) Close() error {
	return nil
}

// fileInfo is the os.FileInfo view of a drive record.
type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

func newFileInfo(rec drive.File) *fileInfo {
	name := rec.FileName
	if name == "" {
		name = "/"
	}
	size := rec.Size
	if rec.IsDir {
		size = 0
	}
	return &fileInfo{
		name:    name,
		size:    size,
		modTime: rec.ModTime(),
		isDir:   rec.IsDir,
	}
}

func (fi *fileInfo) Name() string { return fi.name }
func (fi *fileInfo) Size() int64  { return fi.size }
func (fi *fileInfo) Mode() os.FileMode {
	if fi.isDir {
		return os.ModeDir | 0555
	}
	return 0444
}
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.isDir }
func (fi *fileInfo) Sys() any           { return nil }
