package davfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quark-webdav/internal/cache"
	"quark-webdav/internal/drive"
)

// fakeDrive is an in-memory fid tree implementing both the cache Lister and
// the davfs Drive interface, with URL-expiry injection for streaming tests.
type fakeDrive struct {
	mu    sync.Mutex
	nodes map[string]*fakeNode

	nextURL      int
	urlToFid     map[string]string
	expiredURLs  map[string]bool
	resolveCalls int
}

type fakeNode struct {
	fid     string
	name    string
	pdirFid string
	isDir   bool
	content []byte
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		nodes:       map[string]*fakeNode{},
		urlToFid:    map[string]string{},
		expiredURLs: map[string]bool{},
	}
}

func (d *fakeDrive) addDir(pdirFid, name string) string {
	return d.add(pdirFid, name, true, nil)
}

func (d *fakeDrive) addFile(pdirFid, name string, content []byte) string {
	return d.add(pdirFid, name, false, content)
}

func (d *fakeDrive) add(pdirFid, name string, isDir bool, content []byte) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	fid := fmt.Sprintf("fid%d", len(d.nodes)+1)
	d.nodes[fid] = &fakeNode{fid: fid, name: name, pdirFid: pdirFid, isDir: isDir, content: content}
	return fid
}

func (d *fakeDrive) ListAll(ctx context.Context, pdirFid string) ([]drive.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var files []drive.File
	for _, node := range d.nodes {
		if node.pdirFid != pdirFid {
			continue
		}
		files = append(files, drive.File{
			Fid:       node.fid,
			FileName:  node.name,
			PdirFid:   node.pdirFid,
			Size:      int64(len(node.content)),
			IsDir:     node.isDir,
			IsFile:    !node.isDir,
			Status:    1,
			UpdatedAt: time.Now().UnixMilli(),
		})
	}
	return files, nil
}

func (d *fakeDrive) DownloadURL(ctx context.Context, fid string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.nodes[fid]; !ok {
		return "", &drive.APIError{Code: 31001, Message: "file not found"}
	}
	d.resolveCalls++
	d.nextURL++
	url := fmt.Sprintf("url-%d", d.nextURL)
	d.urlToFid[url] = fid
	return url, nil
}

func (d *fakeDrive) OpenDownload(ctx context.Context, url string, offset, length int64) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.expiredURLs[url] {
		return nil, &drive.StatusError{StatusCode: 403, Body: "expired"}
	}
	fid, ok := d.urlToFid[url]
	if !ok {
		return nil, &drive.StatusError{StatusCode: 404, Body: "unknown url"}
	}
	content := d.nodes[fid].content
	if offset > int64(len(content)) {
		offset = int64(len(content))
	}
	content = content[offset:]
	if length >= 0 && length < int64(len(content)) {
		content = content[:length]
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (d *fakeDrive) expireAllURLs() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for url := range d.urlToFid {
		d.expiredURLs[url] = true
	}
}

func (d *fakeDrive) Rename(ctx context.Context, fid, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, ok := d.nodes[fid]
	if !ok {
		return &drive.APIError{Code: 31001, Message: "file not found"}
	}
	node.name = name
	return nil
}

func (d *fakeDrive) Move(ctx context.Context, fid, toPdirFid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, ok := d.nodes[fid]
	if !ok {
		return &drive.APIError{Code: 31001, Message: "file not found"}
	}
	node.pdirFid = toPdirFid
	return nil
}

func (d *fakeDrive) Delete(ctx context.Context, fid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.nodes[fid]; !ok {
		return &drive.APIError{Code: 31001, Message: "file not found"}
	}
	delete(d.nodes, fid)
	return nil
}

func (d *fakeDrive) CreateFolder(ctx context.Context, pdirFid, name string) (string, error) {
	d.mu.Lock()
	for _, node := range d.nodes {
		if node.pdirFid == pdirFid && node.name == name {
			d.mu.Unlock()
			return "", &drive.APIError{Code: 23008, Message: "file name exists"}
		}
	}
	d.mu.Unlock()
	return d.add(pdirFid, name, true, nil), nil
}

func newTestFS(t *testing.T, drv *fakeDrive, root string) *FileSystem {
	store, err := cache.NewMemoryStore(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(drv, cache.New(store, drv), root)
}

func TestStat(t *testing.T) {
	drv := newFakeDrive()
	docsFid := drv.addDir("0", "docs")
	drv.addFile(docsFid, "notes.txt", []byte("hello"))
	fs := newTestFS(t, drv, "/")
	ctx := context.Background()

	info, err := fs.Stat(ctx, "/docs")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "docs", info.Name())

	info, err = fs.Stat(ctx, "/docs/notes.txt")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	assert.Equal(t, int64(5), info.Size())

	_, err = fs.Stat(ctx, "/nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatRoot(t *testing.T) {
	drv := newFakeDrive()
	fs := newTestFS(t, drv, "/")

	info, err := fs.Stat(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMapPathWithRoot(t *testing.T) {
	drv := newFakeDrive()
	fs := newTestFS(t, drv, "/movies")

	assert.Equal(t, "/movies", fs.MapPath("/"))
	assert.Equal(t, "/movies/a", fs.MapPath("/a"))
	assert.Equal(t, "/movies/a/b", fs.MapPath("/a/b"))
}

func TestRootedFilesystem(t *testing.T) {
	drv := newFakeDrive()
	moviesFid := drv.addDir("0", "movies")
	drv.addFile(moviesFid, "a.mkv", []byte("xx"))
	fs := newTestFS(t, drv, "/movies")

	info, err := fs.Stat(context.Background(), "/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, "a.mkv", info.Name())
}

func TestOpenFileRejectsWrites(t *testing.T) {
	drv := newFakeDrive()
	drv.addFile("0", "a.txt", []byte("x"))
	fs := newTestFS(t, drv, "/")

	for _, flag := range []int{os.O_WRONLY, os.O_RDWR, os.O_CREATE, os.O_APPEND, os.O_TRUNC} {
		_, err := fs.OpenFile(context.Background(), "/a.txt", flag, 0)
		assert.ErrorIs(t, err, os.ErrPermission, "flag %d", flag)
	}
}

func TestReadFile(t *testing.T) {
	drv := newFakeDrive()
	drv.addFile("0", "hello.txt", []byte("hello world"))
	fs := newTestFS(t, drv, "/")

	file, err := fs.OpenFile(context.Background(), "/hello.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer file.Close()

	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestSeekAndRead(t *testing.T) {
	drv := newFakeDrive()
	drv.addFile("0", "hello.txt", []byte("hello world"))
	fs := newTestFS(t, drv, "/")

	file, err := fs.OpenFile(context.Background(), "/hello.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer file.Close()

	pos, err := file.Seek(6, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	pos, err = file.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	data, err = io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))
}

func TestReadReresolvesExpiredURL(t *testing.T) {
	drv := newFakeDrive()
	drv.addFile("0", "hello.txt", []byte("hello world"))
	fs := newTestFS(t, drv, "/")
	ctx := context.Background()

	file, err := fs.OpenFile(ctx, "/hello.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	file.Close()

	// the cached URL no longer works; the next open must resolve a new one
	drv.expireAllURLs()

	file, err = fs.OpenFile(ctx, "/hello.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer file.Close()

	data, err = io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, 2, drv.resolveCalls)
}

func TestReaddir(t *testing.T) {
	drv := newFakeDrive()
	docsFid := drv.addDir("0", "docs")
	drv.addFile(docsFid, "a.txt", []byte("a"))
	drv.addFile(docsFid, "b.txt", []byte("b"))
	fs := newTestFS(t, drv, "/")

	dir, err := fs.OpenFile(context.Background(), "/docs", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer dir.Close()

	infos, err := dir.Readdir(-1)
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	// exhausted with a positive count reports EOF
	_, err = dir.Readdir(1)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaddirCounted(t *testing.T) {
	drv := newFakeDrive()
	docsFid := drv.addDir("0", "docs")
	for i := 0; i < 5; i++ {
		drv.addFile(docsFid, fmt.Sprintf("f%d.txt", i), []byte("x"))
	}
	fs := newTestFS(t, drv, "/")

	dir, err := fs.OpenFile(context.Background(), "/docs", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer dir.Close()

	first, err := dir.Readdir(3)
	require.NoError(t, err)
	assert.Len(t, first, 3)

	rest, err := dir.Readdir(3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestMkdir(t *testing.T) {
	drv := newFakeDrive()
	fs := newTestFS(t, drv, "/")
	ctx := context.Background()

	// prime the root listing so the test observes the invalidation
	dir, err := fs.OpenFile(ctx, "/", os.O_RDONLY, 0)
	require.NoError(t, err)
	_, err = dir.Readdir(-1)
	require.NoError(t, err)
	dir.Close()

	require.NoError(t, fs.Mkdir(ctx, "/newdir", 0755))

	info, err := fs.Stat(ctx, "/newdir")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRemoveAll(t *testing.T) {
	drv := newFakeDrive()
	drv.addFile("0", "a.txt", []byte("x"))
	fs := newTestFS(t, drv, "/")
	ctx := context.Background()

	_, err := fs.Stat(ctx, "/a.txt")
	require.NoError(t, err)

	require.NoError(t, fs.RemoveAll(ctx, "/a.txt"))

	_, err = fs.Stat(ctx, "/a.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemoveRootRejected(t *testing.T) {
	drv := newFakeDrive()
	fs := newTestFS(t, drv, "/")

	assert.ErrorIs(t, fs.RemoveAll(context.Background(), "/"), os.ErrPermission)
}

func TestRenameSameParent(t *testing.T) {
	drv := newFakeDrive()
	fid := drv.addFile("0", "a.txt", []byte("x"))
	fs := newTestFS(t, drv, "/")
	ctx := context.Background()

	require.NoError(t, fs.Rename(ctx, "/a.txt", "/b.txt"))

	assert.Equal(t, "b.txt", drv.nodes[fid].name)
	assert.Equal(t, "0", drv.nodes[fid].pdirFid)

	_, err := fs.Stat(ctx, "/b.txt")
	require.NoError(t, err)
	_, err = fs.Stat(ctx, "/a.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRenameAcrossParents(t *testing.T) {
	drv := newFakeDrive()
	archiveFid := drv.addDir("0", "archive")
	fid := drv.addFile("0", "a.txt", []byte("x"))
	fs := newTestFS(t, drv, "/")
	ctx := context.Background()

	require.NoError(t, fs.Rename(ctx, "/a.txt", "/archive/b.txt"))

	assert.Equal(t, "b.txt", drv.nodes[fid].name)
	assert.Equal(t, archiveFid, drv.nodes[fid].pdirFid)

	_, err := fs.Stat(ctx, "/archive/b.txt")
	require.NoError(t, err)
}

func TestRenameNoop(t *testing.T) {
	drv := newFakeDrive()
	drv.addFile("0", "a.txt", []byte("x"))
	fs := newTestFS(t, drv, "/")

	require.NoError(t, fs.Rename(context.Background(), "/a.txt", "/a.txt"))
}
