package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studio-b12/gowebdav"

	"quark-webdav/internal/cache"
	"quark-webdav/internal/davfs"
	"quark-webdav/internal/drive"
	"quark-webdav/internal/tests"
)

func newTestServer(t *testing.T, config Config) (*tests.FakeDriveServer, *httptest.Server) {
	fake := tests.NewFakeDriveServer()
	t.Cleanup(fake.Close)

	client, err := drive.NewClient(drive.Config{APIBaseURL: fake.URL(), Cookie: "test-cookie"})
	require.NoError(t, err)

	store, err := cache.NewMemoryStore(100, time.Minute)
	require.NoError(t, err)
	dirCache := cache.New(store, client)
	t.Cleanup(func() { dirCache.Close() })

	fs := davfs.New(client, dirCache, "/")
	srv := httptest.NewServer(NewHandler(fs, dirCache, client.Quota, config))
	t.Cleanup(srv.Close)

	return fake, srv
}

func TestAuthRequired(t *testing.T) {
	fake, srv := newTestServer(t, Config{AuthUser: "alice", AuthPassword: "secret"})
	fake.AddFile("0", "a.txt", []byte("x"))

	t.Run("no credentials", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, `Basic realm="quarkdrive-webdav"`, resp.Header.Get("WWW-Authenticate"))
	})

	t.Run("wrong password", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
		req.SetBasicAuth("alice", "wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid credentials", func(t *testing.T) {
		client := gowebdav.NewClient(srv.URL, "alice", "secret")
		entries, err := client.ReadDir("/")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestBrowserDirectoryIndex(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	docsFid := fake.AddDir("0", "docs")
	fake.AddFile(docsFid, "report & notes.txt", []byte("hello"))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/docs", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "report &amp; notes.txt")
	assert.Contains(t, string(body), "<!DOCTYPE html>")
}

func TestBrowserGetOfFileStreamsContent(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	fake.AddFile("0", "hello.txt", []byte("hello world"))

	// a browser click on a file link still goes through WebDAV
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/hello.txt", nil)
	req.Header.Set("Accept", "text/html")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

func TestWebDAVListing(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	docsFid := fake.AddDir("0", "docs")
	fake.AddFile(docsFid, "a.txt", []byte("aaa"))
	fake.AddFile(docsFid, "b.txt", []byte("bbbb"))

	client := gowebdav.NewClient(srv.URL, "", "")

	entries, err := client.ReadDir("/docs")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	info, err := client.Stat("/docs/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
	assert.False(t, info.IsDir())

	info, err = client.Stat("/docs")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWebDAVRead(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	fake.AddFile("0", "hello.txt", []byte("hello world"))

	client := gowebdav.NewClient(srv.URL, "", "")

	data, err := client.Read("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestRangedGet(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	fake.AddFile("0", "hello.txt", []byte("hello world"))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/hello.txt", nil)
	req.Header.Set("Range", "bytes=6-10")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "world", string(body))
}

func TestWebDAVMkdirAndRemove(t *testing.T) {
	_, srv := newTestServer(t, Config{})
	client := gowebdav.NewClient(srv.URL, "", "")

	require.NoError(t, client.Mkdir("/newdir", 0755))

	info, err := client.Stat("/newdir")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, client.Remove("/newdir"))

	_, err = client.Stat("/newdir")
	assert.Error(t, err)
}

func TestWebDAVRename(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	fake.AddFile("0", "old.txt", []byte("x"))

	client := gowebdav.NewClient(srv.URL, "", "")

	require.NoError(t, client.Rename("/old.txt", "/new.txt", false))

	entries, err := client.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new.txt", entries[0].Name())
}

func TestWebDAVPutRejected(t *testing.T) {
	_, srv := newTestServer(t, Config{})
	client := gowebdav.NewClient(srv.URL, "", "")

	err := client.Write("/upload.txt", []byte("data"), 0644)
	assert.Error(t, err)
}

func TestQuotaEndpoint(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	fake.SetQuota(5<<30, 50<<30)

	resp, err := http.Get(srv.URL + "/-/quota")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var quota struct {
		Used      int64  `json:"used"`
		Total     int64  `json:"total"`
		UsedText  string `json:"used_text"`
		TotalText string `json:"total_text"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&quota))
	assert.Equal(t, int64(5<<30), quota.Used)
	assert.Equal(t, int64(50<<30), quota.Total)
	assert.Equal(t, "5.0 GB", quota.UsedText)
}

func TestStripPrefix(t *testing.T) {
	fake, srv := newTestServer(t, Config{StripPrefix: "/dav"})
	fake.AddFile("0", "a.txt", []byte("x"))

	client := gowebdav.NewClient(srv.URL+"/dav", "", "")

	entries, err := client.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name())

	t.Run("browser index under prefix", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/dav/", nil)
		req.Header.Set("Accept", "text/html")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "a.txt")
	})
}

func TestManyFilesListing(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	docsFid := fake.AddDir("0", "docs")
	for i := 0; i < 750; i++ {
		fake.AddFile(docsFid, fmt.Sprintf("file-%04d.txt", i), []byte("x"))
	}

	client := gowebdav.NewClient(srv.URL, "", "")

	entries, err := client.ReadDir("/docs")
	require.NoError(t, err)
	assert.Len(t, entries, 750)

	// two pages of 500 were fetched upstream
	assert.Equal(t, 2, fake.ListCalls(docsFid))
}
