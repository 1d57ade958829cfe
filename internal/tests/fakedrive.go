package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FakeDriveServer emulates the remote drive HTTP API for tests: a fid-keyed
// file tree behind the paginated listing endpoint, the download-URL
// resolver, the mutation endpoints and a content endpoint honoring Range.
type FakeDriveServer struct {
	mu      sync.RWMutex
	nodes   map[string]*fakeNode
	nextFid int
	quota   [2]int64 // used, total

	calls     map[string]int
	listCalls map[string]int
	failures  map[string][]int

	server *httptest.Server
}

type fakeNode struct {
	fid       string
	name      string
	pdirFid   string
	isDir     bool
	content   []byte
	createdAt int64
	updatedAt int64
}

type fakeFileJSON struct {
	Fid        string `json:"fid"`
	FileName   string `json:"file_name"`
	PdirFid    string `json:"pdir_fid"`
	Size       int64  `json:"size"`
	FormatType string `json:"format_type"`
	Status     int    `json:"status"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	IsDir      bool   `json:"dir"`
	IsFile     bool   `json:"file"`
}

func NewFakeDriveServer() *FakeDriveServer {
	f := &FakeDriveServer{
		nodes:     make(map[string]*fakeNode),
		quota:     [2]int64{0, 100 << 30},
		calls:     make(map[string]int),
		listCalls: make(map[string]int),
		failures:  make(map[string][]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handleRequest))
	return f
}

func (f *FakeDriveServer) Close() {
	f.server.Close()
}

func (f *FakeDriveServer) URL() string {
	return f.server.URL
}

// AddDir creates a directory under parentFid ("0" for the root) and returns
// its fid.
func (f *FakeDriveServer) AddDir(parentFid, name string) string {
	return f.add(parentFid, name, true, nil)
}

// AddFile creates a file under parentFid and returns its fid.
func (f *FakeDriveServer) AddFile(parentFid, name string, content []byte) string {
	return f.add(parentFid, name, false, content)
}

func (f *FakeDriveServer) add(parentFid, name string, isDir bool, content []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextFid++
	fid := fmt.Sprintf("fid%04d", f.nextFid)
	now := time.Now().UnixMilli()
	f.nodes[fid] = &fakeNode{
		fid:       fid,
		name:      name,
		pdirFid:   parentFid,
		isDir:     isDir,
		content:   content,
		createdAt: now,
		updatedAt: now,
	}
	return fid
}

// Node returns the current name and parent of a fid, for mutation asserts.
func (f *FakeDriveServer) Node(fid string) (name, pdirFid string, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	node, ok := f.nodes[fid]
	if !ok {
		return "", "", false
	}
	return node.name, node.pdirFid, true
}

func (f *FakeDriveServer) SetQuota(used, total int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota = [2]int64{used, total}
}

// Calls reports how many requests hit an API path.
func (f *FakeDriveServer) Calls(path string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls[path]
}

// ListCalls reports how many listing pages were requested for a pdir fid.
func (f *FakeDriveServer) ListCalls(pdirFid string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.listCalls[pdirFid]
}

// FailNext makes the next n requests to path fail with the given HTTP
// status before the endpoint recovers.
func (f *FakeDriveServer) FailNext(path string, statusCode, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.failures[path] = append(f.failures[path], statusCode)
	}
}

func (f *FakeDriveServer) takeFailure(path string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	queue := f.failures[path]
	if len(queue) == 0 {
		return 0, false
	}
	f.failures[path] = queue[1:]
	return queue[0], true
}

func (f *FakeDriveServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.mu.Unlock()

	if code, ok := f.takeFailure(r.URL.Path); ok {
		http.Error(w, "injected failure", code)
		return
	}

	switch {
	case r.URL.Path == "/1/clouddrive/file/sort":
		f.handleList(w, r)
	case r.URL.Path == "/1/clouddrive/file/download":
		f.handleDownloadURLs(w, r)
	case r.URL.Path == "/1/clouddrive/file/rename":
		f.handleRename(w, r)
	case r.URL.Path == "/1/clouddrive/file/move":
		f.handleMove(w, r)
	case r.URL.Path == "/1/clouddrive/file/delete":
		f.handleDelete(w, r)
	case r.URL.Path == "/1/clouddrive/file":
		f.handleCreateFolder(w, r)
	case r.URL.Path == "/1/clouddrive/member":
		f.handleMember(w, r)
	case strings.HasPrefix(r.URL.Path, "/cdn/"):
		f.handleContent(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (f *FakeDriveServer) handleList(w http.ResponseWriter, r *http.Request) {
	pdirFid := r.URL.Query().Get("pdir_fid")
	page, _ := strconv.Atoi(r.URL.Query().Get("_page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("_size"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}

	f.mu.Lock()
	f.listCalls[pdirFid]++
	f.mu.Unlock()

	f.mu.RLock()
	defer f.mu.RUnlock()

	if pdirFid != "0" {
		node, ok := f.nodes[pdirFid]
		if !ok || !node.isDir {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
	}

	var children []fakeFileJSON
	for _, node := range f.nodes {
		if node.pdirFid != pdirFid {
			continue
		}
		children = append(children, fakeFileJSON{
			Fid:       node.fid,
			FileName:  node.name,
			PdirFid:   node.pdirFid,
			Size:      int64(len(node.content)),
			Status:    1,
			CreatedAt: node.createdAt,
			UpdatedAt: node.updatedAt,
			IsDir:     node.isDir,
			IsFile:    !node.isDir,
		})
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Fid < children[j].Fid
	})

	total := len(children)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	pageItems := children[start:end]

	writeEnvelope(w,
		map[string]any{"list": pageItems},
		map[string]any{"_total": total, "_count": len(pageItems), "_page": page})
}

func (f *FakeDriveServer) handleDownloadURLs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fids []string `json:"fids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, 400, "bad request")
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var items []map[string]any
	for _, fid := range req.Fids {
		if _, ok := f.nodes[fid]; !ok {
			writeAPIError(w, 31001, "file not found")
			return
		}
		items = append(items, map[string]any{
			"fid":          fid,
			"download_url": f.server.URL + "/cdn/" + fid,
		})
	}
	writeEnvelope(w, items, nil)
}

func (f *FakeDriveServer) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fid      string `json:"fid"`
		FileName string `json:"file_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, 400, "bad request")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	node, ok := f.nodes[req.Fid]
	if !ok {
		writeAPIError(w, 31001, "file not found")
		return
	}
	node.name = req.FileName
	node.updatedAt = time.Now().UnixMilli()
	writeEnvelope(w, nil, nil)
}

func (f *FakeDriveServer) handleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filelist  []string `json:"filelist"`
		ToPdirFid string   `json:"to_pdir_fid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, 400, "bad request")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, fid := range req.Filelist {
		node, ok := f.nodes[fid]
		if !ok {
			writeAPIError(w, 31001, "file not found")
			return
		}
		node.pdirFid = req.ToPdirFid
		node.updatedAt = time.Now().UnixMilli()
	}
	writeEnvelope(w, nil, nil)
}

func (f *FakeDriveServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filelist []string `json:"filelist"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, 400, "bad request")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, fid := range req.Filelist {
		if _, ok := f.nodes[fid]; !ok {
			writeAPIError(w, 31001, "file not found")
			return
		}
		f.removeSubtree(fid)
	}
	writeEnvelope(w, nil, nil)
}

func (f *FakeDriveServer) removeSubtree(fid string) {
	for childFid, node := range f.nodes {
		if node.pdirFid == fid {
			f.removeSubtree(childFid)
		}
	}
	delete(f.nodes, fid)
}

func (f *FakeDriveServer) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PdirFid  string `json:"pdir_fid"`
		FileName string `json:"file_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, 400, "bad request")
		return
	}

	f.mu.Lock()
	for _, node := range f.nodes {
		if node.pdirFid == req.PdirFid && node.name == req.FileName {
			f.mu.Unlock()
			writeAPIError(w, 23008, "file name exists")
			return
		}
	}
	f.mu.Unlock()

	fid := f.add(req.PdirFid, req.FileName, true, nil)
	writeEnvelope(w, map[string]any{"finish": true, "fid": fid}, nil)
}

func (f *FakeDriveServer) handleMember(w http.ResponseWriter, r *http.Request) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	writeEnvelope(w, map[string]any{
		"use_capacity":   f.quota[0],
		"total_capacity": f.quota[1],
	}, nil)
}

func (f *FakeDriveServer) handleContent(w http.ResponseWriter, r *http.Request) {
	fid := strings.TrimPrefix(r.URL.Path, "/cdn/")

	f.mu.RLock()
	node, ok := f.nodes[fid]
	f.mu.RUnlock()

	if !ok || node.isDir {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, node.name, time.UnixMilli(node.updatedAt), bytes.NewReader(node.content))
}

func writeEnvelope(w http.ResponseWriter, data, meta any) {
	resp := map[string]any{
		"status":    200,
		"code":      0,
		"message":   "ok",
		"timestamp": time.Now().UnixMilli(),
	}
	if data != nil {
		resp["data"] = data
	}
	if meta != nil {
		resp["metadata"] = meta
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeAPIError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    400,
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
	})
}
