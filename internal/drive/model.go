package drive

import (
	"encoding/json"
	"html"
	"time"
)

// RootFid is the fid of the synthetic drive root. The remote API uses it as
// the parent fid of top-level entries but never returns a record for it.
const RootFid = "0"

// File is a single remote file or directory as returned by the listing API.
type File struct {
	Fid         string `json:"fid"`
	FileName    string `json:"file_name"`
	PdirFid     string `json:"pdir_fid"`
	Size        int64  `json:"size"`
	FormatType  string `json:"format_type"`
	Status      int    `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	IsDir       bool   `json:"dir"`
	IsFile      bool   `json:"file"`
	ContentHash string `json:"content_hash,omitempty"`

	// ParentPath is the absolute path the record was cached under. It is
	// assigned by the directory cache, never by the remote.
	ParentPath string `json:"parent_path,omitempty"`
}

// decodeFileNames resolves HTML entities in file names at the
// deserialization boundary. The remote occasionally returns escaped names
// ("a &amp; b.txt"). Cached listings are already decoded and must not pass
// through here again.
func decodeFileNames(files []File) {
	for i := range files {
		files[i].FileName = html.UnescapeString(files[i].FileName)
	}
}

// RootFile returns the synthetic root record that seeds the cache descent.
// It is never served to clients directly.
func RootFile() File {
	now := time.Now().UnixMilli()
	return File{
		Fid:       RootFid,
		Status:    1,
		CreatedAt: now,
		UpdatedAt: now,
		IsDir:     true,
	}
}

// ModTime converts the remote epoch-milliseconds timestamp.
func (f File) ModTime() time.Time {
	return time.UnixMilli(f.UpdatedAt)
}

// envelope is the uniform wrapper of every remote JSON response.
// status == 200 means application-level success.
type envelope struct {
	Status    int             `json:"status"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Metadata  json.RawMessage `json:"metadata"`
}

type filesData struct {
	List []File `json:"list"`
}

type filesMetadata struct {
	Total int `json:"_total"`
	Count int `json:"_count"`
	Page  int `json:"_page"`
}

type downloadURLsRequest struct {
	Fids []string `json:"fids"`
}

type downloadURLItem struct {
	Fid         string `json:"fid"`
	DownloadURL string `json:"download_url"`
	MD5         string `json:"md5,omitempty"`
}

type renameRequest struct {
	Fid      string `json:"fid"`
	FileName string `json:"file_name"`
}

type moveRequest struct {
	Filelist  []string `json:"filelist"`
	ToPdirFid string   `json:"to_pdir_fid"`
}

type deleteRequest struct {
	ActionType  int      `json:"action_type"`
	ExcludeFids []string `json:"exclude_fids"`
	Filelist    []string `json:"filelist"`
}

type createFolderRequest struct {
	PdirFid     string `json:"pdir_fid"`
	FileName    string `json:"file_name"`
	DirPath     string `json:"dir_path"`
	DirInitLock bool   `json:"dir_init_lock"`
}

type createFolderData struct {
	Finish bool   `json:"finish"`
	Fid    string `json:"fid"`
}

type memberData struct {
	TotalCapacity int64 `json:"total_capacity"`
	UseCapacity   int64 `json:"use_capacity"`
}

// Quota is the drive capacity usage reported by the member endpoint.
type Quota struct {
	Used  int64 `json:"used"`
	Total int64 `json:"total"`
}
