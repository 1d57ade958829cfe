package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	origin    = "https://pan.quark.cn"
	referer   = "https://pan.quark.cn/"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) quark-cloud-drive/2.5.20 Chrome/100.0.4896.160 Electron/18.3.5.4-b478491100 Safari/537.36 Channel/pckk_other_ch"

	// PageSize is the fixed listing page size requested from the remote.
	PageSize = 500
	// MaxPages caps listing pagination at 10,000 entries per directory in
	// case the remote reports inconsistent totals.
	MaxPages = 20
)

// Config holds the remote drive connection settings.
type Config struct {
	APIBaseURL string
	Cookie     string
}

// Client talks to the Quark Pan HTTP API. It is safe for concurrent use
// after construction.
type Client struct {
	config Config
	http   *http.Client

	// retry policy, overridable in tests
	retryMin time.Duration
	retryMax time.Duration
	maxTries uint
}

// StatusError is an upstream HTTP error with the original status code
// preserved, so callers can map transient and permanent failures apart.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// APIError is a remote application error: the envelope came back with
// status != 200. It is never retried.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("drive api error %d: %s", e.Code, e.Message)
}

// NewClient creates a drive client. The cookie is required, it is the only
// authentication the remote API accepts.
func NewClient(config Config) (*Client, error) {
	if config.Cookie == "" {
		return nil, fmt.Errorf("drive cookie is required")
	}
	if config.APIBaseURL == "" {
		return nil, fmt.Errorf("drive api base url is required")
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		// The upstream closes idle connections after 60 seconds, close
		// them ahead of time so we never re-use a dead one.
		IdleConnTimeout: 50 * time.Second,
	}

	return &Client{
		config: config,
		http: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		retryMin: 3 * time.Second,
		retryMax: 7 * time.Second,
		maxTries: 4,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", referer)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", c.config.Cookie)
}

func (c *Client) apiURL(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("pr", "ucpro")
	query.Set("fr", "pc")
	return c.config.APIBaseURL + path + "?" + query.Encode()
}

func retriableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// doRequest performs one HTTP round-trip with the transient-retry policy and
// returns the raw response body. Non-retriable upstream statuses surface as
// *StatusError without further attempts.
func (c *Client) doRequest(ctx context.Context, method, rawURL string, reqBody []byte) ([]byte, error) {
	attempt := func() ([]byte, error) {
		var body io.Reader
		if reqBody != nil {
			body = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		c.setHeaders(req)
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// network errors are transient
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
			if retriableStatus(resp.StatusCode) {
				return nil, statusErr
			}
			return nil, backoff.Permanent(statusErr)
		}
		return data, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryMin
	policy.MaxInterval = c.retryMax
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.5

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries))
}

// doJSON performs a request and decodes the envelope. The data payload is
// unmarshalled into out (if non-nil) and the metadata into meta (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, rawURL string, reqObj, out, meta any) error {
	var reqBody []byte
	if reqObj != nil {
		var err error
		reqBody, err = json.Marshal(reqObj)
		if err != nil {
			return fmt.Errorf("failed to encode request: %v", err)
		}
	}

	data, err := c.doRequest(ctx, method, rawURL, reqBody)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode response envelope: %v", err)
	}
	if env.Status != 200 {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %v", err)
		}
	}
	if meta != nil && len(env.Metadata) > 0 {
		if err := json.Unmarshal(env.Metadata, meta); err != nil {
			return fmt.Errorf("failed to decode response metadata: %v", err)
		}
	}
	return nil
}

// ListPage fetches one page of a directory listing. A 404 means the
// directory does not exist upstream and yields an empty listing, not an
// error, so the cache can tell "missing" apart from "failed".
func (c *Client) ListPage(ctx context.Context, pdirFid string, page, size int) ([]File, int, error) {
	query := url.Values{}
	query.Set("pdir_fid", pdirFid)
	query.Set("_page", strconv.Itoa(page))
	query.Set("_size", strconv.Itoa(size))
	query.Set("_fetch_total", "1")
	query.Set("_fetch_sub_dirs", "0")
	query.Set("_sort", "file_type:asc,updated_at:desc")

	var data filesData
	var meta filesMetadata
	err := c.doJSON(ctx, http.MethodGet, c.apiURL("/1/clouddrive/file/sort", query), nil, &data, &meta)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	decodeFileNames(data.List)
	return data.List, meta.Total, nil
}

// ListAll fetches every page of a directory listing up to the page cap.
func (c *Client) ListAll(ctx context.Context, pdirFid string) ([]File, error) {
	var all []File
	for page := 1; ; page++ {
		files, total, err := c.ListPage(ctx, pdirFid, page, PageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, files...)
		if len(files) < PageSize || page >= total/PageSize+1 {
			break
		}
		if page >= MaxPages {
			log.Printf("Drive: listing of %s truncated at %d pages (%d of %d entries)",
				pdirFid, MaxPages, len(all), total)
			break
		}
	}
	return all, nil
}

// DownloadURLs resolves short-lived download URLs for a batch of fids.
func (c *Client) DownloadURLs(ctx context.Context, fids []string) (map[string]string, error) {
	var items []downloadURLItem
	err := c.doJSON(ctx, http.MethodPost, c.apiURL("/1/clouddrive/file/download", nil),
		&downloadURLsRequest{Fids: fids}, &items, nil)
	if err != nil {
		return nil, err
	}

	urls := make(map[string]string, len(items))
	for _, item := range items {
		urls[item.Fid] = item.DownloadURL
	}
	return urls, nil
}

// DownloadURL resolves the download URL of a single fid.
func (c *Client) DownloadURL(ctx context.Context, fid string) (string, error) {
	urls, err := c.DownloadURLs(ctx, []string{fid})
	if err != nil {
		return "", err
	}
	downloadURL, ok := urls[fid]
	if !ok || downloadURL == "" {
		return "", fmt.Errorf("no download url for fid %s", fid)
	}
	return downloadURL, nil
}

// OpenDownload streams file content from a resolved download URL starting at
// offset. A negative length reads to the end of the file. The caller must
// close the returned body.
func (c *Client) OpenDownload(ctx context.Context, rawURL string, offset, length int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	if offset > 0 || length >= 0 {
		if length >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

// Rename changes the display name of a file or directory.
func (c *Client) Rename(ctx context.Context, fid, name string) error {
	return c.doJSON(ctx, http.MethodPost, c.apiURL("/1/clouddrive/file/rename", nil),
		&renameRequest{Fid: fid, FileName: name}, nil, nil)
}

// Move reparents a file or directory under toPdirFid.
func (c *Client) Move(ctx context.Context, fid, toPdirFid string) error {
	return c.doJSON(ctx, http.MethodPost, c.apiURL("/1/clouddrive/file/move", nil),
		&moveRequest{Filelist: []string{fid}, ToPdirFid: toPdirFid}, nil, nil)
}

// Delete removes a file or directory. The remote has no untrash endpoint,
// deletion is final.
func (c *Client) Delete(ctx context.Context, fid string) error {
	return c.doJSON(ctx, http.MethodPost, c.apiURL("/1/clouddrive/file/delete", nil),
		&deleteRequest{ActionType: 2, Filelist: []string{fid}, ExcludeFids: []string{}}, nil, nil)
}

// CreateFolder creates a directory under pdirFid and returns its new fid.
func (c *Client) CreateFolder(ctx context.Context, pdirFid, name string) (string, error) {
	var data createFolderData
	err := c.doJSON(ctx, http.MethodPost, c.apiURL("/1/clouddrive/file", nil),
		&createFolderRequest{PdirFid: pdirFid, FileName: name}, &data, nil)
	if err != nil {
		return "", err
	}
	return data.Fid, nil
}

// Quota reports used and total drive capacity in bytes.
func (c *Client) Quota(ctx context.Context) (Quota, error) {
	query := url.Values{}
	query.Set("fetch_subscribe", "true")
	query.Set("fetch_identity", "true")
	query.Set("_ch", "home")

	var data memberData
	err := c.doJSON(ctx, http.MethodGet, c.apiURL("/1/clouddrive/member", query), nil, &data, nil)
	if err != nil {
		return Quota{}, err
	}
	return Quota{Used: data.UseCapacity, Total: data.TotalCapacity}, nil
}
