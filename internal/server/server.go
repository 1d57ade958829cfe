package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/net/webdav"

	"quark-webdav/internal/cache"
	"quark-webdav/internal/davfs"
	"quark-webdav/internal/drive"
)

const authRealm = "quarkdrive-webdav"

type Config struct {
	AuthUser     string
	AuthPassword string
	StripPrefix  string
}

// QuotaFunc reports drive capacity for the status endpoint.
type QuotaFunc func(ctx context.Context) (drive.Quota, error)

type server struct {
	fs       *davfs.FileSystem
	dirCache *cache.DirCache
	quota    QuotaFunc
	dav      *webdav.Handler
	config   Config
}

// NewHandler builds the complete HTTP handler chain: access logging, basic
// auth, a status endpoint, the browser-facing directory index and the
// WebDAV handler for everything else.
func NewHandler(fs *davfs.FileSystem, dirCache *cache.DirCache, quota QuotaFunc, config Config) http.Handler {
	config.StripPrefix = normalizePrefix(config.StripPrefix)

	s := &server{
		fs:       fs,
		dirCache: dirCache,
		quota:    quota,
		config:   config,
		dav: &webdav.Handler{
			Prefix:     config.StripPrefix,
			FileSystem: fs,
			LockSystem: webdav.NewMemLS(),
			Logger: func(r *http.Request, err error) {
				if err != nil {
					log.Printf("WebDAV: %s %s: %v", r.Method, r.URL.Path, err)
				}
			},
		},
	}

	router := mux.NewRouter()
	router.HandleFunc(config.StripPrefix+"/-/quota", s.handleQuota).Methods(http.MethodGet)
	router.PathPrefix("/").HandlerFunc(s.handleRequest)

	var handler http.Handler = router
	handler = BasicAuthMiddleware(config, handler)
	handler = AccessLogMiddleware(handler)
	return handler
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// BasicAuthMiddleware enforces credentials when both a user and a password
// are configured. Unauthenticated requests get a 401 with the realm set so
// clients know to prompt.
func BasicAuthMiddleware(config Config, next http.Handler) http.Handler {
	if config.AuthUser == "" || config.AuthPassword == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != config.AuthUser || pass != config.AuthPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+authRealm+`"`)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if s.isBrowserRequest(r) && s.serveDirectoryIndex(w, r) {
		return
	}
	s.dav.ServeHTTP(w, r)
}

// Browsers send GET with an Accept header naming text/html; WebDAV clients
// either use other methods or ask for XML.
func (s *server) isBrowserRequest(r *http.Request) bool {
	return r.Method == http.MethodGet &&
		strings.Contains(r.Header.Get("Accept"), "text/html")
}

// serveDirectoryIndex renders an HTML listing when the request path names a
// cached-or-listable directory. It reports false for anything else so the
// request falls through to the WebDAV handler (file GETs in particular).
func (s *server) serveDirectoryIndex(w http.ResponseWriter, r *http.Request) bool {
	reqPath := r.URL.EscapedPath()

	relPath := reqPath
	if s.config.StripPrefix != "" {
		if !strings.HasPrefix(relPath, s.config.StripPrefix) {
			return false
		}
		relPath = strings.TrimPrefix(relPath, s.config.StripPrefix)
	}

	fsPath := s.fs.MapPath(cache.Canonical(percentDecode(relPath)))
	files, ok := s.dirCache.Ensure(r.Context(), fsPath)
	if !ok {
		return false
	}

	AddLogContext(r, "index "+fsPath)
	page := renderDirectoryHTML(reqPath, files)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(page))
	return true
}

func (s *server) handleQuota(w http.ResponseWriter, r *http.Request) {
	quota, err := s.quota(r.Context())
	if err != nil {
		log.Printf("Server: quota lookup failed: %v", err)
		http.Error(w, "quota unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"used":       quota.Used,
		"total":      quota.Total,
		"used_text":  formatSize(quota.Used),
		"total_text": formatSize(quota.Total),
	})
}
