package server

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = 200
	}
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     200,
		}

		next.ServeHTTP(wrapped, r)

		logApacheFormat(r, wrapped.statusCode, wrapped.size, time.Since(start))
	})
}

func logApacheFormat(r *http.Request, statusCode int, responseSize int64, duration time.Duration) {
	// Extended Apache Common Log Format:
	// remote_host - remote_user [timestamp] "request_line" status_code request_size/response_size "referer" "user_agent" duration_ms

	remoteHost := getClientIP(r)

	requestSizeStr := "-"
	if r.ContentLength >= 0 {
		requestSizeStr = strconv.FormatInt(r.ContentLength, 10)
	}

	remoteUser := "-"
	if user, _, ok := r.BasicAuth(); ok && user != "" {
		remoteUser = user
	}

	timestamp := time.Now().Format("02/Jan/2006:15:04:05 -0700")

	requestLine := fmt.Sprintf("%s %s %s", r.Method, r.RequestURI, r.Proto)

	sizeStr := "-"
	if responseSize >= 0 {
		sizeStr = strconv.FormatInt(responseSize, 10)
	}

	referer := r.Header.Get("Referer")
	if referer == "" {
		referer = "-"
	}

	userAgent := r.Header.Get("User-Agent")
	if userAgent == "" {
		userAgent = "-"
	}

	// Additional context attached via the X-Log header
	contextInfo := ""
	if logInfos := r.Header.Values("X-Log"); len(logInfos) > 0 {
		contextInfo = fmt.Sprintf(" [%s]", strings.Join(logInfos, ", "))
	}

	logLine := fmt.Sprintf("%s - %s [%s] \"%s\" %d %s/%s \"%s\" \"%s\" %d%s\n",
		remoteHost,
		remoteUser,
		timestamp,
		requestLine,
		statusCode,
		requestSizeStr,
		sizeStr,
		referer,
		userAgent,
		duration.Milliseconds(),
		contextInfo,
	)

	os.Stdout.WriteString(logLine)
}

// AddLogContext attaches context information to be included in the access log
// line for this request.
func AddLogContext(r *http.Request, context string) {
	r.Header.Add("X-Log", context)
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}

	return ip
}
