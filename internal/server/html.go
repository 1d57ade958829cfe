package server

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"quark-webdav/internal/drive"
)

// displayZone is the timezone the drive UI reports timestamps in (UTC+8).
var displayZone = time.FixedZone("CST", 8*3600)

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#x27;")
	return s
}

// percentEncodePath encodes every non-alphanumeric byte of a path segment.
func percentEncodePath(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func percentDecode(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func formatSize(size int64) string {
	const (
		kb = int64(1024)
		mb = 1024 * kb
		gb = 1024 * mb
		tb = 1024 * gb
	)
	switch {
	case size >= tb:
		return fmt.Sprintf("%.1f TB", float64(size)/float64(tb))
	case size >= gb:
		return fmt.Sprintf("%.1f GB", float64(size)/float64(gb))
	case size >= mb:
		return fmt.Sprintf("%.1f MB", float64(size)/float64(mb))
	case size >= kb:
		return fmt.Sprintf("%.1f KB", float64(size)/float64(kb))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

func formatTimestamp(millis int64) string {
	if millis < 0 {
		return "-"
	}
	return time.UnixMilli(millis).In(displayZone).Format("2006-01-02 15:04")
}

func fileIcon(name string) string {
	ext := ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ext = strings.ToLower(name[i+1:])
	}
	switch ext {
	case "jpg", "jpeg", "png", "gif", "bmp", "webp", "svg", "ico":
		return "🖼️"
	case "mp4", "avi", "mkv", "mov", "wmv", "flv", "webm", "m4v", "ts":
		return "🎬"
	case "mp3", "wav", "flac", "aac", "ogg", "wma", "m4a":
		return "🎵"
	case "pdf":
		return "📕"
	case "doc", "docx":
		return "📝"
	case "xls", "xlsx":
		return "📊"
	case "ppt", "pptx":
		return "📎"
	case "zip", "rar", "7z", "tar", "gz", "bz2", "xz":
		return "📦"
	case "txt", "md", "log", "csv":
		return "📄"
	case "exe", "msi", "dmg", "app", "deb", "rpm":
		return "⚙️"
	case "html", "css", "js", "json", "xml", "yaml", "yml", "toml":
		return "💻"
	case "rs", "py", "java", "c", "cpp", "go", "rb", "php", "sh":
		return "💻"
	default:
		return "📄"
	}
}

// renderDirectoryHTML produces a self-contained index page for a directory
// listing. reqPath is the raw (still percent-encoded) request path so the
// generated hrefs stay valid.
func renderDirectoryHTML(reqPath string, files []drive.File) string {
	displayPath := percentDecode(reqPath)
	if displayPath == "" {
		displayPath = "/"
	}

	hrefBase := reqPath
	if !strings.HasSuffix(hrefBase, "/") {
		hrefBase += "/"
	}

	var breadcrumbs strings.Builder
	breadcrumbs.WriteString(`<a href="/">Root</a>`)
	if displayPath != "/" {
		parts := strings.Split(strings.Trim(displayPath, "/"), "/")
		href := ""
		for i, part := range parts {
			href += "/" + percentEncodePath(part)
			if i == len(parts)-1 {
				fmt.Fprintf(&breadcrumbs, ` / <span class="current">%s</span>`, htmlEscape(part))
			} else {
				fmt.Fprintf(&breadcrumbs, ` / <a href="%s">%s</a>`, htmlEscape(href+"/"), htmlEscape(part))
			}
		}
	}

	var dirs, regular []drive.File
	for _, f := range files {
		if f.IsDir {
			dirs = append(dirs, f)
		} else if f.IsFile {
			regular = append(regular, f)
		}
	}
	byName := func(files []drive.File) func(i, j int) bool {
		return func(i, j int) bool {
			return strings.ToLower(files[i].FileName) < strings.ToLower(files[j].FileName)
		}
	}
	sort.SliceStable(dirs, byName(dirs))
	sort.SliceStable(regular, byName(regular))

	var rows strings.Builder
	if displayPath != "/" {
		rows.WriteString(`<tr class="parent"><td class="icon">📁</td><td class="name"><a href="../">..</a></td><td class="size">-</td><td class="date">-</td></tr>`)
	}
	for _, dir := range dirs {
		href := hrefBase + percentEncodePath(dir.FileName) + "/"
		fmt.Fprintf(&rows,
			`<tr class="dir"><td class="icon">📁</td><td class="name"><a href="%s">%s</a></td><td class="size">-</td><td class="date">%s</td></tr>`,
			htmlEscape(href), htmlEscape(dir.FileName), formatTimestamp(dir.UpdatedAt))
	}
	for _, file := range regular {
		href := hrefBase + percentEncodePath(file.FileName)
		fmt.Fprintf(&rows,
			`<tr class="file"><td class="icon">%s</td><td class="name"><a href="%s">%s</a></td><td class="size">%s</td><td class="date">%s</td></tr>`,
			fileIcon(file.FileName), htmlEscape(href), htmlEscape(file.FileName),
			formatSize(file.Size), formatTimestamp(file.UpdatedAt))
	}

	return fmt.Sprintf(indexTemplate,
		htmlEscape(displayPath), breadcrumbs.String(), rows.String(), len(dirs)+len(regular))
}

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Quark WebDAV - %s</title>
<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif; background: #f5f5f5; color: #333; line-height: 1.6; }
.container { max-width: 960px; margin: 0 auto; padding: 20px; }
.header { background: #fff; border-radius: 8px; padding: 16px 24px; margin-bottom: 16px; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
.header h1 { font-size: 18px; font-weight: 600; color: #1a1a1a; margin-bottom: 8px; }
.breadcrumb { font-size: 14px; color: #666; }
.breadcrumb a { color: #2563eb; text-decoration: none; }
.breadcrumb a:hover { text-decoration: underline; }
.breadcrumb .current { color: #333; font-weight: 500; }
.content { background: #fff; border-radius: 8px; box-shadow: 0 1px 3px rgba(0,0,0,0.1); overflow: hidden; }
table { width: 100%%; border-collapse: collapse; }
thead { background: #fafafa; }
th { text-align: left; padding: 12px 16px; font-size: 13px; font-weight: 600; color: #666; border-bottom: 1px solid #eee; }
td { padding: 10px 16px; border-bottom: 1px solid #f0f0f0; font-size: 14px; }
tr:hover { background: #f8fafc; }
.icon { width: 32px; text-align: center; }
.name { word-break: break-all; }
.name a { color: #1a1a1a; text-decoration: none; }
.name a:hover { color: #2563eb; text-decoration: underline; }
.dir .name a { font-weight: 500; }
.size { width: 100px; text-align: right; color: #888; white-space: nowrap; }
.date { width: 160px; color: #888; white-space: nowrap; }
.footer { text-align: center; padding: 16px; font-size: 12px; color: #aaa; }
@media (max-width: 640px) {
  .container { padding: 10px; }
  .date { display: none; }
  th:last-child { display: none; }
  .size { width: 80px; }
}
</style>
</head>
<body>
<div class="container">
  <div class="header">
    <h1>Quark WebDAV</h1>
    <div class="breadcrumb">%s</div>
  </div>
  <div class="content">
    <table>
      <thead><tr><th class="icon"></th><th>Name</th><th class="size">Size</th><th class="date">Modified</th></tr></thead>
      <tbody>%s</tbody>
    </table>
  </div>
  <div class="footer">%d items</div>
</div>
</body>
</html>`
