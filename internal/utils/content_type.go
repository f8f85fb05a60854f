package utils

import (
	"mime"
	"path"
	"strings"
)

var textExtensions = map[string]bool{
	".md":   true,
	".txt":  true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".csv":  true,
}

// DetectContentType guesses the MIME type of a slash-separated path from its
// extension.
func DetectContentType(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if textExtensions[ext] {
		return "text/plain; charset=utf-8"
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}
