package util

import (
	"path"
	"regexp"
	"strings"
)

var mentionRe = regexp.MustCompile(`@\w+`)

// NormalizeCaption converts literal backslash-n sequences from archive
// exports into real newlines and trims surrounding whitespace.
func NormalizeCaption(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.TrimSpace(s)
}

// HasMention reports whether the text contains an @handle token.
func HasMention(text string) bool {
	return mentionRe.MatchString(text)
}

// StripTopFolder removes the leading directory from a relative path, so
// "MyExport/media/posts/202501/a.jpg" becomes "media/posts/202501/a.jpg".
// Paths without a folder prefix are returned unchanged.
func StripTopFolder(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if i := strings.Index(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Basename returns the final path element with forward-slash normalization,
// used to match manifest media URIs against uploaded files.
func Basename(p string) string {
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}

// IsImagePath reports whether the filename carries a supported image extension.
func IsImagePath(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}
