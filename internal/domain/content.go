package domain

import (
	"net/url"
	"path"
	"strings"
)

// Content describes a playable resource, either a local file or a remote URL.
// It is built once at startup and never mutated afterwards.
type Content struct {
	Path      string `json:"path"`
	IsLocal   bool   `json:"is_local"`
	MIME      string `json:"mime"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
	Basename  string `json:"basename"`
	// Charset is only detected for local subtitle files.
	Charset string `json:"charset,omitempty"`
}

// ContentType returns the MIME type to advertise in HTTP headers.
func (c Content) ContentType() string {
	if c.MIME == "" {
		return "application/octet-stream"
	}
	if c.Charset != "" && strings.HasPrefix(c.MIME, "text/") {
		return c.MIME + "; charset=" + strings.ToLower(c.Charset)
	}
	return c.MIME
}

// Title is the URL-decoded last path element of the content path.
func (c Content) Title() string {
	p := c.Path
	if !c.IsLocal {
		if u, err := url.Parse(p); err == nil && u.Path != "" {
			p = u.Path
		}
	}
	p = strings.ReplaceAll(p, "\\", "/")
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		return decoded
	}
	return base
}

// Kind is the coarse media class derived from the MIME type.
func (c Content) Kind() string {
	switch {
	case strings.HasPrefix(c.MIME, "audio/"):
		return "audio"
	case strings.HasPrefix(c.MIME, "image/"):
		return "image"
	default:
		return "video"
	}
}
