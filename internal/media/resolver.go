// Package media resolves a local path or remote URL into a domain.Content
// descriptor before the media server starts.
package media

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/saintfish/chardet"
	"go2tv.app/go2tv/v2/utils"

	"github.com/alex/dlnacast/internal/domain"
	"github.com/alex/dlnacast/internal/netutil"
)

const (
	sniffLen        = 262
	charsetSniffLen = 4096
	octetStream     = "application/octet-stream"
)

var subtitleTypes = map[string]string{
	".srt": "text/srt",
	".vtt": "text/vtt",
	".ssa": "text/x-ssa",
	".ass": "text/x-ssa",
}

type Resolver struct {
	client *retryablehttp.Client
	logger zerolog.Logger

	mimeFromPath func(path string) (string, error)
}

func NewResolver(logger zerolog.Logger) *Resolver {
	logger = logger.With().Str("component", "resolver").Logger()
	return &Resolver{
		client:       netutil.NewRetryClient(logger),
		logger:       logger,
		mimeFromPath: utils.GetMimeDetailsFromPath,
	}
}

// Resolve builds the descriptor for pathOrURL. Missing local files and remote
// resources that do not answer HEAD with a 2xx status yield domain.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, pathOrURL string) (domain.Content, error) {
	pathOrURL = strings.TrimSpace(pathOrURL)
	if pathOrURL == "" {
		return domain.Content{}, errors.Wrap(domain.ErrNotFound, "empty path")
	}
	if isRemote(pathOrURL) {
		return r.resolveRemote(ctx, pathOrURL)
	}
	return r.resolveLocal(pathOrURL)
}

func (r *Resolver) resolveLocal(p string) (domain.Content, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return domain.Content{}, errors.Wrapf(err, "resolve %s", p)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Content{}, errors.Wrapf(domain.ErrNotFound, "%s", p)
		}
		return domain.Content{}, errors.Wrapf(err, "stat %s", p)
	}
	if info.IsDir() {
		return domain.Content{}, errors.Wrapf(domain.ErrNotFound, "%s is a directory", p)
	}

	content := domain.Content{
		Path:      abs,
		IsLocal:   true,
		Size:      info.Size(),
		Extension: mediaExt(abs),
		Basename:  filepath.Base(abs),
	}
	content.MIME = r.detectFileMediaType(abs, content.Extension)
	if strings.HasPrefix(content.MIME, "text/") {
		content.Charset = detectCharset(abs)
	}

	r.logger.Debug().
		Str("path", abs).
		Str("mime", content.MIME).
		Int64("size", content.Size).
		Msg("content_resolved")
	return content, nil
}

func (r *Resolver) resolveRemote(ctx context.Context, rawURL string) (domain.Content, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return domain.Content{}, errors.Wrapf(err, "build HEAD %s", rawURL)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return domain.Content{}, errors.Wrapf(err, "HEAD %s", rawURL)
	}
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Content{}, errors.Wrapf(domain.ErrNotFound, "HEAD %s: status %d", rawURL, resp.StatusCode)
	}

	ext := mediaExt(rawURL)
	content := domain.Content{
		Path:      rawURL,
		Size:      resp.ContentLength,
		Extension: ext,
		Basename:  path.Base(urlPath(rawURL)),
		MIME:      headerMediaType(resp.Header.Get("Content-Type")),
	}
	if content.MIME == "" || content.MIME == octetStream {
		content.MIME = extMediaType(ext)
	}
	if content.Size < 0 {
		return domain.Content{}, errors.Errorf("HEAD %s: origin reported no content length", rawURL)
	}

	r.logger.Debug().
		Str("url", rawURL).
		Str("mime", content.MIME).
		Int64("size", content.Size).
		Msg("content_resolved")
	return content, nil
}

func (r *Resolver) detectFileMediaType(source, ext string) string {
	if t, ok := subtitleTypes[ext]; ok {
		return t
	}

	if r.mimeFromPath != nil {
		mediaType, err := r.mimeFromPath(source)
		if err == nil && mediaType != "" && mediaType != "/" && mediaType != octetStream {
			return mediaType
		}
	}

	if sniffed := sniffMediaType(source); sniffed != "" {
		return sniffed
	}
	return extMediaType(ext)
}

func sniffMediaType(source string) string {
	f, err := os.Open(source)
	if err != nil {
		return ""
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && n == 0 {
		return ""
	}
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}

func detectCharset(source string) string {
	f, err := os.Open(source)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, charsetSniffLen)
	n, _ := io.ReadFull(f, buf)
	if n == 0 {
		return ""
	}
	result, err := chardet.NewTextDetector().DetectBest(buf[:n])
	if err != nil || result == nil {
		return ""
	}
	return result.Charset
}

func extMediaType(ext string) string {
	if t, ok := subtitleTypes[ext]; ok {
		return t
	}
	if ext == "" {
		return octetStream
	}
	return headerMediaType(mime.TypeByExtension(ext))
}

func headerMediaType(v string) string {
	if v == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.TrimSpace(strings.Split(v, ";")[0])
	}
	return mediaType
}

func isRemote(v string) bool {
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

func urlPath(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return u.Path
	}
	return rawURL
}

func mediaExt(source string) string {
	if parsed, err := url.Parse(source); err == nil && parsed.Scheme != "" && parsed.Path != "" {
		ext := strings.ToLower(path.Ext(parsed.Path))
		if isSafeExt(ext) {
			return ext
		}
	}

	ext := strings.ToLower(filepath.Ext(source))
	if isSafeExt(ext) {
		return ext
	}
	return ""
}

func isSafeExt(ext string) bool {
	if ext == "" || len(ext) > 16 || !strings.HasPrefix(ext, ".") {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
