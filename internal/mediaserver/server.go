// Package mediaserver exposes the cast content over HTTP with byte-range
// support, the way DLNA renderers expect to fetch it.
package mediaserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/alex/dlnacast/internal/didl"
	"github.com/alex/dlnacast/internal/domain"
)

const (
	MediaPath    = "/"
	SubtitlePath = "/subtitles"
	MetricsPath  = "/metrics"

	contentFeatures = didl.ContentFeatures
	transferMode    = "Streaming"

	readHeaderTimeout = 10 * time.Second
)

type Options struct {
	Port      int
	Subtitles *domain.Content
	// Upstream fetches remote content. Defaults to a pooled cleanhttp client.
	Upstream      *http.Client
	EnableMetrics bool
	Logger        zerolog.Logger
}

type Server struct {
	video     domain.Content
	subtitles *domain.Content
	port      int
	upstream  *http.Client
	metrics   *metrics
	logger    zerolog.Logger
	router    chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}

	relayMu     sync.Mutex
	activeRelay *relay
	relaySeq    uint64
}

func New(video domain.Content, opts Options) *Server {
	upstream := opts.Upstream
	if upstream == nil {
		upstream = cleanhttp.DefaultPooledClient()
	}

	s := &Server{
		video:     video,
		subtitles: opts.Subtitles,
		port:      opts.Port,
		upstream:  upstream,
		metrics:   newMetrics(),
		logger:    opts.Logger.With().Str("component", "mediaserver").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(MediaPath, s.handleVideo)
	r.Head(MediaPath, s.handleVideo)
	r.Get(SubtitlePath, s.handleSubtitles)
	r.Head(SubtitlePath, s.handleSubtitles)
	if opts.EnableMetrics {
		r.Method(http.MethodGet, MetricsPath, s.metrics.handler())
	}
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) HasSubtitles() bool {
	return s.subtitles != nil
}

// Start binds all interfaces on the configured port and serves in the
// background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("media server already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.port)))
	if err != nil {
		return errors.Wrapf(err, "listen on port %d", s.port)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.done = make(chan struct{})

	srv, done := s.httpServer, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("media_server_failed")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("media_server_start")
	return nil
}

// Port reports the bound port once started, the configured one before.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

func (s *Server) MediaURL(host string) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(s.Port()))) + MediaPath
}

func (s *Server) SubtitleURL(host string) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(s.Port()))) + SubtitlePath
}

// Shutdown closes the listening socket and any open upstream relay. It is
// safe to call on a server that was never started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeActiveRelay()

	s.mu.Lock()
	srv, done := s.httpServer, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.logger.Info().Msg("media_server_stop")
	return err
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Range") == "" {
		s.metrics.requests.WithLabelValues("video", "probe").Inc()
		h := w.Header()
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Length", strconv.FormatInt(s.video.Size, 10))
		h.Set("Content-Range", contentRange(byteRange{Start: 0, End: s.video.Size - 1}, s.video.Size))
		h.Set("transferMode.dlna.org", transferMode)
		h.Set("contentFeatures.dlna.org", contentFeatures)
		h.Set("Content-Type", s.video.ContentType())
		if s.subtitles != nil {
			h.Set("CaptionInfo.sec", captionURL(r))
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	s.metrics.requests.WithLabelValues("video", "range").Inc()
	s.serveRange(w, r, "video", s.video, nil)
}

func (s *Server) handleSubtitles(w http.ResponseWriter, r *http.Request) {
	if s.subtitles == nil {
		http.NotFound(w, r)
		return
	}
	subs := *s.subtitles
	extra := http.Header{}
	extra.Set("CaptionInfo.sec", captionURL(r))

	if r.Header.Get("Range") != "" {
		s.metrics.requests.WithLabelValues("subtitles", "range").Inc()
		s.serveRange(w, r, "subtitles", subs, extra)
		return
	}

	s.metrics.requests.WithLabelValues("subtitles", "full").Inc()
	h := w.Header()
	h.Set("Content-Length", strconv.FormatInt(subs.Size, 10))
	h.Set("transferMode.dlna.org", transferMode)
	h.Set("contentFeatures.dlna.org", contentFeatures)
	h.Set("CaptionInfo.sec", extra.Get("CaptionInfo.sec"))
	h.Set("Content-Type", subs.ContentType())

	if subs.Size == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.streamSpan(w, r, "subtitles", subs, byteRange{Start: 0, End: subs.Size - 1}, http.StatusOK)
}

func (s *Server) serveRange(w http.ResponseWriter, r *http.Request, resource string, content domain.Content, extra http.Header) {
	rng, err := parseRange(r.Header.Get("Range"), content.Size)
	if err != nil {
		s.logger.Debug().Err(err).Str("range", r.Header.Get("Range")).Str("resource", resource).Msg("range_rejected")
		w.Header().Set("Content-Range", unsatisfiedRange(content.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	h := w.Header()
	for k, v := range extra {
		h[k] = v
	}
	h.Set("Content-Range", contentRange(rng, content.Size))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	h.Set("Content-Type", content.ContentType())

	s.streamSpan(w, r, resource, content, rng, http.StatusPartialContent)
}

// streamSpan writes the status and then copies rng from the local file or
// the remote origin. Failures after the header is written just end the body.
func (s *Server) streamSpan(w http.ResponseWriter, r *http.Request, resource string, content domain.Content, rng byteRange, status int) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	var body io.Reader
	if content.IsLocal {
		f, err := os.Open(content.Path)
		if err != nil {
			s.logger.Error().Err(err).Str("resource", resource).Msg("local_open_failed")
			http.Error(w, "content unavailable", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		body = io.NewSectionReader(f, rng.Start, rng.Length())
	} else if resource == "video" {
		rl, rb, err := s.acquireVideoRelay(r.Context(), rng)
		if err != nil {
			s.logger.Warn().Err(err).Str("resource", resource).Msg("relay_open_failed")
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		defer s.releaseVideoRelay(rl)
		body = rb
	} else {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		rc, err := s.openUpstream(ctx, content, rng)
		if err != nil {
			s.metrics.relayFailures.Inc()
			s.logger.Warn().Err(err).Str("resource", resource).Msg("relay_open_failed")
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		defer rc.Close()
		body = rc
	}

	w.WriteHeader(status)
	n, err := io.CopyN(w, body, rng.Length())
	s.metrics.bytesServed.WithLabelValues(resource).Add(float64(n))
	if err != nil {
		s.logger.Debug().
			Err(err).
			Str("resource", resource).
			Int64("written", n).
			Int64("want", rng.Length()).
			Msg("stream_truncated")
	}
}

func captionURL(r *http.Request) string {
	return "http://" + r.Host + SubtitlePath
}
