package mediaserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"github.com/alex/dlnacast/internal/domain"
)

var errRelayReplaced = errors.New("relay replaced before upstream answered")

// relay is one in-flight upstream read for a remote resource. It is
// published before the upstream answers so closing it also aborts a
// pending open.
type relay struct {
	id     uint64
	cancel context.CancelFunc

	mu     sync.Mutex
	body   io.ReadCloser
	closed bool
}

func (r *relay) close() {
	r.cancel()

	r.mu.Lock()
	body := r.body
	r.closed = true
	r.body = nil
	r.mu.Unlock()

	if body != nil {
		_ = body.Close()
	}
}

// attach hands the opened body to r. It reports false when r was closed
// while the open was pending; the caller then owns body.
func (r *relay) attach(body io.ReadCloser) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.body = body
	return true
}

func (r *relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// openUpstream requests exactly rng from the remote origin. Origins that
// ignore the Range header are skipped forward to rng.Start.
func (s *Server) openUpstream(ctx context.Context, content domain.Content, rng byteRange) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, content.Path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))

	resp, err := s.upstream.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "open upstream")
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusOK:
		if rng.Start > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, rng.Start); err != nil {
				_ = resp.Body.Close()
				return nil, errors.Wrap(err, "skip upstream prefix")
			}
		}
		return resp.Body, nil
	default:
		_ = resp.Body.Close()
		return nil, errors.Errorf("upstream status %d", resp.StatusCode)
	}
}

// acquireVideoRelay closes any relay still open for the video resource and
// opens a new one. The new relay is published under relayMu and opened
// outside it, so a later request or Shutdown can cancel a stalled open.
func (s *Server) acquireVideoRelay(parent context.Context, rng byteRange) (*relay, io.Reader, error) {
	ctx, cancel := context.WithCancel(parent)

	s.relayMu.Lock()
	if prev := s.activeRelay; prev != nil {
		prev.close()
		s.metrics.relaysReplaced.Inc()
		s.logger.Debug().Uint64("relay", prev.id).Msg("relay_replaced")
	}
	s.relaySeq++
	rl := &relay{id: s.relaySeq, cancel: cancel}
	s.activeRelay = rl
	s.relayMu.Unlock()

	body, err := s.openUpstream(ctx, s.video, rng)
	if err != nil {
		replaced := rl.isClosed()
		s.releaseVideoRelay(rl)
		if replaced {
			return nil, nil, errRelayReplaced
		}
		s.metrics.relayFailures.Inc()
		return nil, nil, err
	}
	if !rl.attach(body) {
		_ = body.Close()
		s.releaseVideoRelay(rl)
		return nil, nil, errRelayReplaced
	}
	return rl, body, nil
}

func (s *Server) releaseVideoRelay(rl *relay) {
	rl.close()

	s.relayMu.Lock()
	if s.activeRelay == rl {
		s.activeRelay = nil
	}
	s.relayMu.Unlock()
}

func (s *Server) closeActiveRelay() {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()
	if s.activeRelay != nil {
		s.activeRelay.close()
		s.activeRelay = nil
	}
}
