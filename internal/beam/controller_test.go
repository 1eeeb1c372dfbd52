package beam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alex/dlnacast/internal/console"
	"github.com/alex/dlnacast/internal/control"
	"github.com/alex/dlnacast/internal/domain"
)

type fakePlayer struct {
	mu    sync.Mutex
	calls []string
	loads []control.LoadOptions
	urls  []string

	loadErrs  []error
	playErr   error
	pauseErr  error
	volume    int
	volumeErr error
	elapsed   int
	states    []string
	stateErr  error
}

func (f *fakePlayer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakePlayer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlayer) Load(_ context.Context, url string, opts control.LoadOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "load")
	f.urls = append(f.urls, url)
	f.loads = append(f.loads, opts)
	if len(f.loadErrs) > 0 {
		err := f.loadErrs[0]
		f.loadErrs = f.loadErrs[1:]
		return err
	}
	return nil
}

func (f *fakePlayer) Play(context.Context) error {
	f.record("play")
	return f.playErr
}

func (f *fakePlayer) Pause(context.Context) error {
	f.record("pause")
	return f.pauseErr
}

func (f *fakePlayer) Stop(context.Context) error {
	f.record("stop")
	return nil
}

func (f *fakePlayer) Seek(_ context.Context, seconds int) error {
	f.record(fmt.Sprintf("seek %d", seconds))
	return nil
}

func (f *fakePlayer) GetVolume(context.Context) (int, error) {
	f.record("get-volume")
	return f.volume, f.volumeErr
}

func (f *fakePlayer) SetVolume(_ context.Context, level int) error {
	f.record(fmt.Sprintf("set-volume %d", level))
	return nil
}

func (f *fakePlayer) GetTransportInfo(context.Context) (control.TransportInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "transport-info")
	if f.stateErr != nil {
		return control.TransportInfo{}, f.stateErr
	}
	state := control.StatePlaying
	if len(f.states) > 0 {
		state = f.states[0]
		f.states = f.states[1:]
	}
	return control.TransportInfo{CurrentTransportState: state}, nil
}

func (f *fakePlayer) GetPositionInfo(context.Context) (control.PositionInfo, error) {
	f.record("position")
	return control.PositionInfo{Elapsed: f.elapsed}, nil
}

func (f *fakePlayer) Status(context.Context) (control.Status, error) {
	f.record("status")
	return control.Status{Volume: f.volume, Transport: control.TransportInfo{CurrentTransportState: control.StatePlaying}}, nil
}

type fakeServer struct {
	mu        sync.Mutex
	shutdowns int
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.mu.Lock()
	s.shutdowns++
	s.mu.Unlock()
	return nil
}

func (s *fakeServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdowns
}

type fakeKeys struct {
	ch     chan console.Key
	closed int
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{ch: make(chan console.Key)}
}

func (k *fakeKeys) Keys() <-chan console.Key { return k.ch }

func (k *fakeKeys) Close() error {
	k.closed++
	return nil
}

type harness struct {
	player *fakePlayer
	server *fakeServer
	keys   *fakeKeys
	out    *bytes.Buffer
	ctrl   *Controller
}

func newHarness(player *fakePlayer, pollDelay time.Duration) *harness {
	h := &harness{
		player: player,
		server: &fakeServer{},
		keys:   newFakeKeys(),
		out:    &bytes.Buffer{},
	}
	h.ctrl = NewController(h.player, h.server, h.keys, console.NewPlainPrinter(h.out), Session{
		DeviceName:    "Living Room",
		MediaURL:      "http://10.0.0.1:8888/",
		VideoLabel:    "movie.mp4",
		SubtitleLabel: "movie.srt",
		Load: control.LoadOptions{
			ContentType: "video/mp4",
			Title:       "movie.mp4",
			Kind:        "video",
			SubtitleURL: "http://10.0.0.1:8888/subtitles",
			IsLocal:     true,
		},
		PollInterval: 10 * time.Millisecond,
		PollDelay:    pollDelay,
		SeekStep:     10 * time.Second,
	}, zerolog.Nop())
	return h
}

func (h *harness) run(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not finish")
		return nil
	}
}

func (h *harness) press(t *testing.T, keys ...console.Key) {
	t.Helper()
	for _, k := range keys {
		select {
		case h.keys.ch <- k:
		case <-time.After(5 * time.Second):
			t.Fatalf("key %s not consumed", k)
		}
	}
}

func transitionErr() error {
	return &domain.DeviceError{Service: "AVTransport", Action: "Play", Code: domain.ErrCodeTransitionNotAvailable}
}

func TestTransitionNotAvailableStopsThenRetriesOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	player := &fakePlayer{loadErrs: []error{transitionErr()}}
	h := newHarness(player, time.Hour)

	done := h.run(context.Background())
	h.press(t, console.KeyQuit)
	require.NoError(t, waitResult(t, done))

	calls := player.Calls()
	require.GreaterOrEqual(t, len(calls), 4)
	assert.Equal(t, []string{"load", "stop", "pause", "load"}, calls[:4])
	assert.Equal(t, 2, strings.Count(h.out.String(), "Stopped"))
	assert.Equal(t, player.urls[0], player.urls[1])
	assert.Equal(t, player.loads[0], player.loads[1])
	assert.True(t, player.loads[0].Autoplay)
}

func TestTransitionRetryIgnoresPauseFailure(t *testing.T) {
	player := &fakePlayer{
		loadErrs: []error{transitionErr()},
		pauseErr: &domain.DeviceError{Service: "AVTransport", Action: "Pause", Code: domain.ErrCodeTransitionNotAvailable},
	}
	h := newHarness(player, time.Hour)

	done := h.run(context.Background())
	h.press(t, console.KeyQuit)
	require.NoError(t, waitResult(t, done))

	calls := player.Calls()
	require.GreaterOrEqual(t, len(calls), 4)
	assert.Equal(t, []string{"load", "stop", "pause", "load"}, calls[:4])
	assert.Equal(t, StateStopped, h.ctrl.State())
}

func TestOtherPlayErrorIsFatalWithoutRetry(t *testing.T) {
	playErr := &domain.DeviceError{Service: "AVTransport", Action: "Play", Code: 716}
	player := &fakePlayer{loadErrs: []error{playErr}}
	h := newHarness(player, time.Hour)

	err := waitResult(t, h.run(context.Background()))
	require.ErrorIs(t, err, error(playErr))

	assert.Equal(t, []string{"load", "stop", "pause"}, player.Calls())
	assert.Equal(t, 1, h.server.count())
	assert.Equal(t, 1, h.keys.closed)
	assert.Equal(t, StateError, h.ctrl.State())
}

func TestTransitionRetriesAreBounded(t *testing.T) {
	player := &fakePlayer{loadErrs: []error{transitionErr(), transitionErr(), transitionErr(), transitionErr(), transitionErr()}}
	h := newHarness(player, time.Hour)

	err := waitResult(t, h.run(context.Background()))
	require.True(t, domain.IsDeviceErrorCode(err, domain.ErrCodeTransitionNotAvailable))

	loads := 0
	for _, c := range player.Calls() {
		if c == "load" {
			loads++
		}
	}
	assert.Equal(t, defaultMaxTransitionRetries+1, loads)
}

func TestSpaceTogglesPauseThenPlay(t *testing.T) {
	player := &fakePlayer{}
	h := newHarness(player, time.Hour)

	done := h.run(context.Background())
	initial := h.ctrl.Paused()
	h.press(t, console.KeySpace, console.KeySpace, console.KeyQuit)
	require.NoError(t, waitResult(t, done))

	assert.Equal(t, initial, h.ctrl.Paused())
	assert.Equal(t, []string{"load", "pause", "play", "stop", "pause"}, player.Calls())
}

func TestPauseErrorDuringPlaybackIsFatal(t *testing.T) {
	player := &fakePlayer{pauseErr: errors.New("connection refused")}
	h := newHarness(player, time.Hour)

	done := h.run(context.Background())
	h.press(t, console.KeySpace)
	err := waitResult(t, done)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 1, h.server.count())
}

func TestPolledStoppedShutsDown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	player := &fakePlayer{states: []string{control.StatePlaying, control.StateTransitioning, control.StateStopped}}
	h := newHarness(player, 10*time.Millisecond)

	require.NoError(t, waitResult(t, h.run(context.Background())))

	calls := player.Calls()
	polls := 0
	for _, c := range calls {
		if c == "transport-info" {
			polls++
		}
	}
	assert.Equal(t, 3, polls)
	assert.Equal(t, []string{"stop", "pause"}, calls[len(calls)-2:])
	assert.Equal(t, 1, h.server.count())
	assert.Equal(t, StateStopped, h.ctrl.State())
	assert.Contains(t, h.out.String(), "Stopped")
}

func TestPollErrorIsFatal(t *testing.T) {
	player := &fakePlayer{stateErr: errors.New("device unreachable")}
	h := newHarness(player, 10*time.Millisecond)

	err := waitResult(t, h.run(context.Background()))
	assert.ErrorContains(t, err, "device unreachable")
	assert.Equal(t, 1, h.server.count())
}

func TestVolumeKeysAdjustByOne(t *testing.T) {
	player := &fakePlayer{volume: 20}
	h := newHarness(player, time.Hour)

	done := h.run(context.Background())
	h.press(t, console.KeyUp, console.KeyDown, console.KeyQuit)
	require.NoError(t, waitResult(t, done))

	assert.Equal(t, []string{"load", "get-volume", "set-volume 21", "get-volume", "set-volume 19", "stop", "pause"}, player.Calls())
}

func TestVolumeErrorIsNotFatal(t *testing.T) {
	player := &fakePlayer{volumeErr: errors.New("GetVolume failed")}
	h := newHarness(player, time.Hour)

	done := h.run(context.Background())
	h.press(t, console.KeyUp, console.KeyQuit)
	require.NoError(t, waitResult(t, done))
	assert.Contains(t, h.out.String(), "GetVolume failed")
}

func TestRightSeeksForwardFromCurrentPosition(t *testing.T) {
	player := &fakePlayer{elapsed: 95}
	h := newHarness(player, time.Hour)

	done := h.run(context.Background())
	h.press(t, console.KeyRight, console.KeyInfo, console.KeyInterrupt)
	require.NoError(t, waitResult(t, done))

	assert.Equal(t, []string{"load", "position", "seek 105", "status", "stop", "pause"}, player.Calls())
	assert.Contains(t, h.out.String(), "00:01:45")
}

func TestContextCancelShutsDownOnce(t *testing.T) {
	player := &fakePlayer{}
	h := newHarness(player, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := h.run(ctx)
	require.Eventually(t, func() bool { return h.ctrl.State() == StatePlaying }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, waitResult(t, done))

	require.NoError(t, h.ctrl.Shutdown(context.Background()))
	assert.Equal(t, 1, h.server.count())
	assert.Equal(t, 1, h.keys.closed)
	assert.Equal(t, 1, strings.Count(h.out.String(), "Stopped"))
}

func TestAnnounceMentionsSubtitles(t *testing.T) {
	player := &fakePlayer{}
	h := newHarness(player, time.Hour)

	done := h.run(context.Background())
	h.press(t, console.KeyQuit)
	require.NoError(t, waitResult(t, done))
	assert.Contains(t, h.out.String(), "Sending movie.mp4 to Living Room with subtitles movie.srt")
	assert.Contains(t, h.out.String(), "Usage:")
}
