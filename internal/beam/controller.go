// Package beam runs one casting session: load and play on the renderer, poll
// its transport state, map keypresses to control actions and shut everything
// down through a single path.
package beam

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alex/dlnacast/internal/console"
	"github.com/alex/dlnacast/internal/control"
	"github.com/alex/dlnacast/internal/domain"
	"github.com/alex/dlnacast/internal/lifecycle"
)

const (
	defaultPollInterval         = 1500 * time.Millisecond
	defaultPollDelay            = 3 * time.Second
	defaultSeekStep             = 10 * time.Second
	defaultMaxTransitionRetries = 3
	shutdownTimeout             = 5 * time.Second
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// Player is the subset of the control client a session drives.
type Player interface {
	Load(ctx context.Context, url string, opts control.LoadOptions) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, seconds int) error
	GetVolume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, level int) error
	GetTransportInfo(ctx context.Context) (control.TransportInfo, error)
	GetPositionInfo(ctx context.Context) (control.PositionInfo, error)
	Status(ctx context.Context) (control.Status, error)
}

type MediaServer interface {
	Shutdown(ctx context.Context) error
}

type KeyInput interface {
	Keys() <-chan console.Key
	Close() error
}

type Session struct {
	DeviceName string
	MediaURL   string
	// VideoLabel and SubtitleLabel are what the user passed in, for display.
	VideoLabel    string
	SubtitleLabel string
	Load          control.LoadOptions

	PollInterval time.Duration
	PollDelay    time.Duration
	SeekStep     time.Duration
	// MaxTransitionRetries bounds stop-and-retry rounds on a 701 from play.
	MaxTransitionRetries int
}

type Controller struct {
	player  Player
	server  MediaServer
	keys    KeyInput
	printer *console.Printer
	logger  zerolog.Logger
	session Session

	shutdown *lifecycle.Sequence

	mu     sync.Mutex
	state  State
	paused bool
}

func NewController(player Player, server MediaServer, keys KeyInput, printer *console.Printer, session Session, logger zerolog.Logger) *Controller {
	if session.PollInterval <= 0 {
		session.PollInterval = defaultPollInterval
	}
	if session.PollDelay <= 0 {
		session.PollDelay = defaultPollDelay
	}
	if session.SeekStep <= 0 {
		session.SeekStep = defaultSeekStep
	}
	if session.MaxTransitionRetries <= 0 {
		session.MaxTransitionRetries = defaultMaxTransitionRetries
	}

	c := &Controller{
		player:  player,
		server:  server,
		keys:    keys,
		printer: printer,
		session: session,
		state:   StateIdle,
		logger: logger.With().
			Str("component", "session").
			Str("session", uuid.NewString()).
			Str("device", session.DeviceName).
			Logger(),
	}
	c.shutdown = lifecycle.NewSequence(shutdownTimeout, c.logger,
		lifecycle.Step{Name: "stop", Run: c.player.Stop},
		lifecycle.Step{Name: "announce", Run: func(context.Context) error {
			c.printer.Println(c.printer.Red("Stopped"))
			return nil
		}},
		lifecycle.Step{Name: "pause", Run: func(ctx context.Context) error {
			c.pauseAfterStop(ctx)
			return nil
		}},
		lifecycle.Step{Name: "keys", Run: func(context.Context) error {
			if c.keys == nil {
				return nil
			}
			return c.keys.Close()
		}},
		lifecycle.Step{Name: "server", Run: func(ctx context.Context) error {
			if c.server == nil {
				return nil
			}
			return c.server.Shutdown(ctx)
		}},
	)
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Paused reports the locally tracked pause flag. It only follows the space
// key and may disagree with the device.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("session_state")
	}
}

// Shutdown stops the session through the single shutdown path. Safe to call
// from any goroutine and more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	err := c.shutdown.Run(ctx)
	c.mu.Lock()
	if c.state != StateError {
		c.state = StateStopped
	}
	c.mu.Unlock()
	return err
}

// Run drives the session until the device stops, the user quits or ctx ends,
// in which case it returns nil after shutting down. A load, play or poll
// failure shuts down too and is returned.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(StateLoading)
	c.announce()

	if err := c.load(ctx); err != nil {
		if ctx.Err() != nil {
			_ = c.Shutdown(ctx)
			return nil
		}
		return c.fail(ctx, err)
	}
	c.setState(StatePlaying)
	c.printUsage()

	delay := time.NewTimer(c.session.PollDelay)
	defer delay.Stop()
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	var keys <-chan console.Key
	if c.keys != nil {
		keys = c.keys.Keys()
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("session_cancelled")
			_ = c.Shutdown(ctx)
			return nil

		case <-delay.C:
			ticker = time.NewTicker(c.session.PollInterval)
			tick = ticker.C
			if done, err := c.poll(ctx); done || err != nil {
				return err
			}

		case <-tick:
			if done, err := c.poll(ctx); done || err != nil {
				return err
			}

		case key, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if done, err := c.handleKey(ctx, key); done || err != nil {
				return err
			}
		}
	}
}

func (c *Controller) announce() {
	p := c.printer
	line := "Sending " + p.Blue(c.session.VideoLabel) + " to " + p.Blue(c.session.DeviceName)
	if c.session.SubtitleLabel != "" {
		line += " with subtitles " + p.Blue(c.session.SubtitleLabel)
	}
	p.Println(line)
	c.logger.Info().Str("url", c.session.MediaURL).Msg("session_start")
}

func (c *Controller) printUsage() {
	p := c.printer
	p.Println("\nUsage:")
	p.Printf("Press %s to Play/Pause", p.Blue("<Space>"))
	p.Printf("Press %s to VolUp/VolDown", p.Blue("<Up/Down>"))
	p.Printf("Press %s to seek forward %s", p.Blue("<Right>"), c.session.SeekStep)
	p.Printf("Press %s for device status", p.Blue("i"))
	p.Printf("Press %s to quit", p.Blue("q"))
}

// load issues the autoplay load. A "transition not available" fault stops
// and pauses the transport, then retries the identical load a bounded
// number of times.
func (c *Controller) load(ctx context.Context) error {
	opts := c.session.Load
	opts.Autoplay = true

	for attempt := 0; ; attempt++ {
		err := c.player.Load(ctx, c.session.MediaURL, opts)
		if err == nil {
			return nil
		}
		c.printer.Println(err.Error())

		if !domain.IsDeviceErrorCode(err, domain.ErrCodeTransitionNotAvailable) || attempt >= c.session.MaxTransitionRetries {
			return err
		}
		c.logger.Info().Int("attempt", attempt+1).Msg("transition_not_available_retry")

		if err := c.player.Stop(ctx); err != nil {
			return err
		}
		c.printer.Println(c.printer.Red("Stopped"))
		c.pauseAfterStop(ctx)
	}
}

// pauseAfterStop follows a Stop the way every stop in a session does. It
// fails on devices that are already idle, which is only logged.
func (c *Controller) pauseAfterStop(ctx context.Context) {
	if err := c.player.Pause(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("pause_after_stop_failed")
	}
}

// poll reports done when the device reached STOPPED and the session was
// shut down.
func (c *Controller) poll(ctx context.Context) (bool, error) {
	info, err := c.player.GetTransportInfo(ctx)
	if err != nil {
		return true, c.fail(ctx, err)
	}
	c.logger.Debug().Str("state", info.CurrentTransportState).Msg("transport_state")

	if info.CurrentTransportState == control.StateStopped {
		c.logger.Info().Msg("device_stopped")
		_ = c.Shutdown(ctx)
		return true, nil
	}
	return false, nil
}

func (c *Controller) handleKey(ctx context.Context, key console.Key) (bool, error) {
	c.logger.Debug().Stringer("key", key).Msg("key")

	switch key {
	case console.KeyQuit, console.KeyInterrupt:
		_ = c.Shutdown(ctx)
		return true, nil

	case console.KeySpace:
		if err := c.togglePause(ctx); err != nil {
			return true, c.fail(ctx, err)
		}

	case console.KeyUp:
		c.adjustVolume(ctx, 1)

	case console.KeyDown:
		c.adjustVolume(ctx, -1)

	case console.KeyRight:
		c.seekForward(ctx)

	case console.KeyInfo:
		c.printStatus(ctx)
	}
	return false, nil
}

// togglePause alternates pause and play from the local flag alone.
func (c *Controller) togglePause(ctx context.Context) error {
	if c.Paused() {
		if err := c.player.Play(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		c.paused = false
		c.mu.Unlock()
		c.setState(StatePlaying)
		return nil
	}

	if err := c.player.Pause(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.setState(StatePaused)
	return nil
}

func (c *Controller) adjustVolume(ctx context.Context, delta int) {
	current, err := c.player.GetVolume(ctx)
	if err != nil {
		c.printer.Println(err.Error())
		return
	}
	if err := c.player.SetVolume(ctx, current+delta); err != nil {
		c.printer.Println(err.Error())
		return
	}
	c.logger.Debug().Int("volume", current+delta).Msg("volume_set")
}

func (c *Controller) seekForward(ctx context.Context) {
	pos, err := c.player.GetPositionInfo(ctx)
	if err != nil {
		c.printer.Println(err.Error())
		return
	}
	target := pos.Elapsed + int(c.session.SeekStep/time.Second)
	if err := c.player.Seek(ctx, target); err != nil {
		c.printer.Println(err.Error())
		return
	}
	c.printer.Printf("Seeking to %s", c.printer.Blue(control.FormatTime(target)))
}

func (c *Controller) printStatus(ctx context.Context) {
	st, err := c.player.Status(ctx)
	if err != nil {
		c.printer.Println(err.Error())
		return
	}

	p := c.printer
	p.Printf("State:    %s (%s)", st.Transport.CurrentTransportState, st.Transport.CurrentTransportStatus)
	p.Printf("Position: %s / %s", control.FormatTime(st.Position.Elapsed), st.Position.TrackDuration)
	p.Printf("Volume:   %d", st.Volume)
	p.Printf("Media:    %s (%s tracks, %s)", st.Media.CurrentURI, st.Media.NrTracks, st.Media.MediaDuration)
	p.Printf("Playmode: %s", st.Settings.PlayMode)
	p.Printf("Plays:    %s", st.Capabilities.PlayMedia)
	formats := make([]string, 0, len(st.Protocols))
	for _, proto := range st.Protocols {
		formats = append(formats, proto.ContentFormat)
	}
	p.Printf("Accepts:  %d formats %v", len(formats), formats)
}

func (c *Controller) fail(ctx context.Context, err error) error {
	c.setState(StateError)
	c.printer.Errorf("%v", err)
	c.logger.Error().Err(err).Msg("session_failed")
	_ = c.Shutdown(ctx)
	return err
}
