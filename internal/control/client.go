// Package control issues UPnP AVTransport, RenderingControl and
// ConnectionManager actions against one renderer.
package control

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/alex/dlnacast/internal/adapters"
	"github.com/alex/dlnacast/internal/didl"
	"github.com/alex/dlnacast/internal/domain"
)

const (
	serviceAVTransport       = "AVTransport"
	serviceRenderingControl  = "RenderingControl"
	serviceConnectionManager = "ConnectionManager"

	defaultInstanceID = "0"
	masterChannel     = "Master"
	maxVolume         = 100
)

// Client wraps the action surface of one renderer. The underlying connection
// is opened on the first action and dropped on any transport failure; the
// next action dials again.
type Client struct {
	device domain.Device
	dialer adapters.Dialer
	logger zerolog.Logger

	mu         sync.Mutex
	conn       adapters.Connection
	instanceID string
}

func NewClient(device domain.Device, dialer adapters.Dialer, logger zerolog.Logger) *Client {
	return &Client{
		device:     device,
		dialer:     dialer,
		logger:     logger.With().Str("component", "control").Str("device", device.Name).Logger(),
		instanceID: defaultInstanceID,
	}
}

func (c *Client) Device() domain.Device {
	return c.device
}

// InstanceID is the AVTransport instance every action targets.
func (c *Client) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceID
}

func (c *Client) connection(ctx context.Context) (adapters.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	if c.dialer == nil {
		return nil, errors.New("no dialer configured")
	}
	conn, err := c.dialer.Dial(ctx, c.device.Location)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", c.device.Name)
	}
	c.conn = conn
	c.logger.Debug().Str("location", c.device.Location).Msg("connected")
	return conn, nil
}

func (c *Client) drop(conn adapters.Connection) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Debug().Msg("disconnected")
}

// call dispatches one action. Device-reported faults leave the connection in
// place; anything else tears it down.
func (c *Client) call(ctx context.Context, service, action string, in, out any) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}

	err = conn.CallAction(ctx, service, action, in, out)
	if err == nil {
		return nil
	}
	if _, ok := domain.DeviceErrorCode(err); !ok {
		c.drop(conn)
	}
	return err
}

// Close drops the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

type prepareForConnectionArgs struct {
	RemoteProtocolInfo    string
	PeerConnectionManager string
	PeerConnectionID      string
	Direction             string
}

type prepareForConnectionResult struct {
	ConnectionID  string
	AVTransportID string
	RcsID         string
}

// PrepareConnection negotiates a connection for protocolInfo and adopts the
// returned AVTransport instance. Devices without the optional action keep
// instance 0.
func (c *Client) PrepareConnection(ctx context.Context, protocolInfo string) error {
	in := prepareForConnectionArgs{
		RemoteProtocolInfo: protocolInfo,
		PeerConnectionID:   "-1",
		Direction:          "Input",
	}
	var out prepareForConnectionResult
	err := c.call(ctx, serviceConnectionManager, "PrepareForConnection", &in, &out)
	if err != nil {
		if domain.IsDeviceErrorCode(err, domain.ErrCodeInvalidAction, domain.ErrCodeActionNotImplemented) {
			c.logger.Debug().Msg("prepare_for_connection_unsupported")
			return nil
		}
		return err
	}

	if out.AVTransportID != "" {
		c.mu.Lock()
		c.instanceID = out.AVTransportID
		c.mu.Unlock()
	}
	return nil
}

type LoadOptions struct {
	ContentType string
	Title       string
	// Kind is audio, video or image.
	Kind        string
	SubtitleURL string
	IsLocal     bool
	Autoplay    bool
	// Seek, when positive, is applied in seconds after a successful load.
	Seek int
}

type setAVTransportURIArgs struct {
	InstanceID         string
	CurrentURI         string
	CurrentURIMetaData string
}

// Load prepares a connection, hands url and its DIDL-Lite metadata to the
// renderer and optionally starts playback.
func (c *Client) Load(ctx context.Context, url string, opts LoadOptions) error {
	protocolInfo := didl.ProtocolInfo(opts.ContentType, opts.IsLocal)
	metadata, err := didl.Encode(didl.Metadata{
		Title:        opts.Title,
		URL:          url,
		ProtocolInfo: protocolInfo,
		Kind:         opts.Kind,
		SubtitleURL:  opts.SubtitleURL,
	})
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}

	if err := c.PrepareConnection(ctx, protocolInfo); err != nil {
		return err
	}

	in := setAVTransportURIArgs{
		InstanceID:         c.InstanceID(),
		CurrentURI:         url,
		CurrentURIMetaData: metadata,
	}
	if err := c.call(ctx, serviceAVTransport, "SetAVTransportURI", &in, nil); err != nil {
		return err
	}
	c.logger.Info().Str("url", url).Str("protocol_info", protocolInfo).Msg("uri_loaded")

	if opts.Autoplay {
		if err := c.Play(ctx); err != nil {
			return err
		}
	}
	if opts.Seek > 0 {
		return c.Seek(ctx, opts.Seek)
	}
	return nil
}

type instanceArgs struct {
	InstanceID string
}

type playArgs struct {
	InstanceID string
	Speed      string
}

func (c *Client) Play(ctx context.Context) error {
	return c.call(ctx, serviceAVTransport, "Play", &playArgs{InstanceID: c.InstanceID(), Speed: "1"}, nil)
}

func (c *Client) Pause(ctx context.Context) error {
	return c.call(ctx, serviceAVTransport, "Pause", &instanceArgs{InstanceID: c.InstanceID()}, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, serviceAVTransport, "Stop", &instanceArgs{InstanceID: c.InstanceID()}, nil)
}

type seekArgs struct {
	InstanceID string
	Unit       string
	Target     string
}

// Seek jumps to an absolute track position given in seconds.
func (c *Client) Seek(ctx context.Context, seconds int) error {
	in := seekArgs{
		InstanceID: c.InstanceID(),
		Unit:       "REL_TIME",
		Target:     FormatTime(seconds),
	}
	return c.call(ctx, serviceAVTransport, "Seek", &in, nil)
}

type volumeArgs struct {
	InstanceID string
	Channel    string
}

type getVolumeResult struct {
	CurrentVolume string
}

type setVolumeArgs struct {
	InstanceID    string
	Channel       string
	DesiredVolume string
}

func (c *Client) GetVolume(ctx context.Context) (int, error) {
	var out getVolumeResult
	in := volumeArgs{InstanceID: c.InstanceID(), Channel: masterChannel}
	if err := c.call(ctx, serviceRenderingControl, "GetVolume", &in, &out); err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(out.CurrentVolume)
	if err != nil {
		return 0, errors.Wrapf(err, "parse volume %q", out.CurrentVolume)
	}
	return v, nil
}

// SetVolume clamps level into 0..100 before sending it.
func (c *Client) SetVolume(ctx context.Context, level int) error {
	level = clampVolume(level)
	in := setVolumeArgs{
		InstanceID:    c.InstanceID(),
		Channel:       masterChannel,
		DesiredVolume: strconv.Itoa(level),
	}
	return c.call(ctx, serviceRenderingControl, "SetVolume", &in, nil)
}

func clampVolume(level int) int {
	if level < 0 {
		return 0
	}
	if level > maxVolume {
		return maxVolume
	}
	return level
}
