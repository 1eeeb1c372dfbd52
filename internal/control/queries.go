package control

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const notImplemented = "NOT_IMPLEMENTED"

// Transport states reported by GetTransportInfo.
const (
	StateStopped         = "STOPPED"
	StatePlaying         = "PLAYING"
	StatePaused          = "PAUSED_PLAYBACK"
	StateTransitioning   = "TRANSITIONING"
	StateNoMediaPresent  = "NO_MEDIA_PRESENT"
	StatePausedRecording = "PAUSED_RECORDING"
	StateRecording       = "RECORDING"
)

type TransportInfo struct {
	CurrentTransportState  string
	CurrentTransportStatus string
	CurrentSpeed           string
}

func (c *Client) GetTransportInfo(ctx context.Context) (TransportInfo, error) {
	var out TransportInfo
	err := c.call(ctx, serviceAVTransport, "GetTransportInfo", &instanceArgs{InstanceID: c.InstanceID()}, &out)
	return out, err
}

type PositionInfo struct {
	Track         string
	TrackDuration string
	TrackMetaData string
	TrackURI      string
	RelTime       string
	AbsTime       string
	RelCount      string
	AbsCount      string

	// Elapsed is AbsTime in seconds, or RelTime when the device does not
	// implement absolute time.
	Elapsed int `xml:"-"`
}

func (c *Client) GetPositionInfo(ctx context.Context) (PositionInfo, error) {
	var out PositionInfo
	if err := c.call(ctx, serviceAVTransport, "GetPositionInfo", &instanceArgs{InstanceID: c.InstanceID()}, &out); err != nil {
		return PositionInfo{}, err
	}

	raw := out.AbsTime
	if raw == "" || raw == notImplemented {
		raw = out.RelTime
	}
	elapsed, err := ParseTime(raw)
	if err != nil {
		return out, errors.Wrap(err, "position")
	}
	out.Elapsed = elapsed
	return out, nil
}

type TransportSettings struct {
	PlayMode       string
	RecQualityMode string
}

func (c *Client) GetTransportSettings(ctx context.Context) (TransportSettings, error) {
	var out TransportSettings
	err := c.call(ctx, serviceAVTransport, "GetTransportSettings", &instanceArgs{InstanceID: c.InstanceID()}, &out)
	return out, err
}

type DeviceCapabilities struct {
	PlayMedia       string
	RecMedia        string
	RecQualityModes string
}

func (c *Client) GetDeviceCapabilities(ctx context.Context) (DeviceCapabilities, error) {
	var out DeviceCapabilities
	err := c.call(ctx, serviceAVTransport, "GetDeviceCapabilities", &instanceArgs{InstanceID: c.InstanceID()}, &out)
	return out, err
}

type MediaInfo struct {
	NrTracks           string
	MediaDuration      string
	CurrentURI         string
	CurrentURIMetaData string
	NextURI            string
	NextURIMetaData    string
	PlayMedium         string
	RecordMedium       string
	WriteStatus        string
}

func (c *Client) GetMediaInfo(ctx context.Context) (MediaInfo, error) {
	var out MediaInfo
	err := c.call(ctx, serviceAVTransport, "GetMediaInfo", &instanceArgs{InstanceID: c.InstanceID()}, &out)
	return out, err
}

// Protocol is one entry of a ConnectionManager protocolInfo list.
type Protocol struct {
	Protocol       string
	Network        string
	ContentFormat  string
	AdditionalInfo string
}

type protocolInfoResult struct {
	Source string
	Sink   string
}

// GetSupportedProtocols lists what the renderer accepts as a sink.
func (c *Client) GetSupportedProtocols(ctx context.Context) ([]Protocol, error) {
	var out protocolInfoResult
	if err := c.call(ctx, serviceConnectionManager, "GetProtocolInfo", nil, &out); err != nil {
		return nil, err
	}
	return ParseProtocols(out.Sink), nil
}

func ParseProtocols(list string) []Protocol {
	var protocols []Protocol
	for _, line := range strings.Split(list, ",") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 4)
		for len(parts) < 4 {
			parts = append(parts, "")
		}
		protocols = append(protocols, Protocol{
			Protocol:       parts[0],
			Network:        parts[1],
			ContentFormat:  parts[2],
			AdditionalInfo: parts[3],
		})
	}
	return protocols
}

// Status is the combined answer of every read-only query.
type Status struct {
	Protocols    []Protocol
	Position     PositionInfo
	Transport    TransportInfo
	Settings     TransportSettings
	Capabilities DeviceCapabilities
	Media        MediaInfo
	Volume       int
}

// Status runs all read-only queries concurrently and fails with the first
// error any of them returns.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		st.Protocols, err = c.GetSupportedProtocols(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.Position, err = c.GetPositionInfo(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.Transport, err = c.GetTransportInfo(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.Settings, err = c.GetTransportSettings(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.Capabilities, err = c.GetDeviceCapabilities(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.Media, err = c.GetMediaInfo(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.Volume, err = c.GetVolume(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return Status{}, err
	}
	return st, nil
}
