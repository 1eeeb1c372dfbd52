package dlna

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"go2tv.app/go2tv/v2/utils"

	"github.com/alex/dlnacast/internal/adapters"
	"github.com/alex/dlnacast/internal/netutil"
)

// Bundle wires all UPnP-backed adapters in one place.
type Bundle struct {
	Prober adapters.Prober
	Dialer adapters.Dialer
}

func NewBundle(logger zerolog.Logger) Bundle {
	logger = logger.With().Str("component", "dlna").Logger()
	fetcher := &descriptionFetcher{client: netutil.NewRetryClient(logger)}

	return Bundle{
		Prober: &ssdpProber{
			search:  koronSearch,
			fetch:   fetcher.fetch,
			waitSec: 1,
			logger:  logger,
		},
		Dialer: adapters.DialerFunc(func(ctx context.Context, location string) (adapters.Connection, error) {
			root, err := fetcher.fetch(ctx, location)
			if err != nil {
				return nil, err
			}
			return newSOAPConnection(location, root), nil
		}),
	}
}

var listenAddressForDevice = utils.URLtoListenIPandPort

// ListenHost returns the local IP the renderer at location can reach us on.
func ListenHost(location string) (string, error) {
	addr, err := listenAddressForDevice(location)
	if err != nil {
		return "", err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	return host, nil
}

var (
	_ adapters.Prober     = (*ssdpProber)(nil)
	_ adapters.Connection = (*soapConnection)(nil)
)
