package dlna

import (
	"context"
	"strings"

	"github.com/huin/goupnp"
	"github.com/koron/go-ssdp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/alex/dlnacast/internal/domain"
	"github.com/alex/dlnacast/internal/netutil"
)

const mediaRendererTarget = "urn:schemas-upnp-org:device:MediaRenderer:1"

type searchFunc func(searchType string, waitSec int, localAddr string) ([]ssdp.Service, error)

func koronSearch(searchType string, waitSec int, localAddr string) ([]ssdp.Service, error) {
	return ssdp.Search(searchType, waitSec, localAddr)
}

type ssdpProber struct {
	search  searchFunc
	fetch   func(ctx context.Context, location string) (*goupnp.RootDevice, error)
	waitSec int
	logger  zerolog.Logger
}

// Probe sends one M-SEARCH for MediaRenderers and announces every responder
// whose description carries a friendlyName.
func (p *ssdpProber) Probe(ctx context.Context, announce func(domain.Device)) error {
	waitSec := p.waitSec
	if waitSec <= 0 {
		waitSec = 1
	}

	services, err := p.search(mediaRendererTarget, waitSec, "")
	if err != nil {
		return errors.Wrap(err, "ssdp search")
	}
	p.logger.Debug().Int("responses", len(services)).Msg("ssdp_search_done")

	seen := make(map[string]bool, len(services))
	for _, svc := range services {
		if err := ctx.Err(); err != nil {
			return err
		}

		location := strings.TrimSpace(svc.Location)
		if location == "" || seen[location] {
			continue
		}
		seen[location] = true

		root, err := p.fetch(ctx, location)
		if err != nil {
			p.logger.Debug().Err(err).Str("location", location).Msg("description_fetch_failed")
			continue
		}
		name := strings.TrimSpace(root.Device.FriendlyName)
		if name == "" {
			continue
		}

		announce(domain.Device{
			Name:     name,
			Host:     netutil.HostOf(location),
			Location: location,
		})
	}
	return nil
}
