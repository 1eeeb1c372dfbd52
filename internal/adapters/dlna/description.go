package dlna

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/huin/goupnp"
	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
)

type descriptionFetcher struct {
	client *retryablehttp.Client
}

// fetch downloads and decodes a root device description, resolving every
// service URL against URLBase or the description location.
func (f *descriptionFetcher) fetch(ctx context.Context, location string) (*goupnp.RootDevice, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrapf(err, "parse description location %q", location)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, loc.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build description request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch description %s", location)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch description %s: status %d", location, resp.StatusCode)
	}

	root := new(goupnp.RootDevice)
	decoder := xml.NewDecoder(resp.Body)
	decoder.CharsetReader = charset.NewReaderLabel
	if err := decoder.Decode(root); err != nil {
		return nil, errors.Wrapf(err, "decode description %s", location)
	}

	base := loc
	if root.URLBaseStr != "" {
		if parsed, err := url.Parse(root.URLBaseStr); err == nil {
			base = parsed
		}
	}
	root.SetURLBase(base)
	return root, nil
}
