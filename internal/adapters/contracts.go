package adapters

import (
	"context"

	"github.com/alex/dlnacast/internal/domain"
)

// Prober runs one best-effort discovery round, reporting every renderer it
// hears about through announce. Devices without a host are still reported.
type Prober interface {
	Probe(ctx context.Context, announce func(domain.Device)) error
}

// Connection dispatches UPnP control actions against one resolved device.
// in and out are structs of named arguments in wire order.
type Connection interface {
	CallAction(ctx context.Context, service, action string, in, out any) error
	Close() error
}

// Dialer resolves a device description into a Connection.
type Dialer interface {
	Dial(ctx context.Context, location string) (Connection, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, location string) (Connection, error)

func (f DialerFunc) Dial(ctx context.Context, location string) (Connection, error) {
	return f(ctx, location)
}
