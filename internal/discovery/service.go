package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alex/dlnacast/internal/adapters"
	"github.com/alex/dlnacast/internal/domain"
)

const (
	defaultSettleWindow   = 2 * time.Second
	defaultWarmupInterval = time.Second
)

var ErrClosed = errors.New("device registry closed")

type Options struct {
	// SettleWindow is how long SearchPlayers waits on an empty registry.
	SettleWindow time.Duration
	// WarmupInterval spaces re-probes in Start until the first device appears.
	WarmupInterval time.Duration
	Logger         zerolog.Logger
}

// Registry turns discovery announcements into a deduplicated device list
// keyed by name. Devices are never removed.
type Registry struct {
	prober         adapters.Prober
	settleWindow   time.Duration
	warmupInterval time.Duration
	logger         zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	devices map[string]*domain.Device
	order   []string
	subs    map[int]func(domain.Device)
	nextSub int
	closed  bool
}

func NewRegistry(prober adapters.Prober, opts Options) *Registry {
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = defaultSettleWindow
	}
	if opts.WarmupInterval <= 0 {
		opts.WarmupInterval = defaultWarmupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		prober:         prober,
		settleWindow:   opts.SettleWindow,
		warmupInterval: opts.WarmupInterval,
		logger:         opts.Logger.With().Str("component", "discovery").Logger(),
		baseCtx:        ctx,
		cancel:         cancel,
		devices:        map[string]*domain.Device{},
		subs:           map[int]func(domain.Device){},
	}
}

// Subscribe registers fn for every newly confirmed device, that is one that
// carries a host. The returned func removes the subscription.
func (r *Registry) Subscribe(fn func(domain.Device)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Announce records one discovery response. Unseen names are stored and
// emitted if they carry a host; a known host-less record is filled in and
// emitted once the host arrives. Everything else is a no-op.
func (r *Registry) Announce(d domain.Device) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return
	}

	r.mu.Lock()
	emit := false
	existing, seen := r.devices[d.Name]
	switch {
	case !seen:
		stored := d
		r.devices[d.Name] = &stored
		r.order = append(r.order, d.Name)
		emit = d.HasHost()
	case !existing.HasHost() && d.HasHost():
		existing.Host = d.Host
		existing.Location = d.Location
		emit = true
	}
	var subs []func(domain.Device)
	if emit {
		d = *r.devices[d.Name]
		subs = make([]func(domain.Device), 0, len(r.subs))
		for _, fn := range r.subs {
			subs = append(subs, fn)
		}
	}
	r.mu.Unlock()

	if !emit {
		return
	}
	r.logger.Info().Str("device", d.Name).Str("host", d.Host).Msg("device_announced")
	for _, fn := range subs {
		fn(d)
	}
}

// Update starts one discovery probe in the background and returns at once.
func (r *Registry) Update() {
	r.mu.Lock()
	if r.closed || r.prober == nil {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if err := r.prober.Probe(r.baseCtx, r.Announce); err != nil && r.baseCtx.Err() == nil {
			r.logger.Debug().Err(err).Msg("probe_failed")
		}
	}()
}

// Devices returns a snapshot in discovery order.
func (r *Registry) Devices() []domain.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Device, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.devices[name])
	}
	return out
}

// SearchPlayers returns the known devices right away when there are any.
// Otherwise it probes and returns whatever arrived within the settle window,
// which may be nothing.
func (r *Registry) SearchPlayers(ctx context.Context) ([]domain.Device, error) {
	if devices := r.Devices(); len(devices) > 0 {
		return devices, nil
	}

	r.Update()

	timer := time.NewTimer(r.settleWindow)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return r.Devices(), nil
	}
}

// Start probes immediately and keeps re-probing every warmup interval until
// the first device is known, ctx ends or the registry is closed.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.warmupInterval)
		defer ticker.Stop()

		r.Update()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.baseCtx.Done():
				return
			case <-ticker.C:
				if r.hasDevices() {
					return
				}
				r.Update()
			}
		}
	}()
}

// Wait blocks until a device with a host is known. An empty name accepts the
// first such device; otherwise names are matched case-insensitively.
func (r *Registry) Wait(ctx context.Context, name string) (domain.Device, error) {
	name = strings.TrimSpace(name)
	match := func(d domain.Device) bool {
		return d.HasHost() && (name == "" || strings.EqualFold(d.Name, name))
	}

	found := make(chan domain.Device, 1)
	unsubscribe := r.Subscribe(func(d domain.Device) {
		if !match(d) {
			return
		}
		select {
		case found <- d:
		default:
		}
	})
	defer unsubscribe()

	for _, d := range r.Devices() {
		if match(d) {
			return d, nil
		}
	}

	select {
	case d := <-found:
		return d, nil
	case <-ctx.Done():
		return domain.Device{}, ctx.Err()
	case <-r.baseCtx.Done():
		return domain.Device{}, ErrClosed
	}
}

// Next returns the first device to become available.
func (r *Registry) Next(ctx context.Context) (domain.Device, error) {
	return r.Wait(ctx, "")
}

// Close stops background probing and waits for in-flight probes.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

func (r *Registry) hasDevices() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order) > 0
}
