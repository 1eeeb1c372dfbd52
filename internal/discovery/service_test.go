package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/alex/dlnacast/internal/domain"
)

type fakeProber struct {
	calls atomic.Int32
	probe func(ctx context.Context, announce func(domain.Device)) error
}

func (f *fakeProber) Probe(ctx context.Context, announce func(domain.Device)) error {
	f.calls.Add(1)
	if f.probe == nil {
		return nil
	}
	return f.probe(ctx, announce)
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Device
}

func (l *eventLog) add(d domain.Device) {
	l.mu.Lock()
	l.events = append(l.events, d)
	l.mu.Unlock()
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestAnnounceSameDeviceTwiceEmitsOnce(t *testing.T) {
	reg := NewRegistry(nil, Options{})
	defer reg.Close()

	var log eventLog
	reg.Subscribe(log.add)

	tv := domain.Device{Name: "Bedroom TV", Host: "192.168.1.10", Location: "http://192.168.1.10:1400/desc.xml"}
	reg.Announce(tv)
	reg.Announce(tv)

	if got := len(reg.Devices()); got != 1 {
		t.Fatalf("expected one device record, got %d", got)
	}
	if got := log.len(); got != 1 {
		t.Fatalf("expected one notification, got %d", got)
	}
}

func TestAnnounceHostArrivalEmitsOnce(t *testing.T) {
	reg := NewRegistry(nil, Options{})
	defer reg.Close()

	var log eventLog
	reg.Subscribe(log.add)

	reg.Announce(domain.Device{Name: "Kitchen"})
	if got := log.len(); got != 0 {
		t.Fatalf("host-less device must not notify, got %d events", got)
	}

	reg.Announce(domain.Device{Name: "Kitchen", Host: "10.0.0.4", Location: "http://10.0.0.4/d.xml"})
	reg.Announce(domain.Device{Name: "Kitchen", Host: "10.0.0.9", Location: "http://10.0.0.9/d.xml"})

	devices := reg.Devices()
	if len(devices) != 1 {
		t.Fatalf("expected one record, got %d", len(devices))
	}
	if devices[0].Host != "10.0.0.4" {
		t.Fatalf("expected first host to stick, got %q", devices[0].Host)
	}
	if got := log.len(); got != 1 {
		t.Fatalf("expected exactly one notification, got %d", got)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	reg := NewRegistry(nil, Options{})
	defer reg.Close()

	var log eventLog
	unsubscribe := reg.Subscribe(log.add)
	unsubscribe()

	reg.Announce(domain.Device{Name: "TV", Host: "10.0.0.2"})
	if got := log.len(); got != 0 {
		t.Fatalf("expected no notifications after unsubscribe, got %d", got)
	}
}

func TestSearchPlayersReturnsKnownDevicesImmediately(t *testing.T) {
	prober := &fakeProber{}
	reg := NewRegistry(prober, Options{SettleWindow: time.Hour})
	defer reg.Close()

	reg.Announce(domain.Device{Name: "TV", Host: "10.0.0.2"})

	devices, err := reg.SearchPlayers(context.Background())
	if err != nil {
		t.Fatalf("search players: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	if prober.calls.Load() != 0 {
		t.Fatalf("expected no probe when devices are known")
	}
}

func TestSearchPlayersWaitsSettleWindow(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	prober := &fakeProber{
		probe: func(_ context.Context, announce func(domain.Device)) error {
			announce(domain.Device{Name: "Projector", Host: "10.0.0.8", Location: "http://10.0.0.8/d.xml"})
			return nil
		},
	}
	reg := NewRegistry(prober, Options{SettleWindow: 50 * time.Millisecond})
	defer reg.Close()

	start := time.Now()
	devices, err := reg.SearchPlayers(context.Background())
	if err != nil {
		t.Fatalf("search players: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("returned before settle window: %s", elapsed)
	}
	if len(devices) != 1 || devices[0].Name != "Projector" {
		t.Fatalf("unexpected devices: %+v", devices)
	}
}

func TestSearchPlayersEmptyIsNotAnError(t *testing.T) {
	prober := &fakeProber{}
	reg := NewRegistry(prober, Options{SettleWindow: 20 * time.Millisecond})
	defer reg.Close()

	devices, err := reg.SearchPlayers(context.Background())
	if err != nil {
		t.Fatalf("search players: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected no devices, got %+v", devices)
	}
}

func TestStartReprobesUntilFirstDevice(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	prober := &fakeProber{}
	prober.probe = func(_ context.Context, announce func(domain.Device)) error {
		if prober.calls.Load() >= 3 {
			announce(domain.Device{Name: "Late TV", Host: "10.0.0.3"})
		}
		return nil
	}

	reg := NewRegistry(prober, Options{WarmupInterval: 10 * time.Millisecond})
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg.Start(ctx)

	d, err := reg.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if d.Name != "Late TV" {
		t.Fatalf("unexpected device %+v", d)
	}

	time.Sleep(60 * time.Millisecond)
	calls := prober.calls.Load()
	time.Sleep(60 * time.Millisecond)
	if prober.calls.Load() != calls {
		t.Fatalf("expected probing to stop after first device")
	}
}

func TestWaitMatchesPreferredName(t *testing.T) {
	reg := NewRegistry(nil, Options{})
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan domain.Device, 1)
	go func() {
		d, err := reg.Wait(ctx, "living room")
		if err == nil {
			result <- d
		}
		close(result)
	}()

	time.Sleep(20 * time.Millisecond)
	reg.Announce(domain.Device{Name: "Bedroom", Host: "10.0.0.2"})
	reg.Announce(domain.Device{Name: "Living Room", Host: "10.0.0.3"})

	d, ok := <-result
	if !ok || d.Name != "Living Room" {
		t.Fatalf("expected Living Room, got %+v", d)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	reg := NewRegistry(nil, Options{})
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := reg.Next(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
