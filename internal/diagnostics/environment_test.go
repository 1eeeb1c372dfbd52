package diagnostics

import (
	"errors"
	"net"
	"os"
	"testing"
)

func stubEnvironment(t *testing.T) {
	t.Helper()
	origIP, origListen, origStat, origTerm := outboundIP, listenTCP, statFile, isTerminal
	t.Cleanup(func() {
		outboundIP = origIP
		listenTCP = origListen
		statFile = origStat
		isTerminal = origTerm
	})
	isTerminal = func(uintptr) bool { return false }
}

func TestDetectEnvironmentReady(t *testing.T) {
	stubEnvironment(t)

	outboundIP = func() (string, error) { return "192.168.1.20", nil }
	listenTCP = func(string) (net.Listener, error) {
		return net.Listen("tcp", "127.0.0.1:0")
	}
	statFile = func(name string) (os.FileInfo, error) {
		return nil, os.ErrNotExist
	}

	report := DetectEnvironment(8888, "/home/u/.config/dlnacast/config.ini")
	if report.OutboundIP.Address != "192.168.1.20" {
		t.Fatalf("unexpected outbound ip: %q", report.OutboundIP.Address)
	}
	if !report.MediaPort.Available || report.MediaPort.Port != 8888 {
		t.Fatalf("expected port 8888 to be available, got %+v", report.MediaPort)
	}
	if report.Config.Found {
		t.Fatal("expected config to be missing")
	}
	if !report.Ready {
		t.Fatal("expected report to be ready")
	}
}

func TestDetectEnvironmentPortBusy(t *testing.T) {
	stubEnvironment(t)

	outboundIP = func() (string, error) { return "", errors.New("no route") }
	listenTCP = func(string) (net.Listener, error) {
		return nil, errors.New("address already in use")
	}
	statFile = func(name string) (os.FileInfo, error) {
		return os.Stat(os.TempDir())
	}

	report := DetectEnvironment(8888, "/etc/dlnacast.ini")
	if report.OutboundIP.Error != "no route" {
		t.Fatalf("unexpected outbound error: %q", report.OutboundIP.Error)
	}
	if report.MediaPort.Available {
		t.Fatal("expected port to be unavailable")
	}
	if report.MediaPort.Error != "address already in use" {
		t.Fatalf("unexpected port error: %q", report.MediaPort.Error)
	}
	if !report.Config.Found {
		t.Fatal("expected config to be found")
	}
	if report.Ready {
		t.Fatal("expected report not to be ready")
	}
}
