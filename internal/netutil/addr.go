package netutil

import (
	"net"
	"net/url"
	"strings"
)

// probeAddr is never contacted; dialing UDP only selects a route.
const probeAddr = "192.0.2.1:9"

var dialUDP = func(address string) (net.Conn, error) {
	return net.Dial("udp4", address)
}

// OutboundIP returns the local address the host would use to reach the LAN.
// Falls back to the first non-loopback IPv4 interface address.
func OutboundIP() (string, error) {
	conn, err := dialUDP(probeAddr)
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsUnspecified() {
			return addr.IP.String(), nil
		}
	}

	addrs, ifErr := net.InterfaceAddrs()
	if ifErr != nil {
		if err != nil {
			return "", err
		}
		return "", ifErr
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "127.0.0.1", nil
}

// HostOf returns the bare host of a URL, or "" when it has none.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return u.Hostname()
}
