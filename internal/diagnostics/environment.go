package diagnostics

import (
	"net"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"

	"github.com/alex/dlnacast/internal/netutil"
)

var (
	outboundIP = netutil.OutboundIP
	listenTCP  = func(address string) (net.Listener, error) {
		return net.Listen("tcp", address)
	}
	statFile   = os.Stat
	isTerminal = isatty.IsTerminal
)

type AddressStatus struct {
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

type PortStatus struct {
	Port      int    `json:"port"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type FileStatus struct {
	Path  string `json:"path,omitempty"`
	Found bool   `json:"found"`
}

// EnvironmentReport describes whether this host can serve media to a renderer.
type EnvironmentReport struct {
	OutboundIP    AddressStatus `json:"outbound_ip"`
	MediaPort     PortStatus    `json:"media_port"`
	Config        FileStatus    `json:"config"`
	StdinTerminal bool          `json:"stdin_terminal"`
	Ready         bool          `json:"ready"`
}

func DetectEnvironment(port int, configPath string) EnvironmentReport {
	var report EnvironmentReport

	if ip, err := outboundIP(); err != nil {
		report.OutboundIP.Error = err.Error()
	} else {
		report.OutboundIP.Address = ip
	}

	report.MediaPort = detectPort(port)

	report.Config.Path = configPath
	if configPath != "" {
		if _, err := statFile(configPath); err == nil {
			report.Config.Found = true
		}
	}

	report.StdinTerminal = isTerminal(os.Stdin.Fd())
	report.Ready = report.OutboundIP.Error == "" && report.MediaPort.Available
	return report
}

func detectPort(port int) PortStatus {
	status := PortStatus{Port: port}
	ln, err := listenTCP(":" + strconv.Itoa(port))
	if err != nil {
		status.Error = err.Error()
		return status
	}
	_ = ln.Close()
	status.Available = true
	return status
}
