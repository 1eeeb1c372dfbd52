package dlna

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex/dlnacast/internal/domain"
	"github.com/alex/dlnacast/internal/netutil"
)

const testDescription = `<?xml version="1.0" encoding="utf-8"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Living Room TV</friendlyName>
    <UDN>uuid:test-renderer</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
        <controlURL>/control/avt</controlURL>
        <eventSubURL>/event/avt</eventSubURL>
        <SCPDURL>/avt.xml</SCPDURL>
      </service>
    </serviceList>
  </device>
</root>`

const transportInfoResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <u:GetTransportInfoResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">
      <CurrentTransportState>PLAYING</CurrentTransportState>
      <CurrentTransportStatus>OK</CurrentTransportStatus>
      <CurrentSpeed>1</CurrentSpeed>
    </u:GetTransportInfoResponse>
  </s:Body>
</s:Envelope>`

const transitionFault = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>701</errorCode>
          <errorDescription>Transition not available</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`

func newRendererServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/description.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, testDescription)
	})
	mux.HandleFunc("/control/avt", func(w http.ResponseWriter, r *http.Request) {
		action := r.Header.Get("SOAPACTION")
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		switch {
		case strings.Contains(action, "#GetTransportInfo"):
			_, _ = io.WriteString(w, transportInfoResponse)
		case strings.Contains(action, "#Play"):
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, transitionFault)
		default:
			http.Error(w, fmt.Sprintf("unexpected action %s", action), http.StatusBadRequest)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialTestRenderer(t *testing.T) *soapConnection {
	t.Helper()

	srv := newRendererServer(t)
	fetcher := &descriptionFetcher{client: netutil.NewRetryClient(zerolog.Nop())}
	root, err := fetcher.fetch(context.Background(), srv.URL+"/description.xml")
	require.NoError(t, err)
	assert.Equal(t, "Living Room TV", root.Device.FriendlyName)

	return newSOAPConnection(srv.URL+"/description.xml", root)
}

func TestCallActionDecodesResponse(t *testing.T) {
	conn := dialTestRenderer(t)
	defer conn.Close()

	in := struct{ InstanceID string }{InstanceID: "0"}
	var out struct {
		CurrentTransportState  string
		CurrentTransportStatus string
		CurrentSpeed           string
	}
	require.NoError(t, conn.CallAction(context.Background(), "AVTransport", "GetTransportInfo", &in, &out))
	assert.Equal(t, "PLAYING", out.CurrentTransportState)
	assert.Equal(t, "OK", out.CurrentTransportStatus)
	assert.Equal(t, "1", out.CurrentSpeed)
}

func TestCallActionMapsFaultToDeviceError(t *testing.T) {
	conn := dialTestRenderer(t)

	in := struct{ InstanceID, Speed string }{InstanceID: "0", Speed: "1"}
	err := conn.CallAction(context.Background(), "AVTransport", "Play", &in, nil)
	require.Error(t, err)

	code, ok := domain.DeviceErrorCode(err)
	require.True(t, ok, "expected device error, got %v", err)
	assert.Equal(t, domain.ErrCodeTransitionNotAvailable, code)
	assert.Contains(t, err.Error(), "Transition not available")
}

func TestCallActionUnknownServiceIsInvalidAction(t *testing.T) {
	conn := dialTestRenderer(t)

	err := conn.CallAction(context.Background(), "ConnectionManager", "PrepareForConnection", nil, nil)
	assert.True(t, domain.IsDeviceErrorCode(err, domain.ErrCodeInvalidAction))
}

func TestServiceName(t *testing.T) {
	tests := map[string]string{
		"urn:schemas-upnp-org:service:AVTransport:1":       "AVTransport",
		"urn:schemas-upnp-org:service:RenderingControl:3":  "RenderingControl",
		"urn:schemas-upnp-org:service:ConnectionManager:1": "ConnectionManager",
		"garbage": "",
	}
	for in, want := range tests {
		assert.Equal(t, want, serviceName(in), in)
	}
}

func TestFetchRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	fetcher := &descriptionFetcher{client: netutil.NewRetryClient(zerolog.Nop())}
	_, err := fetcher.fetch(context.Background(), srv.URL+"/missing.xml")
	assert.Error(t, err)
}
