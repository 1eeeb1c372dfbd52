package dlna

import (
	"context"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/soap"
	"github.com/pkg/errors"

	"github.com/alex/dlnacast/internal/domain"
)

type soapConnection struct {
	location   string
	clients    map[string]*soap.SOAPClient
	namespaces map[string]string
}

func newSOAPConnection(location string, root *goupnp.RootDevice) *soapConnection {
	conn := &soapConnection{
		location:   location,
		clients:    map[string]*soap.SOAPClient{},
		namespaces: map[string]string{},
	}
	root.Device.VisitServices(func(srv *goupnp.Service) {
		name := serviceName(srv.ServiceType)
		if name == "" {
			return
		}
		if _, exists := conn.clients[name]; exists {
			return
		}
		conn.clients[name] = srv.NewSOAPClient()
		conn.namespaces[name] = srv.ServiceType
	})
	return conn
}

func (c *soapConnection) CallAction(ctx context.Context, service, action string, in, out any) error {
	client, ok := c.clients[service]
	if !ok {
		return &domain.DeviceError{
			Service:     service,
			Action:      action,
			Code:        domain.ErrCodeInvalidAction,
			Description: "service not advertised by device",
		}
	}
	if in == nil {
		in = &struct{}{}
	}

	err := client.PerformActionCtx(ctx, c.namespaces[service], action, in, out)
	if err == nil {
		return nil
	}

	var fault *soap.SOAPFaultError
	if errors.As(err, &fault) {
		return faultToDeviceError(service, action, fault)
	}
	return errors.Wrapf(err, "%s#%s", service, action)
}

func (c *soapConnection) Close() error {
	for _, client := range c.clients {
		client.HTTPClient.CloseIdleConnections()
	}
	return nil
}

type upnpErrorDetail struct {
	Code        string `xml:"errorCode"`
	Description string `xml:"errorDescription"`
}

func faultToDeviceError(service, action string, fault *soap.SOAPFaultError) *domain.DeviceError {
	devErr := &domain.DeviceError{
		Service:     service,
		Action:      action,
		Description: strings.TrimSpace(fault.FaultString),
	}

	var detail upnpErrorDetail
	if len(fault.Detail.Raw) > 0 && xml.Unmarshal(fault.Detail.Raw, &detail) == nil {
		if code, err := strconv.Atoi(strings.TrimSpace(detail.Code)); err == nil {
			devErr.Code = code
		}
		if desc := strings.TrimSpace(detail.Description); desc != "" {
			devErr.Description = desc
		}
	}
	return devErr
}

// serviceName maps "urn:schemas-upnp-org:service:AVTransport:1" to "AVTransport".
func serviceName(serviceType string) string {
	parts := strings.Split(serviceType, ":")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "service" {
			return parts[i+1]
		}
	}
	return ""
}
