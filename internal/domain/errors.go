package domain

import (
	"errors"
	"fmt"
)

// UPnP error codes the session logic branches on.
const (
	ErrCodeInvalidAction          = 401
	ErrCodeActionNotImplemented   = 602
	ErrCodeTransitionNotAvailable = 701
	ErrCodeSeekModeNotSupported   = 710
	ErrCodeIllegalSeekTarget      = 711
)

var ErrNotFound = errors.New("content not found")

// DeviceError is a failure reported by the renderer itself, as opposed to a
// transport failure talking to it.
type DeviceError struct {
	Service     string `json:"service"`
	Action      string `json:"action"`
	Code        int    `json:"code"`
	Description string `json:"description,omitempty"`
}

func (e *DeviceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Description == "" {
		return fmt.Sprintf("%s#%s: upnp error %d", e.Service, e.Action, e.Code)
	}
	return fmt.Sprintf("%s#%s: upnp error %d: %s", e.Service, e.Action, e.Code, e.Description)
}

// DeviceErrorCode returns the UPnP code carried by err, if any.
func DeviceErrorCode(err error) (int, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) && devErr != nil {
		return devErr.Code, true
	}
	return 0, false
}

// IsDeviceErrorCode reports whether err is a DeviceError with one of codes.
func IsDeviceErrorCode(err error, codes ...int) bool {
	code, ok := DeviceErrorCode(err)
	if !ok {
		return false
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
