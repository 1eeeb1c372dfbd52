// Package netutil holds HTTP client and address helpers shared by the
// resolver and the UPnP adapters.
package netutil

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	defaultRetryMax     = 2
	defaultRetryWaitMin = 120 * time.Millisecond
	defaultRetryWaitMax = 800 * time.Millisecond
	defaultTimeout      = 10 * time.Second
)

// NewRetryClient returns a retrying client for short request/response
// exchanges. It must not be used for streaming bodies.
func NewRetryClient(logger zerolog.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = defaultRetryMax
	client.RetryWaitMin = defaultRetryWaitMin
	client.RetryWaitMax = defaultRetryWaitMax
	client.HTTPClient.Timeout = defaultTimeout
	client.Logger = leveledLogger{logger: logger}
	return client
}

// leveledLogger routes retryablehttp chatter to zerolog at debug level; only
// its errors are kept at warn.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.event(l.logger.Warn(), msg, keysAndValues)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.event(l.logger.Debug(), msg, keysAndValues)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.event(l.logger.Debug(), msg, keysAndValues)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.event(l.logger.Debug(), msg, keysAndValues)
}

func (l leveledLogger) event(ev *zerolog.Event, msg string, keysAndValues []interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ev = ev.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	ev.Msg(msg)
}
