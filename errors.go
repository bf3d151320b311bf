package audiopriority

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrDeviceQueryFailed wraps a registry enumeration or default-device lookup
// failure. Never fatal: the switcher keeps its last-known views and retries on
// the next trigger.
var ErrDeviceQueryFailed = errors.New("audiopriority: device query failed")

// ErrNotRunning is returned by operations that require a started switcher.
var ErrNotRunning = errors.New("audiopriority: switcher not running")

// ErrorHandler receives failures from asynchronous paths, where no caller is
// around to observe an error return.
type ErrorHandler interface {
	HandleError(error)
}

// LogErrorHandler logs every reported error.
type LogErrorHandler struct {
	Log logrus.FieldLogger
}

// HandleError implements ErrorHandler.
func (h *LogErrorHandler) HandleError(err error) {
	log := h.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithError(err).Error("switcher error")
}

// PanicErrorHandler panics on any error (useful for development).
type PanicErrorHandler struct{}

// HandleError implements ErrorHandler by panicking.
func (h *PanicErrorHandler) HandleError(err error) {
	panic(err)
}
