package bladerf

import (
	"errors"
	"fmt"
)

// Failure classes surfaced by this package. Transient receive errors are
// not among them: the Source absorbs those into its consecutive-failure
// accounting and reports end of stream as io.EOF once the limit is hit.
var (
	ErrConfiguration     = errors.New("invalid configuration")
	ErrDevice            = errors.New("device failure")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrUnsupported       = errors.New("not supported by device")
)

// DeviceError carries a device status code and its diagnostic text. It
// matches ErrDevice under errors.Is.
type DeviceError struct {
	Op   string
	Code int
	Text string
}

func (e *DeviceError) Error() string {
	switch {
	case e.Text == "":
		return fmt.Sprintf("%s: device error %d", e.Op, e.Code)
	case e.Code == 0:
		return fmt.Sprintf("%s: %s", e.Op, e.Text)
	default:
		return fmt.Sprintf("%s: %s (%d)", e.Op, e.Text, e.Code)
	}
}

func (e *DeviceError) Unwrap() error { return ErrDevice }

// DeviceErrorText extracts the device-level diagnostic from err, falling
// back to the plain error text.
func DeviceErrorText(err error) string {
	if err == nil {
		return ""
	}
	var de *DeviceError
	if errors.As(err, &de) && de.Text != "" {
		return de.Text
	}
	return err.Error()
}
