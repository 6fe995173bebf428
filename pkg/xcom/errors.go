package xcom

import (
	"errors"
	"fmt"
)

// Sentinel errors, wrapped by the typed errors below
var (
	ErrNoStartByte     = errors.New("package start byte not found")
	ErrHeaderChecksum  = errors.New("invalid header checksum")
	ErrFrameChecksum   = errors.New("invalid frame checksum")
	ErrShortPackage    = errors.New("package truncated")
	ErrTimeout         = errors.New("timed out waiting for response")
	ErrNotConnected    = errors.New("device not connected")
	ErrInvalidDataType = errors.New("invalid data type")
)

// FramingError is returned when received bytes do not form a valid package
type FramingError struct {
	Err error
	Raw []byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %v (raw='% x')", e.Err, e.Raw)
}

func (e *FramingError) Unwrap() error { return e.Err }

// ValidationError is returned for request parameters rejected before any I/O,
// and for responses that do not belong to the request
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DeviceError is returned when the Xcom answers with the error flag set
type DeviceError struct {
	Code     ErrorCode
	Service  ServiceID
	ObjectID uint32
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%v request for object %d failed: %v (0x%04x)", e.Service, e.ObjectID, e.Code, uint16(e.Code))
}

// ChannelError wraps failures of the underlying serial or network link
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s failed: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// IsDeviceError returns true if err is or wraps a DeviceError
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
