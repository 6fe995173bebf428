package xcom

import (
	"fmt"
	"strconv"
)

// Limits from the Studer Xcom protocol documentation
const (
	MsgMaxLength = 256
	MaxMultiInfo = 76
)

// StartByte marks the start of every package on the wire
const StartByte byte = 0xAA

// Delimiter terminates every package on the RS-232 link (CR LF)
var Delimiter = []byte{0x0D, 0x0A}

// Address is a device address on the Studer bus
type Address uint32

const (
	AddrBroadcast      Address = 0
	AddrSource         Address = 1 // Address used by us as the requesting party
	AddrAllXT          Address = 100
	AddrAllVarioTrack  Address = 300
	AddrXcom232i       Address = 501 // Well-known address for multi-info requests
	AddrAllBSP         Address = 600
	AddrBSP            Address = 601
	AddrAllVarioString Address = 700
)

// ServiceID selects read or write access
type ServiceID byte

const (
	ServiceRead  ServiceID = 0x01
	ServiceWrite ServiceID = 0x02
)

func (s ServiceID) String() string {
	switch s {
	case ServiceRead:
		return "read"
	case ServiceWrite:
		return "write"
	}
	return fmt.Sprintf("service(0x%02x)", byte(s))
}

// ServiceFlags is the first byte of a frame
type ServiceFlags byte

const (
	ServiceFlagNone     ServiceFlags = 0
	ServiceFlagError    ServiceFlags = 1 << 0
	ServiceFlagResponse ServiceFlags = 1 << 1
)

// FrameFlags is the first byte of a header, set by the Xcom on responses
type FrameFlags byte

const (
	FrameFlagNone                  FrameFlags = 0
	FrameFlagMessagePending        FrameFlags = 1 << 0
	FrameFlagRestartReset          FrameFlags = 1 << 1
	FrameFlagSDCard                FrameFlags = 1 << 2
	FrameFlagSDCardFull            FrameFlags = 1 << 3
	FrameFlagDataloggerFilePresent FrameFlags = 1 << 4
	FrameFlagDataloggerSupported   FrameFlags = 1 << 5
)

// Has reports whether all bits of g are set in f
func (f FrameFlags) Has(g FrameFlags) bool { return f&g == g }

// ObjectType tells the Xcom how to interpret an object ID
type ObjectType uint16

const (
	ObjectInfo            ObjectType = 0x01
	ObjectParameter       ObjectType = 0x02
	ObjectMessage         ObjectType = 0x03
	ObjectGUID            ObjectType = 0x04
	ObjectDatalogField    ObjectType = 0x05
	ObjectMultiInfo       ObjectType = 0x0A
	ObjectScreen          ObjectType = 0x100
	ObjectDatalogTransfer ObjectType = 0x101 // content of "CSVFILES/LOG"
)

func (t ObjectType) String() string {
	switch t {
	case ObjectInfo:
		return "info"
	case ObjectParameter:
		return "parameter"
	case ObjectMessage:
		return "message"
	case ObjectGUID:
		return "guid"
	case ObjectDatalogField:
		return "datalog-field"
	case ObjectMultiInfo:
		return "multi-info"
	case ObjectScreen:
		return "screen"
	case ObjectDatalogTransfer:
		return "datalog-transfer"
	}
	return fmt.Sprintf("object-type(0x%04x)", uint16(t))
}

// ObjectTypeOf guesses the object type from the ID ranges of the device families.
//
//	XTender:        3000 - 3999
//	BSP / Xcom-CAN: 7000 - 7999
//	VarioTrack:    11000 - 11999
//	VarioString:   15000 - 15999
//
// Everything else is treated as a parameter. This is known to be approximate,
// set Datapoint.ObjectType to override it for single objects.
func ObjectTypeOf(id uint32) ObjectType {
	isInfo := (3000 <= id && id < 4000) ||
		(7000 <= id && id < 8000) ||
		(11000 <= id && id < 12000) ||
		(15000 <= id && id < 16000)
	if isInfo {
		return ObjectInfo
	}
	return ObjectParameter
}

// PropertyID selects which property of an object is accessed
type PropertyID uint16

const (
	PropertyNone         PropertyID = 0x01
	PropertyValue        PropertyID = 0x05
	PropertyMin          PropertyID = 0x06
	PropertyMax          PropertyID = 0x07
	PropertyLevel        PropertyID = 0x08
	PropertyUnsavedValue PropertyID = 0x0D

	// PropertyScreenFull requests the whole screen buffer
	PropertyScreenFull = PropertyNone
)

// Valid reports whether p is one of the known property selectors
func (p PropertyID) Valid() bool {
	switch p {
	case PropertyNone, PropertyValue, PropertyMin, PropertyMax, PropertyLevel, PropertyUnsavedValue:
		return true
	}
	return false
}

func (p PropertyID) String() string {
	switch p {
	case PropertyNone:
		return "none"
	case PropertyValue:
		return "value"
	case PropertyMin:
		return "min"
	case PropertyMax:
		return "max"
	case PropertyLevel:
		return "level"
	case PropertyUnsavedValue:
		return "unsaved_value"
	}
	return fmt.Sprintf("property(0x%04x)", uint16(p))
}

// ParsePropertyID accepts the names returned by PropertyID.String
func ParsePropertyID(s string) (PropertyID, error) {
	for _, p := range []PropertyID{PropertyNone, PropertyValue, PropertyMin, PropertyMax, PropertyLevel, PropertyUnsavedValue} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, &ValidationError{Field: "property", Reason: fmt.Sprintf("unknown property %q", s)}
}

// DatalogPropertyID are the properties of the datalog transfer object
type DatalogPropertyID uint16

const (
	DatalogInvalid       DatalogPropertyID = 0x00
	DatalogSDStart       DatalogPropertyID = 0x21
	DatalogSDDatablock   DatalogPropertyID = 0x22
	DatalogSDAckContinue DatalogPropertyID = 0x23
	DatalogSDNackRetry   DatalogPropertyID = 0x24
	DatalogSDAbort       DatalogPropertyID = 0x25
	DatalogSDFinish      DatalogPropertyID = 0x26
)

// ScreenCommand is sent as object ID of a screen request, simulating a key press
type ScreenCommand uint32

const (
	ScreenRefresh ScreenCommand = 0x00
	ScreenDown    ScreenCommand = 0x10
	ScreenEsc     ScreenCommand = 0x20
	ScreenSet     ScreenCommand = 0x40
	ScreenUp      ScreenCommand = 0x80
)

// ParseScreenCommand maps the key names used by the remote control to commands.
// Unknown names refresh the screen.
func ParseScreenCommand(s string) ScreenCommand {
	switch s {
	case "OK", "SET", "ok", "set":
		return ScreenSet
	case "ESC", "esc":
		return ScreenEsc
	case "UP", "up":
		return ScreenUp
	case "DOWN", "down":
		return ScreenDown
	}
	return ScreenRefresh
}

// AggregationType selects which device(s) contribute to a multi-info value.
// 0x01 - 0x0F read only the value of the device with that uid.
type AggregationType byte

const (
	AggregationMaster  AggregationType = 0x00
	AggregationAverage AggregationType = 0xFD
	AggregationSum     AggregationType = 0xFE
)

// MultiInfoFlags is returned in the head of a multi-info response
type MultiInfoFlags uint32

const (
	MultiInfoXcomGSM    MultiInfoFlags = 1 << 4 // Xcom-LAN if 0
	MultiInfoXTPresent  MultiInfoFlags = 1 << 5
	MultiInfoBSPPresent MultiInfoFlags = 1 << 6
	MultiInfoVTPresent  MultiInfoFlags = 1 << 7
	MultiInfoVSPresent  MultiInfoFlags = 1 << 8
)

// QSPLevel is the access level needed for a parameter
type QSPLevel byte

const (
	QSPViewOnly  QSPLevel = 0x00
	QSPBasic     QSPLevel = 0x10
	QSPExpert    QSPLevel = 0x20
	QSPInstaller QSPLevel = 0x30
	QSPQSP       QSPLevel = 0x40
)

// ErrorCode is a device reported error
type ErrorCode uint16

const (
	ErrInvalidFrame              ErrorCode = 0x01
	ErrDeviceNotFound            ErrorCode = 0x02
	ErrResponseTimeout           ErrorCode = 0x03
	ErrServiceNotSupported       ErrorCode = 0x11
	ErrInvalidServiceArgument    ErrorCode = 0x12
	ErrGatewayBusy               ErrorCode = 0x13
	ErrTypeNotSupported          ErrorCode = 0x21
	ErrObjectIDNotFound          ErrorCode = 0x22
	ErrPropertyNotSupported      ErrorCode = 0x23
	ErrInvalidDataLength         ErrorCode = 0x24
	ErrPropertyIsReadOnly        ErrorCode = 0x25
	ErrInvalidData               ErrorCode = 0x26
	ErrDataTooSmall              ErrorCode = 0x27
	ErrDataTooBig                ErrorCode = 0x28
	ErrWritePropertyFailed       ErrorCode = 0x29
	ErrReadPropertyFailed        ErrorCode = 0x2A
	ErrAccessDenied              ErrorCode = 0x2B
	ErrObjectNotSupported        ErrorCode = 0x2C
	ErrMulticastReadNotSupported ErrorCode = 0x2D
	ErrObjectPropertyInvalid     ErrorCode = 0x2E
	ErrFileOrDirNotPresent       ErrorCode = 0x2F
	ErrFileCorrupted             ErrorCode = 0x30
	ErrInvalidShellArg           ErrorCode = 0x81
)

// UnknownError is the name of codes missing in the error table
const UnknownError = "UNKNOWN_ERROR"

var errorNames = map[ErrorCode]string{
	ErrInvalidFrame:              "INVALID_FRAME",
	ErrDeviceNotFound:            "DEVICE_NOT_FOUND",
	ErrResponseTimeout:           "RESPONSE_TIMEOUT",
	ErrServiceNotSupported:       "SERVICE_NOT_SUPPORTED",
	ErrInvalidServiceArgument:    "INVALID_SERVICE_ARGUMENT",
	ErrGatewayBusy:               "SCOM_ERROR_GATEWAY_BUSY",
	ErrTypeNotSupported:          "TYPE_NOT_SUPPORTED",
	ErrObjectIDNotFound:          "OBJECT_ID_NOT_FOUND",
	ErrPropertyNotSupported:      "PROPERTY_NOT_SUPPORTED",
	ErrInvalidDataLength:         "INVALID_DATA_LENGTH",
	ErrPropertyIsReadOnly:        "PROPERTY_IS_READ_ONLY",
	ErrInvalidData:               "INVALID_DATA",
	ErrDataTooSmall:              "DATA_TOO_SMALL",
	ErrDataTooBig:                "DATA_TOO_BIG",
	ErrWritePropertyFailed:       "WRITE_PROPERTY_FAILED",
	ErrReadPropertyFailed:        "READ_PROPERTY_FAILED",
	ErrAccessDenied:              "ACCESS_DENIED",
	ErrObjectNotSupported:        "SCOM_ERROR_OBJECT_NOT_SUPPORTED",
	ErrMulticastReadNotSupported: "SCOM_ERROR_MULTICAST_READ_NOT_SUPPORTED",
	ErrObjectPropertyInvalid:     "OBJECT_PROPERTY_INVALID",
	ErrFileOrDirNotPresent:       "FILE_OR_DIR_NOT_PRESENT",
	ErrFileCorrupted:             "FILE_CORRUPTED",
	ErrInvalidShellArg:           "INVALID_SHELL_ARG",
}

// Known reports whether c is in the error table
func (c ErrorCode) Known() bool {
	_, ok := errorNames[c]
	return ok
}

func (c ErrorCode) String() string {
	if n, ok := errorNames[c]; ok {
		return n
	}
	return UnknownError
}

// MarshalJSON writes the symbolic name of known codes and the number otherwise
func (c ErrorCode) MarshalJSON() ([]byte, error) {
	if n, ok := errorNames[c]; ok {
		return []byte(strconv.Quote(n)), nil
	}
	return []byte(strconv.FormatUint(uint64(c), 10)), nil
}
