package xcom

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Wire sizes
const (
	HeaderLength  = 1 + 4 + 4 + 2 // flags, src, dst, data length
	serviceLength = 2 + 4 + 2     // object type, object id, property id
	frameMinLen   = 1 + 1 + serviceLength
	checksumLen   = 2
)

// Header precedes every frame and carries the addressing
type Header struct {
	Flags      FrameFlags
	Src        Address
	Dst        Address
	DataLength uint16
}

// Bytes serializes h without start byte and checksum
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderLength)
	b[0] = byte(h.Flags)
	binary.LittleEndian.PutUint32(b[1:5], uint32(h.Src))
	binary.LittleEndian.PutUint32(b[5:9], uint32(h.Dst))
	binary.LittleEndian.PutUint16(b[9:11], h.DataLength)
	return b
}

func parseHeader(b []byte) Header {
	return Header{
		Flags:      FrameFlags(b[0]),
		Src:        Address(binary.LittleEndian.Uint32(b[1:5])),
		Dst:        Address(binary.LittleEndian.Uint32(b[5:9])),
		DataLength: binary.LittleEndian.Uint16(b[9:11]),
	}
}

// Service identifies the accessed object and property
type Service struct {
	ObjectType   ObjectType
	ObjectID     uint32
	PropertyID   PropertyID
	PropertyData []byte
}

// Len is the serialized length of s
func (s Service) Len() int {
	return serviceLength + len(s.PropertyData)
}

func (s Service) appendTo(b []byte) []byte {
	var f [serviceLength]byte
	binary.LittleEndian.PutUint16(f[0:2], uint16(s.ObjectType))
	binary.LittleEndian.PutUint32(f[2:6], s.ObjectID)
	binary.LittleEndian.PutUint16(f[6:8], uint16(s.PropertyID))
	b = append(b, f[:]...)
	return append(b, s.PropertyData...)
}

// Frame is the checksummed payload of a package
type Frame struct {
	Flags     ServiceFlags
	ServiceID ServiceID
	Service   Service
}

// Len is the serialized length of f
func (f Frame) Len() int {
	return 2 + f.Service.Len()
}

// Bytes serializes f without checksum
func (f Frame) Bytes() []byte {
	b := make([]byte, 0, f.Len())
	b = append(b, byte(f.Flags), byte(f.ServiceID))
	return f.Service.appendTo(b)
}

func parseFrame(b []byte) (Frame, error) {
	if len(b) < frameMinLen {
		return Frame{}, fmt.Errorf("frame of %d bytes is shorter than %d: %w", len(b), frameMinLen, ErrShortPackage)
	}
	f := Frame{
		Flags:     ServiceFlags(b[0]),
		ServiceID: ServiceID(b[1]),
		Service: Service{
			ObjectType: ObjectType(binary.LittleEndian.Uint16(b[2:4])),
			ObjectID:   binary.LittleEndian.Uint32(b[4:8]),
			PropertyID: PropertyID(binary.LittleEndian.Uint16(b[8:10])),
		},
	}
	f.Service.PropertyData = append([]byte{}, b[frameMinLen:]...)
	return f, nil
}

// Package is one complete message on the wire
type Package struct {
	Header Header
	Frame  Frame
}

// NewPackage builds a request package, setting the header data length from the frame.
// The length field holds 16 bits, frames of 64 KiB or more get a wrapped length and
// are refused by Device.SendPackage.
func NewPackage(service ServiceID, objectID uint32, objectType ObjectType, property PropertyID, data []byte, src, dst Address) *Package {
	f := Frame{
		ServiceID: service,
		Service: Service{
			ObjectType:   objectType,
			ObjectID:     objectID,
			PropertyID:   property,
			PropertyData: data,
		},
	}
	return &Package{
		Header: Header{Src: src, Dst: dst, DataLength: uint16(f.Len())},
		Frame:  f,
	}
}

// Bytes serializes p: start byte, header, header checksum, frame, frame checksum
func (p *Package) Bytes() []byte {
	h := p.Header.Bytes()
	f := p.Frame.Bytes()

	b := make([]byte, 0, 1+len(h)+len(f)+2*checksumLen)
	b = append(b, StartByte)
	b = append(b, h...)
	hc := Checksum(h)
	b = append(b, hc[:]...)
	b = append(b, f...)
	fc := Checksum(f)
	return append(b, fc[:]...)
}

// IsResponse reports whether the response flag is set
func (p *Package) IsResponse() bool {
	return p.Frame.Flags&ServiceFlagResponse == ServiceFlagResponse
}

// IsError reports whether the device flagged this package as error
func (p *Package) IsError() bool {
	return p.Frame.Flags&ServiceFlagError == ServiceFlagError
}

// ErrorCode returns the device error code carried in an error package.
// Unknown codes are returned as is, their String() is UnknownError.
func (p *Package) ErrorCode() (ErrorCode, error) {
	if !p.IsError() {
		return 0, nil
	}
	d := p.Frame.Service.PropertyData
	if len(d) != 2 {
		return 0, &FramingError{Err: fmt.Errorf("error package carries %d data bytes, expected 2", len(d)), Raw: d}
	}
	return ErrorCode(binary.LittleEndian.Uint16(d)), nil
}

// Err returns a *DeviceError if p is an error package, nil otherwise
func (p *Package) Err() error {
	if !p.IsError() {
		return nil
	}
	code, err := p.ErrorCode()
	if err != nil {
		return err
	}
	return &DeviceError{Code: code, Service: p.Frame.ServiceID, ObjectID: p.Frame.Service.ObjectID}
}

func (p *Package) String() string {
	return fmt.Sprintf("%v %v/%d/%v src=%d dst=%d flags=0x%02x/0x%02x data='% x'",
		p.Frame.ServiceID, p.Frame.Service.ObjectType, p.Frame.Service.ObjectID, p.Frame.Service.PropertyID,
		p.Header.Src, p.Header.Dst, byte(p.Header.Flags), byte(p.Frame.Flags), p.Frame.Service.PropertyData)
}

// ParsePackage skips everything up to the first start byte and decodes the package following it.
// Both header and frame checksums must match.
func ParsePackage(b []byte) (*Package, error) {
	p, _, err := parsePackage(b)
	return p, err
}

// parsePackage returns the decoded package and the number of bytes consumed from b
func parsePackage(b []byte) (*Package, int, error) {
	start := bytes.IndexByte(b, StartByte)
	if start < 0 {
		return nil, len(b), &FramingError{Err: ErrNoStartByte, Raw: b}
	}
	r := b[start+1:]

	if len(r) < HeaderLength+checksumLen {
		return nil, len(b), &FramingError{Err: fmt.Errorf("header: %w", ErrShortPackage), Raw: b}
	}
	hRaw := r[:HeaderLength]
	if !validChecksum(hRaw, r[HeaderLength:HeaderLength+checksumLen]) {
		return nil, len(b), &FramingError{Err: ErrHeaderChecksum, Raw: b}
	}
	h := parseHeader(hRaw)
	r = r[HeaderLength+checksumLen:]

	n := int(h.DataLength)
	if len(r) < n+checksumLen {
		return nil, len(b), &FramingError{Err: fmt.Errorf("frame needs %d bytes, have %d: %w", n+checksumLen, len(r), ErrShortPackage), Raw: b}
	}
	fRaw := r[:n]
	if !validChecksum(fRaw, r[n:n+checksumLen]) {
		return nil, len(b), &FramingError{Err: ErrFrameChecksum, Raw: b}
	}
	f, err := parseFrame(fRaw)
	if err != nil {
		return nil, len(b), &FramingError{Err: err, Raw: b}
	}

	consumed := start + 1 + HeaderLength + checksumLen + n + checksumLen
	return &Package{Header: h, Frame: f}, consumed, nil
}

// packageLength inspects a partial byte stream. It returns the full length of the
// package that starts at the first start byte (counted from the beginning of b),
// or ok == false if no valid header is available yet.
func packageLength(b []byte) (n int, ok bool) {
	start := bytes.IndexByte(b, StartByte)
	if start < 0 || len(b) < start+1+HeaderLength+checksumLen {
		return 0, false
	}
	hRaw := b[start+1 : start+1+HeaderLength]
	if !validChecksum(hRaw, b[start+1+HeaderLength:start+1+HeaderLength+checksumLen]) {
		return 0, false
	}
	h := parseHeader(hRaw)
	return start + 1 + HeaderLength + checksumLen + int(h.DataLength) + checksumLen, true
}
