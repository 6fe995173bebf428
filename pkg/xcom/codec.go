package xcom

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/encoding/charmap"
)

// Codec converts between raw property data and typed values.
// Encode always yields exactly the byte length of the type.
type Codec interface {
	Decode(b []byte) (v interface{}, err error)
	Encode(v interface{}) (b []byte, err error)
}

var codecs = map[DataType]Codec{
	TypeBool:      boolCodec{},
	TypeSInt:      sintCodec{},
	TypeFloat:     floatCodec{},
	TypeEnumShort: enumShortCodec{},
	TypeEnumLong:  enumLongCodec{},
	TypeString:    stringCodec{},
	TypeBytes:     bytesCodec{},
	TypeError:     errorCodec{},
}

// Codec returns the codec for t
func (t DataType) Codec() (Codec, error) {
	c, ok := codecs[t]
	if !ok {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("no codec for %v", t), Err: ErrInvalidDataType}
	}
	return c, nil
}

func needBytes(b []byte, n int, t DataType) error {
	if len(b) < n {
		return &FramingError{Err: fmt.Errorf("%v value needs %d bytes, got %d: %w", t, n, len(b), ErrShortPackage), Raw: b}
	}
	return nil
}

func invalidValue(t DataType, v interface{}, reason string) error {
	return &ValidationError{Field: "value", Reason: fmt.Sprintf("%v can not hold %#v: %s", t, v, reason)}
}

// toInt64 accepts the basic numeric types, json.Number and numeric strings
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case ErrorCode:
		return int64(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
	case string:
		if i, err := strconv.ParseInt(n, 0, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	i, ok := toInt64(v)
	return float64(i), ok
}

func encodeRanged(t DataType, v interface{}, min, max int64) (int64, error) {
	i, ok := toInt64(v)
	if !ok {
		return 0, invalidValue(t, v, "not an integer")
	}
	if i < min || i > max {
		return 0, invalidValue(t, v, fmt.Sprintf("out of range [%d, %d]", min, max))
	}
	return i, nil
}

type boolCodec struct{}

func (boolCodec) Decode(b []byte) (interface{}, error) {
	if err := needBytes(b, 1, TypeBool); err != nil {
		return nil, err
	}
	return b[0] != 0, nil
}

func (boolCodec) Encode(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case string:
		bv, err := strconv.ParseBool(x)
		if err != nil {
			return nil, invalidValue(TypeBool, v, err.Error())
		}
		return boolCodec{}.Encode(bv)
	}
	i, ok := toInt64(v)
	if !ok {
		return nil, invalidValue(TypeBool, v, "not a boolean")
	}
	return boolCodec{}.Encode(i != 0)
}

type sintCodec struct{}

func (sintCodec) Decode(b []byte) (interface{}, error) {
	if err := needBytes(b, 4, TypeSInt); err != nil {
		return nil, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (sintCodec) Encode(v interface{}) ([]byte, error) {
	i, err := encodeRanged(TypeSInt, v, math.MinInt32, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(int32(i)))
	return b, nil
}

type floatCodec struct{}

func (floatCodec) Decode(b []byte) (interface{}, error) {
	if err := needBytes(b, 4, TypeFloat); err != nil {
		return nil, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (floatCodec) Encode(v interface{}) ([]byte, error) {
	f, ok := toFloat64(v)
	if !ok {
		return nil, invalidValue(TypeFloat, v, "not a number")
	}
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return nil, invalidValue(TypeFloat, v, "exceeds float32")
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(float32(f)))
	return b, nil
}

type enumShortCodec struct{}

func (enumShortCodec) Decode(b []byte) (interface{}, error) {
	if err := needBytes(b, 2, TypeEnumShort); err != nil {
		return nil, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (enumShortCodec) Encode(v interface{}) ([]byte, error) {
	i, err := encodeRanged(TypeEnumShort, v, 0, math.MaxUint16)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(i))
	return b, nil
}

type enumLongCodec struct{}

func (enumLongCodec) Decode(b []byte) (interface{}, error) {
	if err := needBytes(b, 4, TypeEnumLong); err != nil {
		return nil, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (enumLongCodec) Encode(v interface{}) ([]byte, error) {
	i, err := encodeRanged(TypeEnumLong, v, 0, math.MaxUint32)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(i))
	return b, nil
}

// stringCodec uses the single byte Latin-9 charset of the Xcom
type stringCodec struct{}

func (stringCodec) Decode(b []byte) (interface{}, error) {
	s, err := charmap.ISO8859_15.NewDecoder().Bytes(b)
	if err != nil {
		return nil, &FramingError{Err: err, Raw: b}
	}
	return string(s), nil
}

func (stringCodec) Encode(v interface{}) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, invalidValue(TypeString, v, "not a string")
	}
	b, err := charmap.ISO8859_15.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, invalidValue(TypeString, v, err.Error())
	}
	return b, nil
}

type bytesCodec struct{}

func (bytesCodec) Decode(b []byte) (interface{}, error) { return append([]byte{}, b...), nil }

func (bytesCodec) Encode(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return append([]byte{}, x...), nil
	case string:
		// JSON transports bytes as base64 strings
		b, err := base64.StdEncoding.DecodeString(x)
		if err != nil {
			return nil, invalidValue(TypeBytes, v, err.Error())
		}
		return b, nil
	}
	return nil, invalidValue(TypeBytes, v, "not a byte slice")
}

// errorCodec decodes to ErrorCode, whose String() maps through the error table
type errorCodec struct{}

func (errorCodec) Decode(b []byte) (interface{}, error) {
	if err := needBytes(b, 2, TypeError); err != nil {
		return nil, err
	}
	return ErrorCode(binary.LittleEndian.Uint16(b)), nil
}

func (errorCodec) Encode(v interface{}) ([]byte, error) {
	i, err := encodeRanged(TypeError, v, 0, math.MaxUint16)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(i))
	return b, nil
}
