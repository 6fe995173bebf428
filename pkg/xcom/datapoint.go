package xcom

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DataType is the value type of a datapoint as used in the Studer documentation
type DataType byte

const (
	TypeBool      DataType = 1
	TypeSInt      DataType = 2 // int32
	TypeFloat     DataType = 3
	TypeEnumShort DataType = 4 // uint16
	TypeEnumLong  DataType = 5 // uint32
	TypeString    DataType = 6 // ISO-8859-15
	TypeBytes     DataType = 7
	TypeError     DataType = 8 // 16bit error code
)

var dataTypeNames = map[DataType]string{
	TypeBool:      "bool",
	TypeSInt:      "int",
	TypeFloat:     "float",
	TypeEnumShort: "short_enum",
	TypeEnumLong:  "long_enum",
	TypeString:    "string",
	TypeBytes:     "bytes",
	TypeError:     "error",
}

func (t DataType) String() string {
	if n, ok := dataTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// MarshalJSON writes the type name
func (t DataType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// ParseDataType accepts a type name or its numeric tag
func ParseDataType(s string) (DataType, error) {
	for t, n := range dataTypeNames {
		if n == s {
			return t, nil
		}
	}
	if i, err := strconv.Atoi(s); err == nil {
		if _, ok := dataTypeNames[DataType(i)]; ok {
			return DataType(i), nil
		}
	}
	return 0, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown data type %q", s), Err: ErrInvalidDataType}
}

// Datapoint describes one value of a Studer device
type Datapoint struct {
	ID   uint32   `json:"id"`
	Type DataType `json:"type"`
	Name string   `json:"name,omitempty"`
	Unit string   `json:"unit,omitempty"`

	// ObjectType overrides the ID range guess of ObjectTypeOf if non zero
	ObjectType ObjectType `json:"-"`
}

// NewDatapoint returns a datapoint with the given ID and type
func NewDatapoint(id uint32, t DataType, name, unit string) Datapoint {
	return Datapoint{ID: id, Type: t, Name: name, Unit: unit}
}

// Object returns the object type to use for reading this datapoint
func (dp Datapoint) Object() ObjectType {
	if dp.ObjectType != 0 {
		return dp.ObjectType
	}
	return ObjectTypeOf(dp.ID)
}

// Decode converts raw property data into a typed value
func (dp Datapoint) Decode(b []byte) (interface{}, error) {
	c, err := dp.Type.Codec()
	if err != nil {
		return nil, err
	}
	return c.Decode(b)
}

// Encode converts a typed value into raw property data
func (dp Datapoint) Encode(v interface{}) ([]byte, error) {
	c, err := dp.Type.Codec()
	if err != nil {
		return nil, err
	}
	return c.Encode(v)
}

func (dp Datapoint) String() string {
	if dp.Name != "" {
		return fmt.Sprintf("%s(%d)", dp.Name, dp.ID)
	}
	return strconv.FormatUint(uint64(dp.ID), 10)
}
