package xcom

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Sizes of multi-info records
const (
	MultiInfoRequestLen  = 2 + 1
	MultiInfoEntryLen    = MultiInfoRequestLen + 4
	multiInfoResponseHdr = 4 + 4
)

// MultiInfoRequest asks for one info object in a multi-info read
type MultiInfoRequest struct {
	Reference   uint16 // user info reference, the object ID
	Aggregation AggregationType
}

// Bytes serializes r
func (r MultiInfoRequest) Bytes() []byte {
	b := make([]byte, MultiInfoRequestLen)
	binary.LittleEndian.PutUint16(b, r.Reference)
	b[2] = byte(r.Aggregation)
	return b
}

// EncodeMultiInfoRequests validates the batch and serializes all entries.
// Only info objects are allowed and at most MaxMultiInfo entries.
func EncodeMultiInfoRequests(reqs []MultiInfoRequest) ([]byte, error) {
	if len(reqs) == 0 {
		return nil, &ValidationError{Field: "multi-info", Reason: "request is empty"}
	}
	if len(reqs) > MaxMultiInfo {
		return nil, &ValidationError{Field: "multi-info", Reason: fmt.Sprintf("%d entries exceed the maximum of %d", len(reqs), MaxMultiInfo)}
	}
	b := make([]byte, 0, len(reqs)*MultiInfoRequestLen)
	for _, r := range reqs {
		if ObjectTypeOf(uint32(r.Reference)) != ObjectInfo {
			return nil, &ValidationError{Field: "multi-info", Reason: fmt.Sprintf("object %d is not an info object", r.Reference)}
		}
		b = append(b, r.Bytes()...)
	}
	return b, nil
}

// MultiInfoEntry is one value of a multi-info response
type MultiInfoEntry struct {
	Reference   uint16          `json:"id"`
	Aggregation AggregationType `json:"aggregation"`
	Value       float32         `json:"value"`
}

// MultiInfoResponse holds the decoded answer of a multi-info read
type MultiInfoResponse struct {
	Flags    MultiInfoFlags   `json:"flags"`
	DateTime uint32           `json:"datetime"`
	Entries  []MultiInfoEntry `json:"entries"`
}

// Bytes serializes r, mainly for simulating a device
func (r *MultiInfoResponse) Bytes() []byte {
	b := make([]byte, multiInfoResponseHdr, multiInfoResponseHdr+len(r.Entries)*MultiInfoEntryLen)
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.Flags))
	binary.LittleEndian.PutUint32(b[4:8], r.DateTime)
	for _, e := range r.Entries {
		var eb [MultiInfoEntryLen]byte
		binary.LittleEndian.PutUint16(eb[0:2], e.Reference)
		eb[2] = byte(e.Aggregation)
		binary.LittleEndian.PutUint32(eb[3:7], math.Float32bits(e.Value))
		b = append(b, eb[:]...)
	}
	return b
}

// DecodeMultiInfoResponse decodes n entries. The format carries no count,
// n has to be taken from the request.
func DecodeMultiInfoResponse(b []byte, n int) (*MultiInfoResponse, error) {
	need := multiInfoResponseHdr + n*MultiInfoEntryLen
	if len(b) < need {
		return nil, &FramingError{Err: fmt.Errorf("multi-info response for %d entries needs %d bytes, got %d: %w", n, need, len(b), ErrShortPackage), Raw: b}
	}
	r := &MultiInfoResponse{
		Flags:    MultiInfoFlags(binary.LittleEndian.Uint32(b[0:4])),
		DateTime: binary.LittleEndian.Uint32(b[4:8]),
		Entries:  make([]MultiInfoEntry, n),
	}
	for i := 0; i < n; i++ {
		e := b[multiInfoResponseHdr+i*MultiInfoEntryLen:]
		r.Entries[i] = MultiInfoEntry{
			Reference:   binary.LittleEndian.Uint16(e[0:2]),
			Aggregation: AggregationType(e[2]),
			Value:       math.Float32frombits(binary.LittleEndian.Uint32(e[3:7])),
		}
	}
	return r, nil
}
