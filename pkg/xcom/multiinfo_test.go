package xcom

import (
	"bytes"
	"errors"
	"testing"
)

func infoRequests(n int) []MultiInfoRequest {
	reqs := make([]MultiInfoRequest, n)
	for i := range reqs {
		reqs[i] = MultiInfoRequest{Reference: uint16(3000 + i), Aggregation: AggregationMaster}
	}
	return reqs
}

func TestEncodeMultiInfoRequestsLimit(t *testing.T) {
	b, err := EncodeMultiInfoRequests(infoRequests(MaxMultiInfo))
	if err != nil {
		t.Fatalf("%d entries rejected: %v", MaxMultiInfo, err)
	}
	if len(b) != MaxMultiInfo*MultiInfoRequestLen {
		t.Fatalf("unexpected payload length %d", len(b))
	}

	_, err = EncodeMultiInfoRequests(infoRequests(MaxMultiInfo + 1))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("%d entries: expected ValidationError, got %v", MaxMultiInfo+1, err)
	}

	if _, err := EncodeMultiInfoRequests(nil); !errors.As(err, &ve) {
		t.Fatalf("empty request: expected ValidationError, got %v", err)
	}
}

func TestEncodeMultiInfoRequestsOnlyInfo(t *testing.T) {
	reqs := []MultiInfoRequest{
		{Reference: 3000},
		{Reference: 1107},
	}
	_, err := EncodeMultiInfoRequests(reqs)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for parameter 1107, got %v", err)
	}
}

func TestEncodeMultiInfoRequestsBytes(t *testing.T) {
	reqs := []MultiInfoRequest{
		{Reference: 3000, Aggregation: AggregationMaster},
		{Reference: 7002, Aggregation: AggregationSum},
		{Reference: 15010, Aggregation: AggregationType(2)},
	}
	b, err := EncodeMultiInfoRequests(reqs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0xb8, 0x0b, 0x00, 0x5a, 0x1b, 0xfe, 0xa2, 0x3a, 0x02}
	if !bytes.Equal(b, want) {
		t.Fatalf("got % x, want % x", b, want)
	}
}

func TestDecodeMultiInfoResponse(t *testing.T) {
	in := &MultiInfoResponse{
		Flags:    MultiInfoXTPresent | MultiInfoVSPresent,
		DateTime: 1700000000,
		Entries: []MultiInfoEntry{
			{Reference: 3000, Aggregation: AggregationMaster, Value: 51.25},
			{Reference: 15010, Aggregation: AggregationAverage, Value: -0.5},
		},
	}
	b := in.Bytes()
	if len(b) != 8+2*MultiInfoEntryLen {
		t.Fatalf("unexpected response length %d", len(b))
	}

	out, err := DecodeMultiInfoResponse(b, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Flags != in.Flags || out.DateTime != in.DateTime {
		t.Fatalf("unexpected head %+v", out)
	}
	for i := range in.Entries {
		if out.Entries[i] != in.Entries[i] {
			t.Fatalf("entry %d: got %+v, want %+v", i, out.Entries[i], in.Entries[i])
		}
	}

	if _, err := DecodeMultiInfoResponse(b, 3); !errors.Is(err, ErrShortPackage) {
		t.Fatalf("expected ErrShortPackage when asking for more entries than sent, got %v", err)
	}
}
