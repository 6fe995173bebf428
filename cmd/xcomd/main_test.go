package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/speters/xcomd/pkg/xcom"
)

// fakeChannel answers like an Xcom with every value set to 12.5
type fakeChannel struct {
	written map[uint32][]byte
}

func (f *fakeChannel) SendPackage(ctx context.Context, req *xcom.Package) (*xcom.Package, error) {
	s := req.Frame.Service
	var data []byte
	switch {
	case s.ObjectType == xcom.ObjectScreen:
		data = make([]byte, 1024)
	case s.ObjectType == xcom.ObjectMultiInfo:
		resp := &xcom.MultiInfoResponse{}
		for i := 0; i+xcom.MultiInfoRequestLen <= len(s.PropertyData); i += xcom.MultiInfoRequestLen {
			ref := binary.LittleEndian.Uint16(s.PropertyData[i:])
			resp.Entries = append(resp.Entries, xcom.MultiInfoEntry{Reference: ref, Aggregation: xcom.AggregationType(s.PropertyData[i+2]), Value: 12.5})
		}
		data = resp.Bytes()
	case s.ObjectID == 1999:
		p := xcom.NewPackage(req.Frame.ServiceID, s.ObjectID, s.ObjectType, s.PropertyID, []byte{0x22, 0x00}, req.Header.Dst, req.Header.Src)
		p.Frame.Flags = xcom.ServiceFlagResponse | xcom.ServiceFlagError
		return p, nil
	case req.Frame.ServiceID == xcom.ServiceWrite:
		f.written[s.ObjectID] = s.PropertyData
	default:
		data = make([]byte, 4)
		binary.LittleEndian.PutUint32(data, math.Float32bits(12.5))
	}
	p := xcom.NewPackage(req.Frame.ServiceID, s.ObjectID, s.ObjectType, s.PropertyID, data, req.Header.Dst, req.Header.Src)
	p.Frame.Flags = xcom.ServiceFlagResponse
	return p, nil
}

func testServer(t *testing.T) (*httptest.Server, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{written: map[uint32][]byte{}}
	entries := []xcom.Entry{
		{Datapoint: xcom.NewDatapoint(3000, xcom.TypeFloat, "battery_voltage", "V"), Dst: xcom.AddrAllXT, Property: xcom.PropertyUnsavedValue},
		{Datapoint: xcom.NewDatapoint(1138, xcom.TypeFloat, "max_charge_current", "A"), Dst: xcom.AddrAllXT, Property: xcom.PropertyUnsavedValue},
		{Datapoint: xcom.NewDatapoint(1999, xcom.TypeFloat, "missing", ""), Dst: xcom.AddrAllXT, Property: xcom.PropertyUnsavedValue},
	}
	srv := httptest.NewServer(newServer(xcom.NewClient(ch), entries).router())
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestGetDatapoints(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/datapoints")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var l []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(l) != 3 || l[0]["name"] != "battery_voltage" || l[0]["type"] != "float" || l[0]["object_type"] != "info" {
		t.Fatalf("unexpected datapoints %v", l)
	}
}

func TestGetValue(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/value/battery_voltage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var v map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v["value"] != 12.5 || v["unit"] != "V" {
		t.Fatalf("unexpected value %v", v)
	}
}

func TestGetValueErrors(t *testing.T) {
	srv, _ := testServer(t)
	cases := map[string]int{
		"/value/nope":    http.StatusNotFound,
		"/value/missing": http.StatusBadGateway,
	}
	for path, want := range cases {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: expected status %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestSetValue(t *testing.T) {
	srv, ch := testServer(t)
	resp, err := http.Post(srv.URL+"/value/max_charge_current", "application/json", strings.NewReader("42"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if math.Float32frombits(binary.LittleEndian.Uint32(ch.written[1138])) != 42 {
		t.Fatalf("unexpected written data % x", ch.written[1138])
	}

	resp, err = http.Post(srv.URL+"/value/max_charge_current", "application/json", strings.NewReader(`"lots"`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", resp.StatusCode)
	}
}

func TestGetMulti(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/multi?name=battery_voltage&agg=sum")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var v map[string]float32
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v["battery_voltage"] != 12.5 {
		t.Fatalf("unexpected values %v", v)
	}

	// parameters can not be read with multi-info
	resp2, err := http.Get(srv.URL + "/multi?name=max_charge_current")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", resp2.StatusCode)
	}
}

func TestGetScreen(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/screen/up?invert=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != xcom.ScreenWidth || img.Bounds().Dy() != xcom.ScreenHeight {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}
