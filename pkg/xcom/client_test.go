package xcom

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

// recorder is a Channel remembering the last request
type recorder struct {
	calls  int32
	last   *Package
	handle func(req *Package) (*Package, error)
}

func (r *recorder) SendPackage(ctx context.Context, p *Package) (*Package, error) {
	atomic.AddInt32(&r.calls, 1)
	r.last = p
	return r.handle(p)
}

func floatReply(v float32) func(req *Package) (*Package, error) {
	return func(req *Package) (*Package, error) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		return reply(req, ServiceFlagResponse, b), nil
	}
}

func TestClientReadValue(t *testing.T) {
	rec := &recorder{handle: floatReply(51.5)}
	c := NewClient(rec)

	v, err := c.ReadValue(context.Background(), NewDatapoint(3081, TypeFloat, "battery_voltage", "V"), AddrAllXT, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.(float32) != 51.5 {
		t.Fatalf("unexpected value %v", v)
	}

	req := rec.last
	s := req.Frame.Service
	if req.Frame.ServiceID != ServiceRead || s.ObjectType != ObjectInfo || s.ObjectID != 3081 || s.PropertyID != PropertyUnsavedValue {
		t.Fatalf("unexpected request %v", req)
	}
	if req.Header.Src != AddrSource || req.Header.Dst != AddrAllXT || len(s.PropertyData) != 0 {
		t.Fatalf("unexpected addressing %v", req)
	}
}

func TestClientReadParameterProperty(t *testing.T) {
	rec := &recorder{handle: floatReply(2)}
	c := NewClient(rec)

	if _, err := c.ReadValue(context.Background(), NewDatapoint(1107, TypeFloat, "", ""), 101, PropertyMax); err != nil {
		t.Fatalf("read: %v", err)
	}
	s := rec.last.Frame.Service
	if s.ObjectType != ObjectParameter || s.PropertyID != PropertyMax || rec.last.Header.Dst != 101 {
		t.Fatalf("unexpected request %v", rec.last)
	}
}

func TestClientWriteValue(t *testing.T) {
	rec := &recorder{handle: func(req *Package) (*Package, error) {
		return reply(req, ServiceFlagResponse, nil), nil
	}}
	c := NewClient(rec)

	// 11043 is in an info range, writes always go to parameters
	if err := c.WriteValue(context.Background(), NewDatapoint(11043, TypeFloat, "", ""), 32, AddrAllXT, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	req := rec.last
	s := req.Frame.Service
	if req.Frame.ServiceID != ServiceWrite || s.ObjectType != ObjectParameter || s.ObjectID != 11043 || s.PropertyID != PropertyUnsavedValue {
		t.Fatalf("unexpected request %v", req)
	}
	if math.Float32frombits(binary.LittleEndian.Uint32(s.PropertyData)) != 32 {
		t.Fatalf("unexpected payload % x", s.PropertyData)
	}
}

func TestClientValidatesBeforeIO(t *testing.T) {
	rec := &recorder{handle: func(req *Package) (*Package, error) {
		t.Errorf("unexpected request %v", req)
		return nil, errors.New("unexpected")
	}}
	c := NewClient(rec)
	ctx := context.Background()
	dp := NewDatapoint(1107, TypeFloat, "", "")

	checks := map[string]error{}
	_, checks["read with unknown property"] = c.ReadValue(ctx, dp, AddrAllXT, PropertyID(0x42))
	_, checks["read with unknown type"] = c.ReadValue(ctx, NewDatapoint(1107, DataType(42), "", ""), AddrAllXT, 0)
	checks["write with unknown property"] = c.WriteValue(ctx, dp, 1, AddrAllXT, PropertyID(0x42))
	checks["write with invalid value"] = c.WriteValue(ctx, dp, "hot", AddrAllXT, 0)
	_, checks["multi with 77 entries"] = c.ReadMulti(ctx, infoRequests(MaxMultiInfo+1))
	_, checks["multi with a parameter"] = c.ReadMulti(ctx, []MultiInfoRequest{{Reference: 1107}})
	_, checks["multi values with a large id"] = c.ReadMultiValues(ctx, []Datapoint{NewDatapoint(70000, TypeFloat, "", "")}, AggregationMaster)
	_, checks["screen with unknown command"] = c.ReadScreen(ctx, ScreenCommand(0x33), false)

	for name, err := range checks {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}
	if rec.calls != 0 {
		t.Fatalf("%d requests sent for invalid parameters", rec.calls)
	}
}

func TestClientDeviceError(t *testing.T) {
	rec := &recorder{handle: func(req *Package) (*Package, error) {
		return reply(req, ServiceFlagResponse|ServiceFlagError, []byte{0x25, 0x00}), nil
	}}
	c := NewClient(rec)

	err := c.WriteValue(context.Background(), NewDatapoint(1107, TypeFloat, "", ""), 1, AddrAllXT, 0)
	var de *DeviceError
	if !errors.As(err, &de) || de.Code != ErrPropertyIsReadOnly || de.Service != ServiceWrite {
		t.Fatalf("expected read only DeviceError, got %v", err)
	}
}

func TestClientRejectsUnrelatedResponse(t *testing.T) {
	cases := map[string]func(req *Package) (*Package, error){
		"no response flag": func(req *Package) (*Package, error) {
			return reply(req, ServiceFlagNone, []byte{1, 0, 0, 0}), nil
		},
		"other service": func(req *Package) (*Package, error) {
			resp := reply(req, ServiceFlagResponse, []byte{1, 0, 0, 0})
			resp.Frame.ServiceID = ServiceWrite
			return resp, nil
		},
		"other object": func(req *Package) (*Package, error) {
			resp := reply(req, ServiceFlagResponse, []byte{1, 0, 0, 0})
			resp.Frame.Service.ObjectID++
			return resp, nil
		},
	}
	for name, handle := range cases {
		c := NewClient(&recorder{handle: handle})
		_, err := c.ReadValue(context.Background(), NewDatapoint(3000, TypeSInt, "", ""), AddrAllXT, 0)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}
}

func TestClientChannelErrorPassedThrough(t *testing.T) {
	lost := &ChannelError{Op: "read", Err: ErrNotConnected}
	c := NewClient(&recorder{handle: func(req *Package) (*Package, error) { return nil, lost }})
	_, err := c.ReadValue(context.Background(), NewDatapoint(3000, TypeFloat, "", ""), AddrAllXT, 0)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected channel error, got %v", err)
	}
}

func TestClientCache(t *testing.T) {
	rec := &recorder{}
	rec.handle = func(req *Package) (*Package, error) {
		if req.Frame.ServiceID == ServiceWrite {
			return reply(req, ServiceFlagResponse, nil), nil
		}
		return floatReply(float32(atomic.LoadInt32(&rec.calls)))(req)
	}
	c := NewClient(rec)
	c.CacheDuration = time.Minute
	ctx := context.Background()
	dp := NewDatapoint(1107, TypeFloat, "", "")

	v1, err := c.ReadValue(ctx, dp, AddrAllXT, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	v2, err := c.ReadValue(ctx, dp, AddrAllXT, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v1 != v2 || rec.calls != 1 {
		t.Fatalf("second read not served from cache: %v %v after %d calls", v1, v2, rec.calls)
	}

	// other property is a different cache entry
	if _, err := c.ReadValue(ctx, dp, AddrAllXT, PropertyValue); err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", rec.calls)
	}

	if err := c.WriteValue(ctx, dp, 5, AddrAllXT, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	v3, err := c.ReadValue(ctx, dp, AddrAllXT, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.calls != 4 || v3 == v1 {
		t.Fatalf("write did not invalidate the cache: %v after %d calls", v3, rec.calls)
	}
}

func TestClientReadMulti(t *testing.T) {
	rec := &recorder{handle: func(req *Package) (*Package, error) {
		d := req.Frame.Service.PropertyData
		resp := &MultiInfoResponse{Flags: MultiInfoXTPresent}
		for i := 0; i+MultiInfoRequestLen <= len(d); i += MultiInfoRequestLen {
			ref := binary.LittleEndian.Uint16(d[i:])
			resp.Entries = append(resp.Entries, MultiInfoEntry{Reference: ref, Aggregation: AggregationType(d[i+2]), Value: float32(ref) / 10})
		}
		return reply(req, ServiceFlagResponse, resp.Bytes()), nil
	}}
	c := NewClient(rec)

	dps := []Datapoint{
		NewDatapoint(3000, TypeFloat, "battery_voltage", "V"),
		NewDatapoint(15010, TypeFloat, "", "kW"),
	}
	values, err := c.ReadMultiValues(context.Background(), dps, AggregationSum)
	if err != nil {
		t.Fatalf("read multi: %v", err)
	}
	if values["battery_voltage"] != 300 || values["15010"] != 1501 {
		t.Fatalf("unexpected values %v", values)
	}

	req := rec.last
	s := req.Frame.Service
	if s.ObjectType != ObjectMultiInfo || s.ObjectID != 1 || s.PropertyID != PropertyNone || req.Header.Dst != AddrXcom232i {
		t.Fatalf("unexpected request %v", req)
	}
	if len(s.PropertyData) != 2*MultiInfoRequestLen || s.PropertyData[2] != byte(AggregationSum) {
		t.Fatalf("unexpected payload % x", s.PropertyData)
	}
}

func TestClientReadScreen(t *testing.T) {
	rec := &recorder{handle: func(req *Package) (*Package, error) {
		b := make([]byte, screenBytes)
		b[0] = 0x80
		return reply(req, ServiceFlagResponse, b), nil
	}}
	c := NewClient(rec)

	scr, err := c.ReadScreen(context.Background(), ScreenUp, false)
	if err != nil {
		t.Fatalf("read screen: %v", err)
	}
	if !scr.At(0, ScreenHeight-1) || scr.At(0, 0) {
		t.Fatalf("screen not flipped")
	}

	s := rec.last.Frame.Service
	if s.ObjectType != ObjectScreen || s.ObjectID != uint32(ScreenUp) || s.PropertyID != PropertyScreenFull || rec.last.Header.Dst != AddrXcom232i {
		t.Fatalf("unexpected request %v", rec.last)
	}
}

func TestClientReadEntriesStopsAtError(t *testing.T) {
	rec := &recorder{handle: func(req *Package) (*Package, error) {
		if req.Frame.Service.ObjectID == 3001 {
			return reply(req, ServiceFlagResponse|ServiceFlagError, []byte{0x22, 0x00}), nil
		}
		return floatReply(1)(req)
	}}
	c := NewClient(rec)
	entries := []Entry{
		{Datapoint: NewDatapoint(3000, TypeFloat, "a", ""), Dst: AddrAllXT},
		{Datapoint: NewDatapoint(3001, TypeFloat, "b", ""), Dst: AddrAllXT},
		{Datapoint: NewDatapoint(3002, TypeFloat, "c", ""), Dst: AddrAllXT},
	}

	values, err := c.ReadEntries(context.Background(), entries)
	if !IsDeviceError(err) {
		t.Fatalf("expected device error, got %v", err)
	}
	if len(values) != 1 || values["a"] != float32(1) {
		t.Fatalf("unexpected partial values %v", values)
	}
	if rec.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", rec.calls)
	}
}

func TestClientOverSharedDevice(t *testing.T) {
	dev, remote := pipeDevice(t)
	fakeXcom(t, remote, func(req *Package) *Package {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(-int32(req.Frame.Service.ObjectID))))
		return reply(req, ServiceFlagResponse, b)
	})

	a := NewClient(NewSharedChannel("pipe-shared", dev))
	b := NewClient(NewSharedChannel("pipe-shared", dev))
	ctx := context.Background()

	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, c := range []*Client{a, b} {
			go func(c *Client, id uint32) {
				v, err := c.ReadValue(ctx, NewDatapoint(id, TypeSInt, "", ""), AddrAllXT, PropertyValue)
				if err == nil && v.(int32) != -int32(id) {
					err = errors.New("value of another request")
				}
				errs <- err
			}(c, uint32(3000+i))
		}
	}
	for i := 0; i < 20; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if ArbiterFor("pipe-shared").Locked() {
		t.Fatalf("arbiter still held")
	}
}
