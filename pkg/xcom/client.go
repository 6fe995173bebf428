package xcom

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client builds requests, sends them over a Channel and interprets the responses
type Client struct {
	ch Channel

	// Src is the address we use as sender
	Src Address

	// CacheDuration > 0 serves repeated reads from memory
	CacheDuration time.Duration

	cacheLock sync.Mutex
	cache     map[cacheKey]cacheEntry
}

type cacheKey struct {
	dst      Address
	id       uint32
	property PropertyID
}

type cacheEntry struct {
	value     interface{}
	cacheTime time.Time
}

// Entry is a datapoint together with the device and property to access
type Entry struct {
	Datapoint
	Dst      Address
	Property PropertyID
}

// NewClient is the factory method to create a new Client talking over ch
func NewClient(ch Channel) *Client {
	return &Client{
		ch:    ch,
		Src:   AddrSource,
		cache: make(map[cacheKey]cacheEntry),
	}
}

func checkProperty(p PropertyID) (PropertyID, error) {
	if p == 0 {
		return PropertyUnsavedValue, nil
	}
	if !p.Valid() {
		return 0, &ValidationError{Field: "property", Reason: fmt.Sprintf("unknown property id 0x%04x", uint16(p))}
	}
	return p, nil
}

// exchange sends req and checks that the answer is a response to it
func (c *Client) exchange(ctx context.Context, req *Package, matchObject bool) (resp *Package, err error) {
	start := time.Now()
	defer func() {
		recordRequest(req.Frame.ServiceID, req.Frame.Service.ObjectType, err, time.Since(start))
	}()

	if req.Frame.Len() > MsgMaxLength {
		return nil, &ValidationError{Field: "request", Reason: fmt.Sprintf("frame of %d bytes exceeds %d", req.Frame.Len(), MsgMaxLength)}
	}

	resp, err = c.ch.SendPackage(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Header.Flags.Has(FrameFlagMessagePending) {
		log.Debugf("Xcom at %d has pending event messages", resp.Header.Src)
	}
	if err = resp.Err(); err != nil {
		log.Warn(err)
		return nil, err
	}
	if !resp.IsResponse() {
		return nil, &ValidationError{Field: "response", Reason: fmt.Sprintf("response flag not set in %v", resp)}
	}
	if resp.Frame.ServiceID != req.Frame.ServiceID {
		return nil, &ValidationError{Field: "response", Reason: fmt.Sprintf("expected %v service, received %v", req.Frame.ServiceID, resp.Frame.ServiceID)}
	}
	if matchObject && resp.Frame.Service.ObjectID != req.Frame.Service.ObjectID {
		return nil, &ValidationError{Field: "response", Reason: fmt.Sprintf("expected object %d, received %d", req.Frame.Service.ObjectID, resp.Frame.Service.ObjectID)}
	}
	return resp, nil
}

// ReadValue reads one property of dp from the device at dst.
// A zero property reads the unsaved value.
func (c *Client) ReadValue(ctx context.Context, dp Datapoint, dst Address, property PropertyID) (interface{}, error) {
	property, err := checkProperty(property)
	if err != nil {
		return nil, err
	}
	if _, err := dp.Type.Codec(); err != nil {
		return nil, err
	}

	key := cacheKey{dst, dp.ID, property}
	if v, ok := c.getCache(key); ok {
		log.Debugf("Cache hit for %v at %d: %v", dp, dst, v)
		return v, nil
	}

	req := NewPackage(ServiceRead, dp.ID, dp.Object(), property, nil, c.Src, dst)
	resp, err := c.exchange(ctx, req, true)
	if err != nil {
		return nil, err
	}

	v, err := dp.Decode(resp.Frame.Service.PropertyData)
	if err != nil {
		return nil, err
	}
	c.putCache(key, v)
	return v, nil
}

// WriteValue writes v into a property of the parameter dp at dst.
// A zero property writes the unsaved value.
func (c *Client) WriteValue(ctx context.Context, dp Datapoint, v interface{}, dst Address, property PropertyID) error {
	property, err := checkProperty(property)
	if err != nil {
		return err
	}
	data, err := dp.Encode(v)
	if err != nil {
		return err
	}

	c.dropCache(dp.ID)

	req := NewPackage(ServiceWrite, dp.ID, ObjectParameter, property, data, c.Src, dst)
	_, err = c.exchange(ctx, req, true)
	return err
}

// ReadMulti reads up to MaxMultiInfo info objects with one request to the Xcom-232i
func (c *Client) ReadMulti(ctx context.Context, reqs []MultiInfoRequest) (*MultiInfoResponse, error) {
	data, err := EncodeMultiInfoRequests(reqs)
	if err != nil {
		return nil, err
	}

	req := NewPackage(ServiceRead, 0x01, ObjectMultiInfo, PropertyNone, data, c.Src, AddrXcom232i)
	resp, err := c.exchange(ctx, req, false)
	if err != nil {
		return nil, err
	}
	return DecodeMultiInfoResponse(resp.Frame.Service.PropertyData, len(reqs))
}

// ReadMultiValues reads the given info datapoints with one multi-info request.
// Values are keyed by datapoint name, or ID if unnamed.
func (c *Client) ReadMultiValues(ctx context.Context, dps []Datapoint, agg AggregationType) (map[string]float32, error) {
	reqs := make([]MultiInfoRequest, len(dps))
	for i, dp := range dps {
		if dp.ID > 0xFFFF {
			return nil, &ValidationError{Field: "multi-info", Reason: fmt.Sprintf("object %d does not fit a user info reference", dp.ID)}
		}
		reqs[i] = MultiInfoRequest{Reference: uint16(dp.ID), Aggregation: agg}
	}

	resp, err := c.ReadMulti(ctx, reqs)
	if err != nil {
		return nil, err
	}

	values := make(map[string]float32, len(dps))
	for i, e := range resp.Entries {
		if uint32(e.Reference) != dps[i].ID {
			log.Warnf("Multi-info entry %d answers object %d, requested %v", i, e.Reference, dps[i])
		}
		values[entryName(dps[i])] = e.Value
	}
	return values, nil
}

// ReadEntries reads entries one after the other, stopping at the first error.
// Values read so far are returned along with the error.
func (c *Client) ReadEntries(ctx context.Context, entries []Entry) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		v, err := c.ReadValue(ctx, e.Datapoint, e.Dst, e.Property)
		if err != nil {
			return values, fmt.Errorf("reading %v: %w", e.Datapoint, err)
		}
		values[entryName(e.Datapoint)] = v
	}
	return values, nil
}

// ReadScreen sends a key press (or refresh) to the remote control and returns its screen
func (c *Client) ReadScreen(ctx context.Context, cmd ScreenCommand, invert bool) (*Screen, error) {
	switch cmd {
	case ScreenRefresh, ScreenDown, ScreenEsc, ScreenSet, ScreenUp:
	default:
		return nil, &ValidationError{Field: "screen command", Reason: fmt.Sprintf("unknown command 0x%02x", uint32(cmd))}
	}

	req := NewPackage(ServiceRead, uint32(cmd), ObjectScreen, PropertyScreenFull, nil, c.Src, AddrXcom232i)
	resp, err := c.exchange(ctx, req, false)
	if err != nil {
		return nil, err
	}
	return DecodeScreen(resp.Frame.Service.PropertyData, invert)
}

func entryName(dp Datapoint) string {
	if dp.Name != "" {
		return dp.Name
	}
	return strconv.FormatUint(uint64(dp.ID), 10)
}

func (c *Client) getCache(k cacheKey) (interface{}, bool) {
	if c.CacheDuration <= 0 {
		return nil, false
	}
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()
	e, ok := c.cache[k]
	if !ok || time.Since(e.cacheTime) >= c.CacheDuration {
		return nil, false
	}
	return e.value, true
}

func (c *Client) putCache(k cacheKey, v interface{}) {
	if c.CacheDuration <= 0 {
		return
	}
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()
	c.cache[k] = cacheEntry{v, time.Now()}
}

// dropCache forgets all cached properties of one object on any device
func (c *Client) dropCache(id uint32) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()
	for k := range c.cache {
		if k.id == id {
			delete(c.cache, k)
		}
	}
}
