package xcom

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Channel sends one request package and returns the matching response package.
// Read, write, multi-info and screen requests are all built on top of it.
type Channel interface {
	SendPackage(ctx context.Context, p *Package) (*Package, error)
}

// ErrBusy is returned when a second request is issued on a Device before the first settled
var ErrBusy = errors.New("request already in flight")

// Largest package accepted from the wire, the screen buffer being the biggest payload
const maxPackageLen = 1 + HeaderLength + checksumLen + frameMinLen + 2*screenBytes + checksumLen

// TransportState is the state of the current exchange of a Device
type TransportState byte

const (
	StateIdle TransportState = iota
	StateSending
	StateAwaitingResponse
	StateDecoded
	StateProtocolError
	StateChannelError
)

func (s TransportState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateDecoded:
		return "decoded"
	case StateProtocolError:
		return "protocol-error"
	case StateChannelError:
		return "channel-error"
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

// State returns the state of the last or current exchange
func (o *Device) State() TransportState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Device) setState(s TransportState) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	if prev != s {
		log.Debugf("State changed: %v --> %v", prev, s)
	}
}

// SendPackage writes p followed by the delimiter and waits for one delimited response.
// Only one request may be outstanding, use a SharedChannel to serialize callers.
func (o *Device) SendPackage(ctx context.Context, p *Package) (*Package, error) {
	if !o.reqLock.TryLock() {
		return nil, ErrBusy
	}
	defer o.reqLock.Unlock()

	if p.Frame.Len() != int(p.Header.DataLength) {
		return nil, &ValidationError{Field: "request", Reason: fmt.Sprintf("header announces %d frame bytes, frame has %d", p.Header.DataLength, p.Frame.Len())}
	}

	o.mu.Lock()
	connected, frames, done := o.connected, o.frames, o.done
	o.mu.Unlock()
	if !connected {
		o.setState(StateChannelError)
		return nil, &ChannelError{Op: "write", Err: ErrNotConnected}
	}

	if _, ok := ctx.Deadline(); !ok && o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	// Responses arriving after a timed out request are stale
	for drained := false; !drained; {
		select {
		case b := <-frames:
			log.Warnf("Discarding stale message '% x'", b)
		default:
			drained = true
		}
	}

	o.setState(StateSending)
	data := append(p.Bytes(), Delimiter...)
	if err := o.write(data); err != nil {
		o.setState(StateChannelError)
		return nil, &ChannelError{Op: "write", Err: err}
	}

	o.setState(StateAwaitingResponse)
	select {
	case b := <-frames:
		resp, err := ParsePackage(b)
		if err != nil {
			o.setState(StateProtocolError)
			log.Error(err)
			return nil, err
		}
		o.setState(StateDecoded)
		log.Debugf("Received %v", resp)
		return resp, nil
	case <-done:
		o.setState(StateChannelError)
		err := o.Err()
		if err == nil {
			err = ErrNotConnected
		}
		return nil, &ChannelError{Op: "read", Err: err}
	case <-ctx.Done():
		o.setState(StateChannelError)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ChannelError{Op: "read", Err: fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())}
		}
		return nil, &ChannelError{Op: "read", Err: ctx.Err()}
	}
}

// splitPackages is a bufio.SplitFunc cutting the stream at CR LF. A delimiter is
// only accepted as end of message if it does not fall inside the package announced
// by a valid header, so payload bytes equal to CR LF do not cut a package.
// Bytes which can not belong to a package are dropped without a token.
func splitPackages(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.IndexByte(data, StartByte)
	delim := bytes.Index(data, Delimiter)
	if start < 0 && delim < 0 {
		return len(data), nil, nil
	}
	if start > 0 && (delim < 0 || delim > start) {
		return start, nil, nil
	}

	for off := 0; off < len(data); {
		i := bytes.Index(data[off:], Delimiter)
		if i < 0 {
			break
		}
		end := off + i
		if start >= 0 && start < end {
			if len(data) < start+1+HeaderLength+checksumLen && !atEOF {
				// Delimiter may be part of the header, wait for the rest
				return 0, nil, nil
			}
			if n, ok := packageLength(data[start:]); ok && n <= maxPackageLen && start+n > end {
				next := end + len(Delimiter)
				if start+n+len(Delimiter) > len(data) && next < len(data) && data[next] == StartByte {
					if len(data) < next+1+HeaderLength+checksumLen && !atEOF {
						return 0, nil, nil
					}
					// A valid header right after the delimiter: the announced package was cut short
					if _, ok := packageLength(data[next:]); ok {
						return next, data[:end], nil
					}
				}
				off = end + 1
				continue
			}
		}
		return end + len(Delimiter), data[:end], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var (
	_ Channel = (*Device)(nil)
	_ Channel = (*SharedChannel)(nil)
)
