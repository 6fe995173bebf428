package xcom

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// Defaults of the Xcom-232i RS-232 link
const (
	DefaultBaud    = 115200
	DefaultTimeout = 3 * time.Second
)

// Device is the byte channel to one Xcom-232i, attached via serial device or a tcp socket
type Device struct {
	conn  io.ReadWriteCloser
	wlock sync.Mutex
	mu    sync.Mutex // guards everything below up to frames

	link      string
	connected bool
	err       error
	state     TransportState
	done      chan struct{}
	closeOnce *sync.Once

	frames  chan []byte
	reqLock sync.Mutex

	Baud    int
	Parity  serial.Parity
	Timeout time.Duration // applied when the request context has no deadline
}

// NewDevice is the factory method to create a new Device
func NewDevice() *Device {
	return &Device{
		Baud:    DefaultBaud,
		Parity:  serial.ParityNone,
		Timeout: DefaultTimeout,
	}
}

// Connect attaches to the Xcom via serial device or a tcp socket
func (o *Device) Connect(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return &ChannelError{Op: "open", Err: err}
	}

	var conn io.ReadWriteCloser
	switch u.Scheme {
	case "socket", "tcp":
		// Connect via network, e.g. a ser2net bridge
		c, err := net.Dial("tcp", u.Host)
		if err != nil {
			return &ChannelError{Op: "open", Err: err}
		}
		c.(*net.TCPConn).SetKeepAlive(true)
		c.(*net.TCPConn).SetKeepAlivePeriod(30 * time.Second)
		conn = c
	case "file", "":
		conn, err = serial.OpenPort(&serial.Config{Name: u.Path, Baud: o.Baud, Size: 8, Parity: o.Parity, StopBits: serial.Stop1})
		if err != nil {
			return &ChannelError{Op: "open", Err: err}
		}
	default:
		return &ChannelError{Op: "open", Err: fmt.Errorf("can not find a valid connection string in %q", link)}
	}

	o.mu.Lock()
	o.link = link
	o.mu.Unlock()
	o.Attach(conn)
	log.Infof("Connected to %v", link)
	return nil
}

// Attach uses an already opened connection and starts the receiving loop
func (o *Device) Attach(conn io.ReadWriteCloser) {
	o.mu.Lock()
	o.conn = conn
	o.connected = true
	o.err = nil
	o.state = StateIdle
	o.done = make(chan struct{})
	o.closeOnce = &sync.Once{}
	o.frames = make(chan []byte, 8)
	frames, done, once := o.frames, o.done, o.closeOnce
	o.mu.Unlock()

	go o.receive(conn, frames, done, once)
}

// Done returns a channel which is closed when the current link is closed or lost.
// Every Attach starts a new link with a new channel.
func (o *Device) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Close closes Device, closing underlying connection via serial or network
func (o *Device) Close() error {
	o.mu.Lock()
	if !o.connected {
		o.mu.Unlock()
		return io.ErrClosedPipe
	}
	o.connected = false
	conn, done, once := o.conn, o.done, o.closeOnce
	o.mu.Unlock()

	err := conn.Close()
	once.Do(func() { close(done) })
	return err
}

// Reconnect device
func (o *Device) Reconnect() error {
	o.Close()
	o.mu.Lock()
	link := o.link
	o.mu.Unlock()
	if link == "" {
		return &ChannelError{Op: "open", Err: fmt.Errorf("no link to reconnect to")}
	}
	return o.Connect(link)
}

// Connected reports whether the link is up
func (o *Device) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

// Err returns the error which terminated the link, if any
func (o *Device) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *Device) write(b []byte) error {
	o.wlock.Lock()
	defer o.wlock.Unlock()

	o.mu.Lock()
	conn, connected := o.conn, o.connected
	o.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	n, err := conn.Write(b)
	log.Debugf("Write b='% x', n=%v, err=%v", b, n, err)
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	return err
}

// receive splits the inbound stream into messages until the link fails
func (o *Device) receive(conn io.Reader, frames chan<- []byte, done chan struct{}, once *sync.Once) {
	s := bufio.NewScanner(conn)
	s.Buffer(make([]byte, 0, 2*MsgMaxLength), maxPackageLen+len(Delimiter))
	s.Split(splitPackages)

	for s.Scan() {
		if len(s.Bytes()) == 0 {
			continue
		}
		b := append([]byte{}, s.Bytes()...)
		log.Debugf("Read b='% x'", b)
		select {
		case frames <- b:
		case <-done:
			return
		default:
			log.Warnf("Dropping unsolicited message '% x'", b)
		}
	}

	err := s.Err()
	if err == nil {
		err = io.EOF
	}

	o.mu.Lock()
	if o.done == done {
		if o.connected {
			log.Errorf("Link %v lost: %v", o.link, err)
		}
		o.err = err
		o.connected = false
	}
	o.mu.Unlock()
	once.Do(func() { close(done) })
}
