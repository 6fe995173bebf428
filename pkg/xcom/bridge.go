package xcom

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Bridge lets other programs talk to the Xcom over TCP while the daemon keeps
// using the link. Every peer request goes through Channel, so a SharedChannel
// gives each of them the same FIFO access as local callers.
type Bridge struct {
	Channel Channel

	mu    sync.Mutex
	peers map[net.Conn]struct{}
}

// Serve accepts peers on l until ctx is done or l fails
func (b *Bridge) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
		b.closePeers()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ChannelError{Op: "accept", Err: err}
		}
		log.Infof("Bridge peer %v connected", conn.RemoteAddr())
		b.addPeer(conn)
		go b.handle(ctx, conn)
	}
}

func (b *Bridge) addPeer(conn net.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peers == nil {
		b.peers = make(map[net.Conn]struct{})
	}
	b.peers[conn] = struct{}{}
}

func (b *Bridge) closePeers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.peers {
		conn.Close()
	}
}

// handle forwards every package of one peer and writes back the response.
// Garbage and requests the link could not answer are dropped, the peer sees
// the same silence it would get from a real Xcom.
func (b *Bridge) handle(ctx context.Context, conn net.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.peers, conn)
		b.mu.Unlock()
		conn.Close()
		log.Infof("Bridge peer %v disconnected", conn.RemoteAddr())
	}()

	s := bufio.NewScanner(conn)
	s.Buffer(make([]byte, 0, 2*MsgMaxLength), maxPackageLen+len(Delimiter))
	s.Split(splitPackages)

	for s.Scan() {
		req, err := ParsePackage(s.Bytes())
		if err != nil {
			log.Warnf("Bridge peer %v: %v", conn.RemoteAddr(), err)
			continue
		}
		resp, err := b.Channel.SendPackage(ctx, req)
		if err != nil {
			log.Warnf("Bridge peer %v: %v", conn.RemoteAddr(), err)
			if errors.Is(err, context.Canceled) {
				return
			}
			continue
		}
		if _, err := conn.Write(append(resp.Bytes(), Delimiter...)); err != nil {
			log.Warnf("Bridge peer %v: %v", conn.RemoteAddr(), err)
			return
		}
	}
}
