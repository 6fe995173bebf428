package xcom

import (
	"container/list"
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Arbiter grants exclusive use of one physical channel for the duration of
// one request/response exchange. Waiters are served in arrival order, the
// lock is handed over directly so a newcomer can not overtake them.
type Arbiter struct {
	mu      sync.Mutex
	locked  bool
	waiters list.List // of chan struct{}
}

// Acquire returns once the caller holds the arbiter or ctx is done.
// Every successful Acquire must be paired with exactly one Release.
func (a *Arbiter) Acquire(ctx context.Context) error {
	a.mu.Lock()
	if !a.locked {
		a.locked = true
		a.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	e := a.waiters.PushBack(ch)
	a.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	a.mu.Lock()
	select {
	case <-ch:
		// Handed over while giving up, pass it on
		a.mu.Unlock()
		a.Release()
	default:
		a.waiters.Remove(e)
		a.mu.Unlock()
	}
	return ctx.Err()
}

// Release frees the arbiter or hands it to the longest waiting caller
func (a *Arbiter) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.locked {
		log.Warn("Release of a free arbiter")
		return
	}
	if e := a.waiters.Front(); e != nil {
		a.waiters.Remove(e)
		close(e.Value.(chan struct{}))
		return
	}
	a.locked = false
}

// Locked reports whether the arbiter is currently held
func (a *Arbiter) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

// Waiting returns the number of queued callers
func (a *Arbiter) Waiting() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waiters.Len()
}

var (
	arbitersLock sync.Mutex
	arbiters     = map[string]*Arbiter{}
)

// ArbiterFor returns the process wide arbiter of a link, creating it on first use
func ArbiterFor(link string) *Arbiter {
	arbitersLock.Lock()
	defer arbitersLock.Unlock()
	a, ok := arbiters[link]
	if !ok {
		a = &Arbiter{}
		arbiters[link] = a
	}
	return a
}

// SharedChannel serializes requests of independent callers onto one Channel
type SharedChannel struct {
	Channel Channel
	Arbiter *Arbiter
	Name    string // used as metrics label
}

// NewSharedChannel guards ch with the arbiter registered for link
func NewSharedChannel(link string, ch Channel) *SharedChannel {
	return &SharedChannel{Channel: ch, Arbiter: ArbiterFor(link), Name: link}
}

// SendPackage waits for the channel, sends p and always releases the channel
func (s *SharedChannel) SendPackage(ctx context.Context, p *Package) (*Package, error) {
	start := time.Now()
	if err := s.Arbiter.Acquire(ctx); err != nil {
		return nil, &ChannelError{Op: "acquire", Err: err}
	}
	defer s.Arbiter.Release()
	recordArbiterWait(s.Name, time.Since(start))

	return s.Channel.SendPackage(ctx, p)
}
