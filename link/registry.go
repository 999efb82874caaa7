package link

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/opd-ai/confrelay/limits"
	"github.com/opd-ai/confrelay/ratelimit"
	"github.com/opd-ai/confrelay/transport"
	"github.com/sirupsen/logrus"
)

// ID is the compact identifier of a link. It indexes the registry arena.
type ID uint8

// FallbackBudget is the target budget reported for a link the registry does
// not know (never allocated or already removed).
const FallbackBudget uint32 = 1_000_000

var (
	// ErrLinkSpaceExhausted indicates every id of the session has been allocated
	ErrLinkSpaceExhausted = errors.New("link id space exhausted")

	// ErrDuplicatePeer indicates the peer already has an active link
	ErrDuplicatePeer = errors.New("peer already has an active link")

	// ErrUnknownLink indicates the id does not name an active link
	ErrUnknownLink = errors.New("unknown link")
)

// Link is the record the registry keeps for one peer.
type Link struct {
	ID   ID
	Addr netip.Addr

	// Limiter holds the sampled budget and the rate-limit state machine.
	Limiter *ratelimit.Limiter

	// Queue holds admitted copies waiting for the downlink.
	Queue *SendBuffer

	// Uplink exposes the congestion state of the peer's uplink connection.
	// It may be nil until the uplink is attached.
	Uplink transport.CongestionSource

	// Downlink sends frames to the peer. It is nil until the downlink
	// connection has been established.
	Downlink transport.Sender

	active bool
}

// Active reports whether the link is still part of the conference.
func (l *Link) Active() bool {
	return l.active
}

// Registry maps peer identities to links.
type Registry struct {
	links    []*Link
	byAddr   map[netip.Addr]ID
	active   int
	maxQueue int
	log      *logrus.Entry
}

// NewRegistry creates an empty registry. maxQueue bounds every link's send
// buffer; zero leaves the buffers unbounded. A nil log uses the standard
// logger.
func NewRegistry(maxQueue int, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		log:      log,
		links:    make([]*Link, 0, 8),
		byAddr:   make(map[netip.Addr]ID),
		maxQueue: maxQueue,
	}
}

// Add allocates the next link id for addr.
func (r *Registry) Add(addr netip.Addr) (*Link, error) {
	addr = addr.Unmap()
	if id, exists := r.byAddr[addr]; exists {
		return nil, fmt.Errorf("%w: %s is link %d", ErrDuplicatePeer, addr, id)
	}
	if len(r.links) >= limits.MaxLinks {
		return nil, fmt.Errorf("%w: %d links allocated", ErrLinkSpaceExhausted, len(r.links))
	}

	l := &Link{
		ID:      ID(len(r.links)),
		Addr:    addr,
		Limiter: ratelimit.NewLimiter(),
		Queue:   NewSendBuffer(r.maxQueue),
		active:  true,
	}
	r.links = append(r.links, l)
	r.byAddr[addr] = l.ID
	r.active++

	r.log.WithFields(logrus.Fields{
		"function": "Add",
		"link_id":  l.ID,
		"peer":     addr.String(),
		"active":   r.active,
	}).Debug("Link allocated")

	return l, nil
}

// Get returns the active link with the given id.
func (r *Registry) Get(id ID) (*Link, bool) {
	if int(id) >= len(r.links) {
		return nil, false
	}
	l := r.links[id]
	if !l.active {
		return nil, false
	}
	return l, true
}

// Lookup returns the active link for a peer address.
func (r *Registry) Lookup(addr netip.Addr) (*Link, bool) {
	id, ok := r.byAddr[addr.Unmap()]
	if !ok {
		return nil, false
	}
	return r.Get(id)
}

// Remove takes a link out of the conference and discards its buffered
// frames. The id stays allocated and is never handed out again.
func (r *Registry) Remove(id ID) (*Link, error) {
	l, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLink, id)
	}

	l.active = false
	l.Queue.Reset()
	l.Downlink = nil
	l.Uplink = nil
	delete(r.byAddr, l.Addr)
	r.active--

	r.log.WithFields(logrus.Fields{
		"function": "Remove",
		"link_id":  id,
		"peer":     l.Addr.String(),
		"active":   r.active,
	}).Debug("Link removed")

	return l, nil
}

// Active returns the number of active links.
func (r *Registry) Active() int {
	return r.active
}

// Allocated returns the number of ids handed out in this session.
func (r *Registry) Allocated() int {
	return len(r.links)
}

// Each calls fn for every active link in id order.
func (r *Registry) Each(fn func(*Link)) {
	for _, l := range r.links {
		if l.active {
			fn(l)
		}
	}
}

// TargetBudget returns the forwarding budget of link id as a destination,
// or FallbackBudget when the id names no active link.
func (r *Registry) TargetBudget(id ID) uint32 {
	l, ok := r.Get(id)
	if !ok {
		return FallbackBudget
	}
	return l.Limiter.TargetBudget()
}
