package collector

import (
	"sync"

	"github.com/route-beacon/risotto/internal/bgp"
)

// peer is the mutable per-peer record held inside a router: its
// descriptive metadata plus the set of prefixes currently announced
// (invariant I1, spec.md §3).
type peer struct {
	meta      PeerMeta
	announced map[bgp.Prefix]struct{}
}

func newPeer(meta PeerMeta) *peer {
	return &peer{meta: meta, announced: make(map[bgp.Prefix]struct{})}
}

// router is the mutable per-router record: its peer set, keyed by PeerKey.
type router struct {
	peers map[PeerKey]*peer
}

// Index is the three-level router → peer → announced-prefix index
// (spec.md §4.3). A single RWMutex guards the whole tree; all
// operations are linearization points with respect to each other, and
// Snapshot takes the read lock for the duration of the copy so it
// observes a consistent view without blocking on I/O.
//
// When Enabled is false, every observe operation reports "emit" and
// every note operation reports nothing drained: dedup and synthetic
// withdraws are bypassed entirely, per spec.md §4.3.
type Index struct {
	mu      sync.RWMutex
	routers map[RouterKey]*router
	enabled bool
}

// NewIndex returns an empty Index. enabled selects whether dedup and
// synthetic-withdraw bookkeeping are active; when false, all observe
// operations are no-ops that always report "emit".
func NewIndex(enabled bool) *Index {
	return &Index{
		routers: make(map[RouterKey]*router),
		enabled: enabled,
	}
}

func (x *Index) getRouter(rk RouterKey) *router {
	r, ok := x.routers[rk]
	if !ok {
		r = &router{peers: make(map[PeerKey]*peer)}
		x.routers[rk] = r
	}
	return r
}

// drainPeer empties a peer's announced set and returns what it held.
func drainPeer(p *peer) []bgp.Prefix {
	if len(p.announced) == 0 {
		return nil
	}
	out := make([]bgp.Prefix, 0, len(p.announced))
	for prefix := range p.announced {
		out = append(out, prefix)
	}
	p.announced = make(map[bgp.Prefix]struct{})
	return out
}

// NoteUp inserts an empty peer for (router, peerKey). If one already
// exists for that key (an "implicit reset", spec.md §4.2 S6), it is
// drained first and the drained prefixes are returned so the caller
// can emit a synthetic withdraw for each before the new PEER UP takes
// effect.
func (x *Index) NoteUp(rk RouterKey, pk PeerKey, meta PeerMeta) []bgp.Prefix {
	if !x.enabled {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	r := x.getRouter(rk)
	var drained []bgp.Prefix
	if existing, ok := r.peers[pk]; ok {
		drained = drainPeer(existing)
	}
	r.peers[pk] = newPeer(meta)
	return drained
}

// NoteDown atomically removes the peer and returns the prefixes it
// had announced, so the caller can emit one synthetic withdraw per
// prefix (spec.md I4).
func (x *Index) NoteDown(rk RouterKey, pk PeerKey) []bgp.Prefix {
	if !x.enabled {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	r, ok := x.routers[rk]
	if !ok {
		return nil
	}
	p, ok := r.peers[pk]
	if !ok {
		return nil
	}
	delete(r.peers, pk)
	return drainPeer(p)
}

// ObserveAnnounce returns true iff prefix was absent from the peer's
// announced set — i.e. the update should be emitted — and inserts it
// on true (invariant I2: a duplicate announce is dropped).
func (x *Index) ObserveAnnounce(rk RouterKey, pk PeerKey, prefix bgp.Prefix) bool {
	if !x.enabled {
		return true
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	r := x.getRouter(rk)
	p, ok := r.peers[pk]
	if !ok {
		// An announce for a peer not yet UP: the session layer is
		// expected to have dropped this before calling in (spec.md
		// §4.2 UpdateBeforeUp), but guard defensively rather than panic.
		return false
	}
	if _, present := p.announced[prefix]; present {
		return false
	}
	p.announced[prefix] = struct{}{}
	return true
}

// ObserveWithdraw returns true iff prefix was present in the peer's
// announced set — i.e. the update should be emitted — and removes it
// on true (invariant I3: a withdraw for an absent prefix is dropped).
func (x *Index) ObserveWithdraw(rk RouterKey, pk PeerKey, prefix bgp.Prefix) bool {
	if !x.enabled {
		return true
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	r, ok := x.routers[rk]
	if !ok {
		return false
	}
	p, ok := r.peers[pk]
	if !ok {
		return false
	}
	if _, present := p.announced[prefix]; !present {
		return false
	}
	delete(p.announced, prefix)
	return true
}

// DrainRouter removes a router and every one of its peers, returning
// every (peer, prefix) pair that was announced so the caller can emit
// a synthetic withdraw for each, plus the number of peers removed (so
// the caller can adjust a per-router peer-count gauge precisely,
// including peers drained with an empty announced set). Used on
// disconnect and on any fatal codec error (spec.md §4.2: "treat all
// active peers as DOWN").
func (x *Index) DrainRouter(rk RouterKey) ([]PeerPrefix, int) {
	if !x.enabled {
		return nil, 0
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	r, ok := x.routers[rk]
	if !ok {
		return nil, 0
	}
	delete(x.routers, rk)

	var out []PeerPrefix
	for pk, p := range r.peers {
		for prefix := range p.announced {
			out = append(out, PeerPrefix{Peer: pk, Prefix: prefix})
		}
	}
	return out, len(r.peers)
}

// PeerView is a read-only description of one peer's state, as exposed
// by Inspect for introspection and by snapshot serialization.
type PeerView struct {
	Key            PeerKey
	Meta           PeerMeta
	AnnouncedCount int
	Prefixes       []bgp.Prefix
}

// RouterView is a read-only description of one router's peers.
type RouterView struct {
	Key   RouterKey
	Peers []PeerView
}

// Inspect returns a read-locked, deep-copied snapshot of the entire
// index for introspection (§6 GET /) or for binary serialization
// (§4.5). Because the copy happens under the read lock, writers are
// blocked only for the duration of the copy, never for the duration of
// any I/O the caller subsequently performs on the result.
func (x *Index) Inspect() []RouterView {
	x.mu.RLock()
	defer x.mu.RUnlock()

	views := make([]RouterView, 0, len(x.routers))
	for rk, r := range x.routers {
		rv := RouterView{Key: rk, Peers: make([]PeerView, 0, len(r.peers))}
		for pk, p := range r.peers {
			prefixes := make([]bgp.Prefix, 0, len(p.announced))
			for prefix := range p.announced {
				prefixes = append(prefixes, prefix)
			}
			rv.Peers = append(rv.Peers, PeerView{
				Key:            pk,
				Meta:           p.meta,
				AnnouncedCount: len(prefixes),
				Prefixes:       prefixes,
			})
		}
		views = append(views, rv)
	}
	return views
}

// Restore replaces the index's contents with the given views, as
// produced by a prior Inspect/snapshot round-trip. Used only at
// startup, before the BMP listener begins accepting connections.
func (x *Index) Restore(views []RouterView) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.routers = make(map[RouterKey]*router, len(views))
	for _, rv := range views {
		r := &router{peers: make(map[PeerKey]*peer, len(rv.Peers))}
		for _, pv := range rv.Peers {
			p := newPeer(pv.Meta)
			for _, prefix := range pv.Prefixes {
				p.announced[prefix] = struct{}{}
			}
			r.peers[pv.Key] = p
		}
		x.routers[rv.Key] = r
	}
}

// RouterCount reports the number of routers currently tracked.
func (x *Index) RouterCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.routers)
}
