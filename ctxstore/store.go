package ctxstore

import "time"

// NowFunc is overridable in tests for deterministic LastSeenAt values.
var NowFunc = time.Now

// Context is the per-peer state held by a Store (spec §3 "AviContext").
type Context struct {
	PeerID     string
	Data       map[string]interface{}
	Clock      VectorClock
	LastSeenAt int64
}

func emptyContext(peer string) Context {
	return Context{PeerID: peer, Data: map[string]interface{}{}, Clock: VectorClock{}}
}

// Store is the mapping PeerId -> AviContext described in spec §3,
// including the local peer's own entry. It is not safe for concurrent
// use; callers (the Runtime) serialize access the same way they do all
// other mutable state.
type Store struct {
	localPeer string
	entries   map[string]Context
}

// NewStore constructs a Store whose local entry is keyed by localPeer.
func NewStore(localPeer string) *Store {
	return &Store{
		localPeer: localPeer,
		entries:   map[string]Context{localPeer: emptyContext(localPeer)},
	}
}

// Get returns the stored context for peer (localPeer if peer is empty),
// or false if nothing has ever been recorded for it.
func (s *Store) Get(peer string) (Context, bool) {
	if peer == "" {
		peer = s.localPeer
	}
	c, ok := s.entries[peer]
	return c, ok
}

// Local returns the local peer's own context.
func (s *Store) Local() Context {
	return s.entries[s.localPeer]
}

// ApplyLocalPatch merges patch into the local context's data using
// JSONMerge (patch as B, i.e. patch wins on conflicting leaves), and
// increments the local clock's own component by 1 (spec §4.3 "Patch
// application"). Returns the updated local context.
func (s *Store) ApplyLocalPatch(patch map[string]interface{}) Context {
	local := s.entries[s.localPeer]
	merged := JSONMerge(local.Data, patch).(map[string]interface{})
	local.Data = merged
	local.Clock = local.Clock.Increment(s.localPeer)
	local.LastSeenAt = NowFunc().UnixNano()
	s.entries[s.localPeer] = local
	return local
}

// ReplaceLocal substitutes the local context's data wholesale and
// increments the local clock's own component by 1 (spec §4.3 "Replace").
func (s *Store) ReplaceLocal(value map[string]interface{}) Context {
	local := s.entries[s.localPeer]
	local.Data = value
	local.Clock = local.Clock.Increment(s.localPeer)
	local.LastSeenAt = NowFunc().UnixNano()
	s.entries[s.localPeer] = local
	return local
}

// MergeResult reports what MergeRemote did, so the Runtime can decide
// whether to emit ContextUpdated and whether to re-gossip.
type MergeResult struct {
	Applied bool // false means the incoming announce was stale and discarded
	Context Context
}

// MergeRemote applies the merge algorithm of spec §4.3 to an incoming
// {remote_peer, data, clock} announce against whatever is currently
// stored for remote_peer (or an empty context with a zero clock if none
// exists yet).
func (s *Store) MergeRemote(remotePeer string, data map[string]interface{}, clock VectorClock) MergeResult {
	local, ok := s.entries[remotePeer]
	if !ok {
		local = emptyContext(remotePeer)
	}

	// Stale: incoming clock <= local clock and not strictly greater.
	if clock.LessOrEqual(local.Clock) && !clock.Dominates(local.Clock) {
		return MergeResult{Applied: false, Context: local}
	}

	if clock.Dominates(local.Clock) {
		local.Data = data
		local.Clock = clock
	} else {
		local.Data = JSONMerge(local.Data, data).(map[string]interface{})
		local.Clock = Merge(local.Clock, clock)
	}
	local.LastSeenAt = NowFunc().UnixNano()
	s.entries[remotePeer] = local
	return MergeResult{Applied: true, Context: local}
}

// DeepCopy returns an independent copy of a JSON-shaped value (nested
// maps and slices produced by JSONMerge or a raw patch/replace value).
// Callers that hand a Context's Data out past the Store's owning
// goroutine must copy it first, or a later mutation by the caller would
// corrupt the Store's internal state (spec §5 "owns all mutable state
// behind no locks").
func DeepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}

// Evict removes a remote peer's stored context entirely; evicting the
// local peer is a no-op. It is library-level surface only: no Command
// reaches it and the runtime never calls it, so peer disconnects leave
// stored contexts in place.
func (s *Store) Evict(peer string) {
	if peer == s.localPeer {
		return
	}
	delete(s.entries, peer)
}
