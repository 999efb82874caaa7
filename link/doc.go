// Package link implements the peer/link registry of the relay.
//
// Every accepted peer is assigned a compact link id on first accept. Ids are
// allocated monotonically from a single-byte space and are never reused within
// a session, so stale references to a departed link simply stop resolving.
// The registry is an arena of link records addressed by id; each record owns
// the link's send buffer and its rate-limit state.
//
// The registry is not safe for concurrent use. The relay drives it from its
// event loop.
package link
