// Package room implements the per-call coordinator: the roster of known
// participants and the set of peer links, driven by the signaling channel.
//
// All roster and link mutation happens on one event loop per call, so the
// coordinator needs no locking of its own. Offering follows join order: a
// coordinator offers only when it observes another participant's Join, never
// on its own, which makes offer glare impossible without tie-breaking.
package room
