// Package peerlink implements the per-remote-participant negotiation state
// machine over a WebRTC PeerConnection.
//
// A link is created in exactly one role. The participant that was already in
// the room offers; the newcomer answers. Candidates arriving before the
// remote description are buffered in order and applied once it is set, because
// trickle ICE and broadcast signaling can interleave them ahead of the
// offer/answer they belong to.
package peerlink
