// Package signaling defines the envelope protocol participants exchange while
// negotiating peer links, the room-scoped broadcast Channel they exchange it
// over, and the WebSocket relay that implements that channel.
//
// The relay broadcasts every envelope to all other room members; addressed
// envelopes (offer/answer/candidate) carry a target field and each participant
// discards envelopes not addressed to it. This trades bandwidth for transport
// simplicity: the relay keeps no per-pair routing state.
package signaling
