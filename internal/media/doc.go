// Package media owns the local capture handle and the outbound tracks every
// peer link attaches. Muting audio or video is a local flag flip on the
// existing tracks; no peer link is ever renegotiated for it, the remote side
// simply stops receiving samples.
package media
