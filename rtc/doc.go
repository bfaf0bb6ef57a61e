// Package rtc implements the signaling orchestration layer between an
// XMPP-style message transport and a WebRTC media engine.
//
// The package coordinates the handshake, lifecycle and muted state of
// one-to-one and multi-party audio/video calls:
//
//   - the call-request protocol (invite, accept, decline, cancel,
//     broadcast to a bare JID, answer timeout)
//   - the per-peer session registry and its consistency rules
//   - reference-counted ownership of the single shared local capture
//     device across concurrent sessions
//   - muted-state negotiation between local and remote tracks
//
// The message transport and the media-negotiation engine are external
// collaborators behind the Transport and Engine interfaces; UI code observes
// the Manager's emitted events and never touches protocol state directly.
//
// The design follows the established patterns of this codebase:
//   - Interface-based collaborators for testability
//   - Thread-safe state with explicit mutex discipline
//   - Injectable time source for deterministic timeout tests
package rtc
