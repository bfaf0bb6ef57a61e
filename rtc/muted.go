package rtc

import "sync"

// MutedSnapshot is an immutable copy of a MutedState, used in event payloads
// and stanza bodies.
type MutedSnapshot struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// MutedState tracks per-channel mute flags for one direction of a session.
//
// The flags reflect the actual enabled/disabled status of the underlying
// tracks and are recomputed, not cached, whenever the track set changes.
// Local and remote MutedState are independently authoritative per side; a
// remote mute notification never touches local track enable flags.
type MutedState struct {
	mu         sync.RWMutex
	audioMuted bool
	videoMuted bool
}

// NewMutedState creates a MutedState with the given initial flags.
func NewMutedState(audioMuted, videoMuted bool) *MutedState {
	return &MutedState{audioMuted: audioMuted, videoMuted: videoMuted}
}

// NegotiatedMuted derives the muted state of a freshly negotiated call by
// comparing the requested channels against the tracks the stream actually
// carries.
//
// Requesting a channel the stream lacks does not mute it: there is nothing
// to mute, so the flag reports false. Not requesting a channel the stream
// does carry mutes it.
func NegotiatedMuted(stream *MediaStream, want Constraints) *MutedState {
	return &MutedState{
		audioMuted: stream.HasAudio() && !want.Audio,
		videoMuted: stream.HasVideo() && !want.Video,
	}
}

// Recompute re-derives both flags from the enable status of the stream's
// tracks. A channel with no tracks reports unmuted; a channel whose tracks
// are all disabled reports muted.
func (m *MutedState) Recompute(stream *MediaStream) {
	audio := recomputeKind(stream, TrackAudio)
	video := recomputeKind(stream, TrackVideo)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioMuted = audio
	m.videoMuted = video
}

func recomputeKind(stream *MediaStream, kind TrackKind) bool {
	tracks := stream.TracksOfKind(kind)
	if len(tracks) == 0 {
		return false
	}
	for _, t := range tracks {
		if t.Enabled() {
			return false
		}
	}
	return true
}

// AudioMuted reports whether the audio channel is muted.
func (m *MutedState) AudioMuted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.audioMuted
}

// VideoMuted reports whether the video channel is muted.
func (m *MutedState) VideoMuted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.videoMuted
}

// Set updates the flag for one channel.
func (m *MutedState) Set(kind TrackKind, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case TrackAudio:
		m.audioMuted = muted
	case TrackVideo:
		m.videoMuted = muted
	}
}

// Muted reports the flag for one channel.
func (m *MutedState) Muted(kind TrackKind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kind == TrackAudio {
		return m.audioMuted
	}
	return m.videoMuted
}

// Snapshot returns an immutable copy of both flags.
func (m *MutedState) Snapshot() MutedSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MutedSnapshot{Audio: m.audioMuted, Video: m.videoMuted}
}
