package rtc

import (
	"sync"

	"github.com/google/uuid"
)

// TrackKind identifies a media direction channel.
type TrackKind string

const (
	// TrackAudio is a microphone/audio track.
	TrackAudio TrackKind = "audio"
	// TrackVideo is a camera/video track.
	TrackVideo TrackKind = "video"
)

// Constraints selects which channels a caller wants from the capture device.
type Constraints struct {
	Audio bool `mapstructure:"audio"`
	Video bool `mapstructure:"video"`
}

// CaptureDevice opens the platform capture device. It is the single external
// seam for local media; tests and headless deployments provide their own
// implementation.
//
// Open may block while the platform asks the user for permission.
type CaptureDevice interface {
	Open(c Constraints) (*MediaStream, error)
}

// trackState holds the mutable flags of a track. Independent clones get
// their own state; shared clones alias the parent's, which is the degraded
// global-mute mode for platforms without per-clone enable flags.
type trackState struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newTrackState() *trackState {
	return &trackState{enabled: true}
}

func (s *trackState) lock()   { s.mu.Lock() }
func (s *trackState) unlock() { s.mu.Unlock() }

// MediaTrack is a single audio or video track. Clones of a track reference
// the same underlying source; whether they share the enable flag depends on
// how they were cloned.
type MediaTrack struct {
	id    string
	kind  TrackKind
	state *trackState
}

// NewMediaTrack creates an enabled track of the given kind.
func NewMediaTrack(kind TrackKind) *MediaTrack {
	return &MediaTrack{
		id:    uuid.NewString(),
		kind:  kind,
		state: newTrackState(),
	}
}

// ID returns the track identifier.
func (t *MediaTrack) ID() string { return t.id }

// Kind returns the track kind.
func (t *MediaTrack) Kind() TrackKind { return t.kind }

// Enabled reports whether the track currently produces media.
func (t *MediaTrack) Enabled() bool {
	t.state.lock()
	defer t.state.unlock()
	return t.state.enabled && !t.state.stopped
}

// SetEnabled toggles the track. On a shared-state clone this affects every
// clone of the source track.
func (t *MediaTrack) SetEnabled(enabled bool) {
	t.state.lock()
	defer t.state.unlock()
	t.state.enabled = enabled
}

// Stop permanently ends the track.
func (t *MediaTrack) Stop() {
	t.state.lock()
	defer t.state.unlock()
	t.state.stopped = true
}

// Stopped reports whether the track has ended.
func (t *MediaTrack) Stopped() bool {
	t.state.lock()
	defer t.state.unlock()
	return t.state.stopped
}

// clone produces a track backed by the same source. With independent state
// the clone carries its own enable flag; otherwise it aliases the parent's.
func (t *MediaTrack) clone(independent bool) *MediaTrack {
	c := &MediaTrack{
		id:   uuid.NewString(),
		kind: t.kind,
	}
	if independent {
		c.state = newTrackState()
	} else {
		c.state = t.state
	}
	return c
}

// MediaStream is an ordered set of tracks from one source.
type MediaStream struct {
	id     string
	tracks []*MediaTrack
}

// NewMediaStream creates a stream from the given tracks.
func NewMediaStream(tracks ...*MediaTrack) *MediaStream {
	return &MediaStream{
		id:     uuid.NewString(),
		tracks: tracks,
	}
}

// ID returns the stream identifier.
func (s *MediaStream) ID() string { return s.id }

// Tracks returns all tracks.
func (s *MediaStream) Tracks() []*MediaTrack { return s.tracks }

// TracksOfKind returns the tracks of one kind.
func (s *MediaStream) TracksOfKind(kind TrackKind) []*MediaTrack {
	var out []*MediaTrack
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// HasAudio reports whether the stream carries at least one audio track.
func (s *MediaStream) HasAudio() bool { return len(s.TracksOfKind(TrackAudio)) > 0 }

// HasVideo reports whether the stream carries at least one video track.
func (s *MediaStream) HasVideo() bool { return len(s.TracksOfKind(TrackVideo)) > 0 }

// Clone hands out a per-caller view of the stream. The clone carries every
// track of the source; the caller's constraints set the clone's initial
// enable flags instead of dropping tracks, so a channel the device captures
// but the caller did not ask for starts disabled. With independent false
// the clone aliases the source's flags and the constraints are left
// untouched: that is the degraded global-mute mode, where toggling any
// clone toggles them all.
func (s *MediaStream) Clone(c Constraints, independent bool) *MediaStream {
	out := &MediaStream{id: uuid.NewString()}
	for _, t := range s.tracks {
		ct := t.clone(independent)
		if independent {
			want := c.Audio
			if t.kind == TrackVideo {
				want = c.Video
			}
			ct.SetEnabled(want)
		}
		out.tracks = append(out.tracks, ct)
	}
	return out
}

// StopAll stops every track in the stream.
func (s *MediaStream) StopAll() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
