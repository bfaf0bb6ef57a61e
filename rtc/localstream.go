package rtc

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ReleaseToken identifies one acquisition of the shared local stream.
// The zero value is never a valid token.
type ReleaseToken uint64

// LocalStreamRegistry is the reference-counted owner of the single captured
// local media stream.
//
// The first acquisition opens the real capture device and stores the result
// as the shared stream; every later acquisition clones it with the caller's
// constraints without reopening the device. When the count returns to zero
// the shared stream is torn down: tracks are stopped, teardown observers run
// while the stream object is still valid, then the stream is freed.
//
// The registry is an explicit owned resource, injected into the Manager,
// rather than process-global state: two managers never share a count.
type LocalStreamRegistry struct {
	device          CaptureDevice
	independentMute bool

	mu         sync.Mutex
	shared     *MediaStream
	holders    map[ReleaseToken]struct{}
	next       ReleaseToken
	onTeardown []func(*MediaStream)
}

// NewLocalStreamRegistry creates a registry around the given capture device.
//
// independentMute selects whether hand-out clones carry their own track
// enable flags. When false (platforms without per-clone enable state) all
// clones share flags with the captured tracks, so muting one call mutes
// every call. This degraded mode is resolved once at startup, not sniffed
// at mute time.
func NewLocalStreamRegistry(device CaptureDevice, independentMute bool) *LocalStreamRegistry {
	return &LocalStreamRegistry{
		device:          device,
		independentMute: independentMute,
		holders:         make(map[ReleaseToken]struct{}),
		next:            1,
	}
}

// OnTeardown registers an observer invoked synchronously when the reference
// count transitions to zero, before the shared stream is freed.
func (r *LocalStreamRegistry) OnTeardown(fn func(*MediaStream)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTeardown = append(r.onTeardown, fn)
}

// Acquire opens (or reuses) the shared capture and returns a per-caller
// clone together with the token that must be passed to Release exactly once.
//
// A device failure is returned as *MediaAcquisitionError and leaves the
// registry unchanged.
func (r *LocalStreamRegistry) Acquire(c Constraints) (*MediaStream, ReleaseToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shared == nil {
		stream, err := r.device.Open(c)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Acquire",
				"error":    err.Error(),
			}).Error("Capture device open failed")
			return nil, 0, &MediaAcquisitionError{Cause: err}
		}
		r.shared = stream
		logrus.WithFields(logrus.Fields{
			"function":  "Acquire",
			"stream_id": stream.ID(),
			"audio":     stream.HasAudio(),
			"video":     stream.HasVideo(),
		}).Info("Capture device opened")
	}

	token := r.next
	r.next++
	r.holders[token] = struct{}{}

	clone := r.shared.Clone(c, r.independentMute)

	logrus.WithFields(logrus.Fields{
		"function": "Acquire",
		"token":    token,
		"refcount": len(r.holders),
	}).Debug("Local stream acquired")

	return clone, token, nil
}

// Release returns one acquisition. Releasing the last reference tears the
// shared stream down. Releasing a token twice is a no-op, so duplicate
// teardown calls along different exit paths stay harmless. It reports
// whether the token was live.
func (r *LocalStreamRegistry) Release(token ReleaseToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.holders[token]; !ok {
		return false
	}
	delete(r.holders, token)

	logrus.WithFields(logrus.Fields{
		"function": "Release",
		"token":    token,
		"refcount": len(r.holders),
	}).Debug("Local stream released")

	if len(r.holders) == 0 {
		r.teardownLocked()
	}
	return true
}

// ForceRelease drops every outstanding reference and tears the shared
// stream down, regardless of count. Used on the connection-failure path
// where normal refcounting no longer applies. Safe to call repeatedly.
func (r *LocalStreamRegistry) ForceRelease() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.holders) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "ForceRelease",
			"dropped":  len(r.holders),
		}).Warn("Forcing local stream release with live references")
		r.holders = make(map[ReleaseToken]struct{})
	}
	if r.shared != nil {
		r.teardownLocked()
	}
}

// teardownLocked stops the shared tracks, notifies observers while the
// stream is still valid, then frees it. Callers hold r.mu.
func (r *LocalStreamRegistry) teardownLocked() {
	stream := r.shared
	if stream == nil {
		return
	}

	stream.StopAll()
	for _, fn := range r.onTeardown {
		fn(stream)
	}
	r.shared = nil

	logrus.WithFields(logrus.Fields{
		"function":  "teardownLocked",
		"stream_id": stream.ID(),
	}).Info("Shared local stream torn down")
}

// Count returns the number of live references.
func (r *LocalStreamRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}

// Active reports whether the shared capture is currently open.
func (r *LocalStreamRegistry) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shared != nil
}
