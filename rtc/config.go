package rtc

import "time"

// DefaultAnswerTimeout is how long an outgoing invitation waits for an
// accept or decline before it is withdrawn.
const DefaultAnswerTimeout = 30 * time.Second

// Config is the orchestration layer's configuration surface.
type Config struct {
	// ICEServers is the static relay/traversal server list. An empty list
	// disables NAT traversal. Fresh credentials fetched from the transport
	// on connect take precedence.
	ICEServers []ICEServer `mapstructure:"ice_servers"`

	// AnswerTimeout bounds how long an invitation awaits an answer.
	// Zero selects DefaultAnswerTimeout.
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`

	// IndependentTrackMute reports whether the platform supports
	// independent enable flags on cloned tracks. When false, mute
	// operations apply globally across all concurrent calls.
	IndependentTrackMute bool `mapstructure:"independent_track_mute"`
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = DefaultAnswerTimeout
	}
	return c
}
