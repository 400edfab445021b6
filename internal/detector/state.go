package detector

import (
	"maps"
	"time"
)

// Epoch is the high-water mark used when a tracker has no issues at
// bootstrap. Every future issue is newer than it.
var Epoch = time.Unix(0, 0).UTC()

// State is the detector's cursor over one tracker. It lives in memory only;
// a restart begins again with a bootstrap poll.
type State struct {
	// Initialized is false until the first successful poll
	Initialized bool

	// HighWaterMark is the latest UpdatedAt seen across all polls
	HighWaterMark time.Time

	// LastSeen maps issue ID to the UpdatedAt observed in the previous
	// poll's result set. Issues that fell out of that result are absent.
	LastSeen map[string]time.Time
}

// Clone returns a deep copy of s
func (s State) Clone() State {
	out := s
	if s.LastSeen != nil {
		out.LastSeen = maps.Clone(s.LastSeen)
	}
	return out
}
