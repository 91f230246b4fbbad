// Package resolver decides conflicts between a local and a remote
// version of the same event. Resolvers are pure: identical inputs give
// identical outcomes, with no reliance on wall-clock now.
package resolver

import (
	"github.com/driftkit/driftsync/internal/event"
)

// Resolution names the side a resolver picked.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerged Resolution = "merged"
)

// Strategy names accepted in configuration. Manual has no Resolver:
// the engine parks manual conflicts until an explicit resolution call.
const (
	StrategyLocalWins     = "local-wins"
	StrategyRemoteWins    = "remote-wins"
	StrategyLastWriteWins = "last-write-wins"
	StrategyManual        = "manual"
)

// Outcome is a resolver's decision: which side won and the event that
// should supersede both versions.
type Outcome struct {
	Resolution Resolution
	Event      *event.Event
}

// Resolver maps a (local, remote) pair of conflicting event versions to
// a resolution. Implementations must be deterministic.
type Resolver interface {
	// Name returns the strategy key this resolver registers under.
	Name() string
	Resolve(local, remote *event.Event) Outcome
}

// LocalWins always keeps the local version unchanged.
type LocalWins struct{}

func (LocalWins) Name() string { return StrategyLocalWins }

func (LocalWins) Resolve(local, remote *event.Event) Outcome {
	return Outcome{Resolution: ResolutionLocal, Event: local}
}

// RemoteWins always adopts the remote version.
type RemoteWins struct{}

func (RemoteWins) Name() string { return StrategyRemoteWins }

func (RemoteWins) Resolve(local, remote *event.Event) Outcome {
	return Outcome{Resolution: ResolutionRemote, Event: remote}
}

// LastWriteWins picks the version with the greater logical timestamp.
// Ties break on device id, lexically lower winning; an exact tie on
// both falls back to the event id the same way. The tie-break is fixed
// so repeated resolution of the same pair always picks the same winner.
type LastWriteWins struct{}

func (LastWriteWins) Name() string { return StrategyLastWriteWins }

func (LastWriteWins) Resolve(local, remote *event.Event) Outcome {
	switch {
	case local.Timestamp > remote.Timestamp:
		return Outcome{Resolution: ResolutionLocal, Event: local}
	case local.Timestamp < remote.Timestamp:
		return Outcome{Resolution: ResolutionRemote, Event: remote}
	}
	if local.DeviceID != remote.DeviceID {
		if local.DeviceID < remote.DeviceID {
			return Outcome{Resolution: ResolutionLocal, Event: local}
		}
		return Outcome{Resolution: ResolutionRemote, Event: remote}
	}
	if local.ID <= remote.ID {
		return Outcome{Resolution: ResolutionLocal, Event: local}
	}
	return Outcome{Resolution: ResolutionRemote, Event: remote}
}
