package launcher

import "github.com/loykin/yeet/internal/state"

// Decision is what a share request does with the existing record.
type Decision int

const (
	// Spawn: no record exists.
	Spawn Decision = iota
	// Reclaim: the recorded daemon is dead; drop the record and spawn.
	Reclaim
	// Reuse: a live job already serves the requested port.
	Reuse
	// Conflict: a live job serves a different port.
	Conflict
)

func (d Decision) String() string {
	switch d {
	case Spawn:
		return "spawn"
	case Reclaim:
		return "reclaim"
	case Reuse:
		return "reuse"
	case Conflict:
		return "conflict"
	}
	return "unknown"
}

// Decide classifies the current record against a request for port.
func Decide(rec state.Record, found, alive bool, port int) Decision {
	switch {
	case !found:
		return Spawn
	case !alive:
		return Reclaim
	case rec.Port == port:
		return Reuse
	default:
		return Conflict
	}
}
