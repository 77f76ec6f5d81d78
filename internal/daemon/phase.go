package daemon

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/yeet/internal/metrics"
)

// Phase is the lifecycle stage of a daemon.
type Phase string

const (
	PhaseSpawning Phase = "spawning"
	PhaseServing  Phase = "serving"
	PhaseURLKnown Phase = "url_known"
	PhaseFailed   Phase = "failed"
	PhaseExited   Phase = "exited"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{PhaseSpawning, PhaseServing, PhaseURLKnown, PhaseFailed, PhaseExited}

var transitions = map[Phase][]Phase{
	PhaseSpawning: {PhaseServing, PhaseFailed, PhaseExited},
	PhaseServing:  {PhaseURLKnown, PhaseFailed, PhaseExited},
	PhaseURLKnown: {PhaseFailed, PhaseExited},
	PhaseFailed:   {PhaseExited},
	PhaseExited:   {},
}

func phaseNames() []string {
	out := make([]string, len(Phases))
	for i, p := range Phases {
		out[i] = string(p)
	}
	return out
}

// Machine tracks the daemon phase. Transitions are logged and exported as
// metrics.
type Machine struct {
	mu  sync.Mutex
	cur Phase
	log *slog.Logger
}

func NewMachine(log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	metrics.SetPhase(string(PhaseSpawning), phaseNames())
	return &Machine{cur: PhaseSpawning, log: log}
}

func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// To moves to next. Moving to the current phase is a no-op; any other move
// not allowed from the current phase is rejected.
func (m *Machine) To(next Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == next {
		return nil
	}
	allowed := false
	for _, p := range transitions[m.cur] {
		if p == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid phase transition %s -> %s", m.cur, next)
	}
	prev := m.cur
	m.cur = next
	m.log.Info("daemon phase", "from", prev, "to", next)
	metrics.RecordPhaseTransition(string(prev), string(next))
	metrics.SetPhase(string(next), phaseNames())
	return nil
}
