// Package policy implements the four-state allocation policy machine that
// turns a continuous pressure recommendation into discrete allocate/free
// actions, with hysteresis and a cooldown timer to resist thrash.
package policy

// State is one of the four allocation-policy states.
type State int

const (
	// Diet is entered after a hard allocation failure; growth is inhibited
	// until the cooldown timer expires and the machine moves to Steady.
	Diet State = iota
	// Hungry is the initial state and the state entered whenever a positive
	// recommendation fires outside Diet.
	Hungry
	// Steady is the neutral state reached after a cooldown timeout.
	Steady
	// Overfed is entered from Steady when shrinking is recommended, and
	// leads to an actual free once its cooldown times out.
	Overfed
)

func (s State) String() string {
	switch s {
	case Diet:
		return "diet"
	case Hungry:
		return "hungry"
	case Steady:
		return "steady"
	case Overfed:
		return "overfed"
	default:
		return "unknown"
	}
}

// Engine is the subset of the swap-file engine the state machine drives.
// It is injected so the machine can be tested against a fake.
type Engine interface {
	// Allocate attempts to grow swap capacity by bytes. A hard failure
	// (out of space, I/O error) returns an error; the caller latches
	// NeedDiet in response.
	Allocate(bytes int64) error
	// Free shrinks swap capacity by bytes.
	Free(bytes int64) error
}

// Machine holds the current policy state, its cooldown timer, and the
// latched need-diet flag.
type Machine struct {
	CooldownSeconds int

	state    State
	timer    int
	needDiet bool
	eng      Engine
}

// NewMachine constructs a Machine in its initial Hungry state with the
// timer set to cooldownSeconds.
func NewMachine(cooldownSeconds int) *Machine {
	return &Machine{
		CooldownSeconds: cooldownSeconds,
		state:           Hungry,
		timer:           cooldownSeconds,
	}
}

// State returns the current policy state.
func (m *Machine) State() State { return m.state }

// Timer returns the remaining cooldown ticks.
func (m *Machine) Timer() int { return m.timer }

// RequestDiet latches the need-diet flag, to be serviced on the next Step.
// Called by the swap-file engine after a hard allocation failure.
func (m *Machine) RequestDiet() { m.needDiet = true }

func (m *Machine) transitionTo(s State) {
	m.state = s
	m.timer = m.CooldownSeconds
}

// Step evaluates one tick's recommendation (signed bytes, positive =
// allocate, negative = free) and drives the injected engine. The checks
// run in a fixed order: the need-diet latch first, then a positive
// recommendation, then the cooldown timeout, then the per-state rules.
//
// Engine errors from Allocate are treated as hard failures: they cause
// RequestDiet to latch for service on the next Step. Engine errors from
// Free are not treated specially by the machine; its caller may still
// wish to log them.
func (m *Machine) Step(recommendation int64) error {
	if m.needDiet {
		m.needDiet = false
		m.transitionTo(Diet)
		return nil
	}

	m.timer--

	if recommendation > 0 && m.state != Diet {
		if err := m.engineAllocate(recommendation); err != nil {
			m.needDiet = true
			return err
		}
		m.transitionTo(Hungry)
		return nil
	}

	if m.timer <= 0 {
		leavingOverfed := m.state == Overfed
		m.transitionTo(Steady)
		if leavingOverfed {
			return m.engineFree(-recommendation)
		}
		return nil
	}

	switch m.state {
	case Diet:
		if recommendation < 0 {
			return m.engineFree(-recommendation)
		}
	case Hungry:
		// Timer counts down; general rules above cover every exit.
	case Steady:
		if recommendation < 0 {
			m.transitionTo(Overfed)
		}
	case Overfed:
		if recommendation >= 0 {
			m.transitionTo(Steady)
		}
	}
	return nil
}

// engineAllocate and engineFree are safe to call before Bind: a Machine
// without an engine is usable for state-transition unit tests that never
// need to exercise allocate/free.
func (m *Machine) engineAllocate(bytes int64) error {
	if m.eng == nil {
		return nil
	}
	return m.eng.Allocate(bytes)
}

func (m *Machine) engineFree(bytes int64) error {
	if m.eng == nil {
		return nil
	}
	return m.eng.Free(bytes)
}

// Bind attaches the engine this machine drives. Must be called before the
// first Step that issues an allocate/free action.
func (m *Machine) Bind(e Engine) { m.eng = e }

// ForceExpire zeroes the cooldown timer, so the next Step behaves as
// though the cooldown had already elapsed. Used to service a force-adjust
// request (SIGUSR2) without waiting out the timer.
func (m *Machine) ForceExpire() { m.timer = 0 }
