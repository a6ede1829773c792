package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	allocErr   error
	allocCalls []int64
	freeCalls  []int64
}

func (f *fakeEngine) Allocate(bytes int64) error {
	f.allocCalls = append(f.allocCalls, bytes)
	return f.allocErr
}

func (f *fakeEngine) Free(bytes int64) error {
	f.freeCalls = append(f.freeCalls, bytes)
	return nil
}

func TestInitialState(t *testing.T) {
	m := NewMachine(600)
	assert.Equal(t, Hungry, m.State())
	assert.Equal(t, 600, m.Timer())
}

func TestGrowFromSteadyEntersHungryAndAllocates(t *testing.T) {
	eng := &fakeEngine{}
	m := NewMachine(600)
	m.Bind(eng)

	require.NoError(t, m.Step(400<<20))
	assert.Equal(t, Hungry, m.State())
	assert.Equal(t, 600, m.Timer())
	require.Len(t, eng.allocCalls, 1)
	assert.Equal(t, int64(400<<20), eng.allocCalls[0])
}

// TestShrinkAfterCooldown reproduces the "Shrink after cooldown" scenario:
// Steady with excess swap transitions to Overfed, stays there for the full
// cooldown, then on timeout returns to Steady and frees swap.
func TestShrinkAfterCooldown(t *testing.T) {
	eng := &fakeEngine{}
	m := NewMachine(3)
	m.Bind(eng)
	m.state = Steady
	m.timer = 3

	require.NoError(t, m.Step(-100))
	assert.Equal(t, Overfed, m.State())
	assert.Equal(t, 3, m.Timer())

	require.NoError(t, m.Step(-100))
	assert.Equal(t, Overfed, m.State())
	assert.Equal(t, 2, m.Timer())

	require.NoError(t, m.Step(-100))
	assert.Equal(t, Overfed, m.State())
	assert.Equal(t, 1, m.Timer())

	require.NoError(t, m.Step(-100))
	assert.Equal(t, Steady, m.State())
	require.Len(t, eng.freeCalls, 1)
	assert.Equal(t, int64(100), eng.freeCalls[0])
}

func TestOverfedReturnsToSteadyWithoutWaitingOutCooldown(t *testing.T) {
	m := NewMachine(600)
	m.Bind(&fakeEngine{})
	m.state = Overfed
	m.timer = 600

	require.NoError(t, m.Step(0))
	assert.Equal(t, Steady, m.State())
	assert.Equal(t, 600, m.Timer())
}

// TestDietOnHardAllocationFailure reproduces the "Diet on ENOSPC" scenario:
// a hard allocation failure latches need_diet, and the next Step enters
// Diet; positive recommendations are then ignored, and a negative
// recommendation triggers a free without leaving Diet.
func TestDietOnHardAllocationFailure(t *testing.T) {
	eng := &fakeEngine{allocErr: errors.New("ENOSPC")}
	m := NewMachine(600)
	m.Bind(eng)

	err := m.Step(100)
	require.Error(t, err)
	assert.Equal(t, Hungry, m.State(), "no transition on a failed allocation")

	require.NoError(t, m.Step(100))
	assert.Equal(t, Diet, m.State())

	require.NoError(t, m.Step(100))
	assert.Equal(t, Diet, m.State(), "positive recommendations are ignored in Diet")
	assert.Len(t, eng.allocCalls, 1, "Diet must not re-attempt allocation")

	require.NoError(t, m.Step(-50))
	assert.Equal(t, Diet, m.State(), "a free in Diet does not leave Diet")
	require.Len(t, eng.freeCalls, 1)
	assert.Equal(t, int64(50), eng.freeCalls[0])
}

func TestNeedDietLatchOverridesEverything(t *testing.T) {
	m := NewMachine(600)
	m.Bind(&fakeEngine{})
	m.state = Hungry
	m.RequestDiet()

	require.NoError(t, m.Step(400))
	assert.Equal(t, Diet, m.State())
}

func TestForceExpireTriggersImmediateTimeout(t *testing.T) {
	eng := &fakeEngine{}
	m := NewMachine(600)
	m.Bind(eng)
	m.state = Overfed
	m.timer = 600

	m.ForceExpire()
	require.NoError(t, m.Step(-64))
	assert.Equal(t, Steady, m.State())
	require.Len(t, eng.freeCalls, 1)
	assert.Equal(t, int64(64), eng.freeCalls[0])
}

func TestTimerStaysWithinBounds(t *testing.T) {
	m := NewMachine(5)
	m.Bind(&fakeEngine{})
	for i := 0; i < 50; i++ {
		_ = m.Step(0)
		assert.GreaterOrEqual(t, m.Timer(), 0)
		assert.LessOrEqual(t, m.Timer(), m.CooldownSeconds)
	}
}
