package swapfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) record(level, msg string) { l.lines = append(l.lines, level+": "+msg) }
func (l *recordingLogger) Debug(msg string, _ ...any)  { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)   { l.record("info", msg) }
func (l *recordingLogger) Notice(msg string, _ ...any) { l.record("notice", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)   { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any)  { l.record("error", msg) }

func (l *recordingLogger) has(level string) bool {
	for _, line := range l.lines {
		if strings.HasPrefix(line, level+":") {
			return true
		}
	}
	return false
}

const properHeader = "Filename                                Type            Size            Used            Priority"

func TestReconcileAdoptsOwnedEntry(t *testing.T) {
	r := NewRoster("/swap", 4096)
	log := &recordingLogger{}
	body := properHeader + "\n" +
		"/swap/0                                 file            1048576         0               -2\n"

	require.NoError(t, r.reconcileFrom(strings.NewReader(body), nil, 7, log))
	assert.True(t, r.ProcSwapsValidated())

	e := r.Entry(0)
	assert.True(t, e.Active())
	assert.Equal(t, int64(1048576*1024), e.SizeBytes)
	assert.Equal(t, int64(7), e.CreatedTick)
	assert.True(t, e.ObservedInWild)
	assert.True(t, log.has("notice"))
}

func TestReconcileIgnoresUnownedAndNonFileRows(t *testing.T) {
	r := NewRoster("/swap", 4096)
	body := properHeader + "\n" +
		"/dev/sda2                               partition       2097148         0               -2\n" +
		"/other/0                                file            1048576         0               -2\n"

	require.NoError(t, r.reconcileFrom(strings.NewReader(body), nil, 1, nil))
	assert.Equal(t, 0, r.ActiveCount())
}

func TestReconcileHeaderToleratesRelocation(t *testing.T) {
	r := NewRoster("/swap", 4096)
	// A leading blank-ish line followed by the header appearing on the
	// third rather than first line, per the kernel bug this format must
	// tolerate.
	body := "\n" +
		"/swap/2                                 file            2097152         0               -2\n" +
		properHeader + "\n"

	require.NoError(t, r.reconcileFrom(strings.NewReader(body), nil, 1, nil))
	assert.True(t, r.ProcSwapsValidated())
	assert.True(t, r.Entry(2).Active())
}

func TestReconcileRejectsUnrecognizedLine(t *testing.T) {
	r := NewRoster("/swap", 4096)
	body := "this is not a header and not a data row\n"
	err := r.reconcileFrom(strings.NewReader(body), nil, 1, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcSwapsFormat)
}

func TestReconcileClearsExternallyDeactivatedEntry(t *testing.T) {
	r := NewRoster("/swap", 4096)
	r.entries[0] = SwapEntry{SizeBytes: 1048576 * 1024, ObservedInWild: true}

	require.NoError(t, r.reconcileFrom(strings.NewReader(properHeader+"\n"), nil, 1, nil))
	assert.False(t, r.Entry(0).Active())
}

func TestReconcileIsIdempotentOnUnchangedInput(t *testing.T) {
	r := NewRoster("/swap", 4096)
	body := properHeader + "\n" +
		"/swap/0                                 file            1048576         0               -2\n"

	require.NoError(t, r.reconcileFrom(strings.NewReader(body), nil, 1, nil))
	first := r.Entry(0)
	require.NoError(t, r.reconcileFrom(strings.NewReader(body), nil, 2, nil))
	second := r.Entry(0)

	assert.Equal(t, first.SizeBytes, second.SizeBytes)
	assert.Equal(t, first.CreatedTick, second.CreatedTick, "reconcile must not re-adopt an already-active entry")
	assert.True(t, second.ObservedInWild)
}

func TestReconcileLogsSizeChangeOnPreviouslyObservedEntry(t *testing.T) {
	r := NewRoster("/swap", 4096)
	r.entries[0] = SwapEntry{SizeBytes: 2097152 * 1024, ObservedInWild: true}
	log := &recordingLogger{}
	body := properHeader + "\n" +
		"/swap/0                                 file            1048576         0               -2\n"

	require.NoError(t, r.reconcileFrom(strings.NewReader(body), nil, 1, log))
	assert.True(t, log.has("notice"))
}

func TestReconcileLogsUsedGreaterThanSizeAsNotice(t *testing.T) {
	r := NewRoster("/swap", 4096)
	log := &recordingLogger{}
	body := properHeader + "\n" +
		"/swap/0                                 file            1024            2048            -2\n"

	require.NoError(t, r.reconcileFrom(strings.NewReader(body), nil, 1, log))
	assert.True(t, log.has("notice"))
}
