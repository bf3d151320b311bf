package audiopriority

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mateusbadalotti/audio-priority/devices"
	"github.com/mateusbadalotti/audio-priority/internal/testutil"
	"github.com/mateusbadalotti/audio-priority/priority"
)

const (
	testDebounce = 5 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 2 * time.Millisecond
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func outDev(uid string) devices.Device {
	return devices.Device{
		ID:        devices.DeviceID("live-" + uid),
		UID:       uid,
		Name:      "Device " + uid,
		Class:     devices.Output,
		Connected: true,
	}
}

func outSnap(uids ...string) devices.Snapshot {
	s := make(devices.Snapshot, 0, len(uids))
	for _, uid := range uids {
		s = append(s, outDev(uid))
	}
	return s
}

// newTestSwitcher builds a stopped switcher over a fake registry and a store
// in a temp dir, with short debounce intervals.
func newTestSwitcher(t *testing.T, reg *testutil.FakeRegistry) *Switcher {
	t.Helper()

	opts := NewOptions()
	opts.Registry = reg
	opts.StorePath = filepath.Join(t.TempDir(), "state.yaml")
	opts.DeviceDebounce = testDebounce
	opts.VolumeDebounce = testDebounce
	opts.Logger = quietLogger()

	sw, err := New(opts)
	require.NoError(t, err)
	return sw
}

func startSwitcher(t *testing.T, sw *Switcher) {
	t.Helper()
	require.NoError(t, sw.Start())
	t.Cleanup(func() { _ = sw.Stop() })
}

func waitForVisible(t *testing.T, sw *Switcher, uids ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(uids, sw.View(devices.Output).Visible.UIDs())
	}, waitFor, tick, "visible list never became %v", uids)
}

func TestStartAppliesHighestPriorityDevice(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("b", "c"))

	sw := newTestSwitcher(t, reg)
	// a is listed first but disconnected: b must win
	require.NoError(t, sw.Store().SetPriority(devices.Output, []string{"a", "b", "c"}))
	startSwitcher(t, sw)

	waitForVisible(t, sw, "b", "c")
	require.Eventually(t, func() bool {
		calls := reg.SetDefaultCalls()
		return len(calls) == 1 && calls[0].ID == devices.DeviceID("live-b")
	}, waitFor, tick)
}

func TestNoRedundantDefaultWrite(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("a", "b"))
	reg.SetDefaultID(devices.Output, "live-b")

	sw := newTestSwitcher(t, reg)
	require.NoError(t, sw.Store().SetPriority(devices.Output, []string{"b", "a"}))
	startSwitcher(t, sw)

	waitForVisible(t, sw, "b", "a")
	assert.Empty(t, reg.SetDefaultCalls(), "default already matches; no write expected")
}

func TestDeviceChangeBurstCoalesces(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("a"))

	sw := newTestSwitcher(t, reg)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "a")

	base := reg.Enumerations()

	// a burst of change events within the debounce window, with the device
	// set changing in between: one recomputation per class, seeing the
	// final snapshot
	reg.SetSnapshot(devices.Output, outSnap("a", "b"))
	reg.FireDevicesChanged()
	reg.SetSnapshot(devices.Output, outSnap("a", "b", "c"))
	reg.FireDevicesChanged()

	waitForVisible(t, sw, "a", "b", "c")

	// both classes refresh once each; allow the counters to settle
	time.Sleep(5 * testDebounce)
	assert.Equal(t, base+2, reg.Enumerations(),
		"burst must coalesce into one enumeration per class")
}

func TestStaleEnumerationResultIsDiscarded(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("old"))

	sw := newTestSwitcher(t, reg)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "old")

	// hold every enumeration open until the test releases it; the result
	// snapshot is captured when the call starts
	releases := make(chan chan struct{}, 8)
	reg.SetEnumerateHook(func() {
		r := make(chan struct{})
		releases <- r
		<-r
	})
	awaitCall := func() chan struct{} {
		t.Helper()
		select {
		case r := <-releases:
			return r
		case <-time.After(waitFor):
			t.Fatal("enumeration never started")
			return nil
		}
	}

	// first wave: both classes refresh against the old device set
	reg.FireDevicesChanged()
	stale1, stale2 := awaitCall(), awaitCall()

	// second wave starts while the first is still in flight, and sees the
	// new device set
	reg.SetSnapshot(devices.Output, outSnap("old", "new"))
	reg.FireDevicesChanged()
	fresh1, fresh2 := awaitCall(), awaitCall()
	reg.SetEnumerateHook(nil)

	// deliver the newer results first
	close(fresh1)
	close(fresh2)
	waitForVisible(t, sw, "old", "new")

	// the older results arrive last and must lose
	close(stale1)
	close(stale2)
	time.Sleep(5 * testDebounce)
	assert.Equal(t, []string{"old", "new"}, sw.View(devices.Output).Visible.UIDs(),
		"an out-of-order result must not roll the view back")
}

func TestSupersededTimerFireIsIgnored(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("a"))

	opts := NewOptions()
	opts.Registry = reg
	opts.StorePath = filepath.Join(t.TempDir(), "state.yaml")
	opts.DeviceDebounce = 250 * time.Millisecond
	opts.VolumeDebounce = testDebounce
	opts.Logger = quietLogger()

	sw, err := New(opts)
	require.NoError(t, err)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "a")

	base := reg.Enumerations()

	// on the owner: re-arm the debounce, then deliver a fire carrying the
	// pre-arm generation, as if its timer had elapsed just before the
	// rescheduling event ran
	require.NoError(t, sw.q.RunSync(func(ctx context.Context) error {
		cs := sw.classes[devices.Output]
		stale := cs.timerGen
		sw.scheduleRefresh(ctx, cs)
		sw.fireRefresh(ctx, cs, stale)
		return nil
	}))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, base, reg.Enumerations(),
		"a fire from a superseded arming must wait out the new window")

	// the re-armed timer still drives the refresh
	require.Eventually(t, func() bool {
		return reg.Enumerations() > base
	}, waitFor, tick)
}

func TestEnumerationFailureKeepsLastView(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("a", "b"))

	sw := newTestSwitcher(t, reg)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "a", "b")

	base := reg.Enumerations()
	reg.FailEnumerate(errors.New("coreaudio sulking"))
	reg.FireDevicesChanged()

	require.Eventually(t, func() bool {
		return reg.Enumerations() > base
	}, waitFor, tick, "failed refresh should still have been attempted")
	assert.Equal(t, []string{"a", "b"}, sw.View(devices.Output).Visible.UIDs(),
		"failed enumeration must keep the last-known view")

	// recovery on the next event
	reg.FailEnumerate(nil)
	reg.SetSnapshot(devices.Output, outSnap("b"))
	reg.FireDevicesChanged()
	waitForVisible(t, sw, "b")
}

func TestHideFallsBackToNextDevice(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("x", "y"))

	sw := newTestSwitcher(t, reg)
	require.NoError(t, sw.Store().SetPriority(devices.Output, []string{"y", "x"}))
	startSwitcher(t, sw)
	waitForVisible(t, sw, "y", "x")

	require.NoError(t, sw.Hide(devices.Output, "y"))

	view := sw.View(devices.Output)
	assert.Equal(t, []string{"x"}, view.Visible.UIDs())
	assert.Equal(t, []string{"y"}, view.Hidden.UIDs())

	calls := reg.SetDefaultCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, devices.DeviceID("live-x"), calls[len(calls)-1].ID,
		"hiding the selected device must fall back to the new top")
}

func TestUnhideRestoresDeviceAtItsRank(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("x", "y"))

	sw := newTestSwitcher(t, reg)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "x", "y")

	require.NoError(t, sw.Hide(devices.Output, "y"))
	require.Equal(t, []string{"x"}, sw.View(devices.Output).Visible.UIDs())

	require.NoError(t, sw.Unhide(devices.Output, "y"))
	// y is absent from the priority order, so it returns at the end
	assert.Equal(t, []string{"x", "y"}, sw.View(devices.Output).Visible.UIDs())
	assert.Empty(t, sw.View(devices.Output).Hidden)
}

func TestMoveDevicePersistsAndAppliesImmediately(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("x", "y", "z"))

	sw := newTestSwitcher(t, reg)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "x", "y", "z")

	base := reg.Enumerations()
	require.NoError(t, sw.MoveDevice(devices.Output, []string{"x", "y", "z"}, 2, 0))

	assert.Equal(t, []string{"z", "x", "y"}, sw.Store().Priority(devices.Output),
		"persisted order must equal the new visible order")
	assert.Equal(t, []string{"z", "x", "y"}, sw.View(devices.Output).Visible.UIDs())

	calls := reg.SetDefaultCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, devices.DeviceID("live-z"), calls[len(calls)-1].ID)
	assert.Equal(t, base, reg.Enumerations(),
		"manual reorder must not trigger a fresh enumeration")
}

func TestMoveDeviceRejectsBadIndices(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	sw := newTestSwitcher(t, reg)
	startSwitcher(t, sw)

	err := sw.MoveDevice(devices.Output, []string{"x", "y"}, 2, 0)
	assert.Error(t, err)
	err = sw.MoveDevice(devices.Output, []string{"x", "y"}, 0, -1)
	assert.Error(t, err)
}

func TestAutoSwitchDisabledNeverWritesDefault(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("a", "b"))

	opts := NewOptions()
	opts.Registry = reg
	opts.StorePath = filepath.Join(t.TempDir(), "state.yaml")
	opts.DeviceDebounce = testDebounce
	opts.VolumeDebounce = testDebounce
	opts.AutoSwitchInput = false
	opts.AutoSwitchOutput = false
	opts.Logger = quietLogger()

	sw, err := New(opts)
	require.NoError(t, err)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "a", "b")

	reg.SetSnapshot(devices.Output, outSnap("b", "a"))
	reg.FireDevicesChanged()
	waitForVisible(t, sw, "b", "a")

	assert.Empty(t, reg.SetDefaultCalls())
}

func TestEnablingAutoSwitchAppliesCurrentTop(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("a", "b"))

	opts := NewOptions()
	opts.Registry = reg
	opts.StorePath = filepath.Join(t.TempDir(), "state.yaml")
	opts.DeviceDebounce = testDebounce
	opts.VolumeDebounce = testDebounce
	opts.AutoSwitchOutput = false
	opts.Logger = quietLogger()

	sw, err := New(opts)
	require.NoError(t, err)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "a", "b")
	require.Empty(t, reg.SetDefaultCalls())

	require.NoError(t, sw.SetAutoSwitch(devices.Output, true))

	calls := reg.SetDefaultCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, devices.DeviceID("live-a"), calls[len(calls)-1].ID)
}

func TestVolumeChangePublishes(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("a"))

	sw := newTestSwitcher(t, reg)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "a")

	reg.SetVolumeState(devices.Output, devices.VolumeState{Level: 0.5, Available: true})
	reg.FireDefaultOrVolumeChanged()

	require.Eventually(t, func() bool {
		vol := sw.VolumeFor(devices.Output)
		return vol.Available && vol.Level == 0.5
	}, waitFor, tick)

	// a device without a volume control is a valid, distinct state
	reg.SetVolumeState(devices.Output, devices.VolumeState{})
	reg.FireDefaultOrVolumeChanged()

	require.Eventually(t, func() bool {
		vol := sw.VolumeFor(devices.Output)
		return !vol.Available
	}, waitFor, tick)
}

func TestSetVolumePassesThrough(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("a"))
	reg.SetVolumeState(devices.Output, devices.VolumeState{Level: 0.2, Available: true})

	sw := newTestSwitcher(t, reg)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "a")

	require.NoError(t, sw.SetVolume(devices.Output, 0.8))
	assert.Equal(t, 0.8, sw.VolumeFor(devices.Output).Level)

	assert.Error(t, sw.SetVolume(devices.Output, 1.5))
}

func TestObserversReceiveViews(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.SetSnapshot(devices.Output, outSnap("a"))

	sw := newTestSwitcher(t, reg)
	startSwitcher(t, sw)
	waitForVisible(t, sw, "a")

	var mu sync.Mutex
	var got []string
	token := sw.SubscribeViews(func(class devices.Class, view priority.View) {
		if class != devices.Output {
			return
		}
		mu.Lock()
		got = append(got, view.Visible.UIDs()...)
		mu.Unlock()
	})

	// current state is delivered on subscribe
	mu.Lock()
	initial := len(got)
	mu.Unlock()
	require.NotZero(t, initial)

	reg.SetSnapshot(devices.Output, outSnap("a", "b"))
	reg.FireDevicesChanged()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > initial
	}, waitFor, tick)

	sw.Unsubscribe(token)
	mu.Lock()
	settled := len(got)
	mu.Unlock()

	reg.SetSnapshot(devices.Output, outSnap("b"))
	reg.FireDevicesChanged()
	waitForVisible(t, sw, "b")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, settled, len(got), "unsubscribed observer must not be called")
}

func TestSubscribeBeforeFirstPublishDeliversNothing(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	sw := newTestSwitcher(t, reg)

	var calls int
	sw.SubscribeViews(func(devices.Class, priority.View) { calls++ })
	assert.Zero(t, calls, "nothing published yet, nothing delivered")
}

func TestOperationsRequireRunningSwitcher(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	sw := newTestSwitcher(t, reg)

	assert.ErrorIs(t, sw.Hide(devices.Output, "x"), ErrNotRunning)
	assert.ErrorIs(t, sw.Refresh(), ErrNotRunning)
	assert.ErrorIs(t, sw.SetAutoSwitch(devices.Input, false), ErrNotRunning)
}

func TestStopIsIdempotent(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	sw := newTestSwitcher(t, reg)
	require.NoError(t, sw.Start())

	require.NoError(t, sw.Stop())
	require.NoError(t, sw.Stop())
	assert.False(t, sw.IsRunning())
}

func TestSwitcherIsSingleUse(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	sw := newTestSwitcher(t, reg)

	require.NoError(t, sw.Start())
	require.Equal(t, 1, reg.Subscribers())
	require.NoError(t, sw.Stop())
	require.Equal(t, 0, reg.Subscribers())

	assert.Error(t, sw.Start())
	assert.False(t, sw.IsRunning())
	assert.Equal(t, 0, reg.Subscribers(), "a rejected restart must not resubscribe")
}
