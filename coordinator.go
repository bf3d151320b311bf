package audiopriority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/mateusbadalotti/audio-priority/devices"
	"github.com/mateusbadalotti/audio-priority/priority"
	"github.com/mateusbadalotti/audio-priority/queue"
)

// Per-class refresh states. A device-change notification (re)arms the debounce
// timer in idle or refreshScheduled; the timer firing starts an enumeration
// and moves to applying; delivering its result returns to idle. A notification
// that lands while applying re-arms the timer, and the sequence check makes
// the in-flight result lose to the newer cycle.
const (
	stateIdle             = "idle"
	stateRefreshScheduled = "refreshScheduled"
	stateApplying         = "applying"
)

const (
	eventSchedule = "schedule"
	eventFire     = "fire"
	eventDone     = "done"
)

// classState is the per-class coordinator state. All fields are owned by the
// queue's worker goroutine; nothing here is locked.
type classState struct {
	class      devices.Class
	machine    *fsm.FSM
	autoSwitch bool

	deviceTimer *time.Timer
	volumeTimer *time.Timer

	// newest debounce arming; a fire carrying an older generation lost a
	// race with a rescheduling event and must not collapse its window
	timerGen uint64

	// newest enumeration issued for this class; older results are stale
	pendingSeq uint64

	lastSnap devices.Snapshot
	haveSnap bool
}

func newClassState(class devices.Class, autoSwitch bool) *classState {
	return &classState{
		class:      class,
		autoSwitch: autoSwitch,
		machine: fsm.NewFSM(
			stateIdle,
			fsm.Events{
				{Name: eventSchedule, Src: []string{stateIdle, stateRefreshScheduled, stateApplying}, Dst: stateRefreshScheduled},
				{Name: eventFire, Src: []string{stateRefreshScheduled}, Dst: stateApplying},
				{Name: eventDone, Src: []string{stateApplying}, Dst: stateIdle},
			},
			fsm.Callbacks{},
		),
	}
}

func (cs *classState) stopTimers() {
	cs.timerGen++
	if cs.deviceTimer != nil {
		cs.deviceTimer.Stop()
		cs.deviceTimer = nil
	}
	if cs.volumeTimer != nil {
		cs.volumeTimer.Stop()
		cs.volumeTimer = nil
	}
}

// onDevicesChanged is the registry's device-change callback. It may fire from
// any goroutine; the actual scheduling happens on the owner.
func (s *Switcher) onDevicesChanged() {
	_ = s.q.Enqueue(queue.Func(func(ctx context.Context) error {
		for _, class := range devices.Classes() {
			s.scheduleRefresh(ctx, s.classes[class])
		}
		return nil
	}))
}

// scheduleRefresh (re)arms the class's debounce timer. At most one pending
// timer exists per class; re-arming cancels the previous one, coalescing a
// burst of hardware events into a single recomputation.
func (s *Switcher) scheduleRefresh(ctx context.Context, cs *classState) {
	// Re-scheduling while already scheduled is a self-transition, which the
	// machine reports as NoTransitionError; the timer must still re-arm.
	var noTransition fsm.NoTransitionError
	if err := cs.machine.Event(ctx, eventSchedule); err != nil && !errors.As(err, &noTransition) {
		s.log.WithField("class", cs.class).WithError(err).Debug("refresh schedule rejected")
		return
	}

	if cs.deviceTimer != nil {
		cs.deviceTimer.Stop()
	}
	cs.timerGen++
	gen := cs.timerGen
	class := cs.class
	cs.deviceTimer = time.AfterFunc(s.opts.DeviceDebounce, func() {
		_ = s.q.Enqueue(queue.Func(func(ctx context.Context) error {
			s.fireRefresh(ctx, s.classes[class], gen)
			return nil
		}))
	})
}

// fireRefresh runs when the debounce timer elapses: it starts a background
// enumeration tagged with a fresh sequence number.
func (s *Switcher) fireRefresh(ctx context.Context, cs *classState, gen uint64) {
	if gen != cs.timerGen {
		// the timer fired, then a rescheduling event re-armed the window
		// before this op ran; the newer timer owns the refresh
		return
	}
	if !cs.machine.Is(stateRefreshScheduled) {
		// stale timer; a newer schedule or a manual refresh superseded it
		return
	}
	if err := cs.machine.Event(ctx, eventFire); err != nil {
		s.log.WithField("class", cs.class).WithError(err).Debug("refresh fire rejected")
		return
	}
	s.startEnumeration(cs)
}

// refreshNow bypasses the debounce: used at startup and when auto-switch is
// turned on. A refresh already in flight is left alone; its result is fresh
// enough.
func (s *Switcher) refreshNow(ctx context.Context, cs *classState) {
	if cs.machine.Is(stateApplying) {
		return
	}
	if cs.machine.Is(stateRefreshScheduled) && cs.deviceTimer != nil {
		cs.timerGen++
		cs.deviceTimer.Stop()
		cs.deviceTimer = nil
	}
	if cs.machine.Is(stateIdle) {
		if err := cs.machine.Event(ctx, eventSchedule); err != nil {
			return
		}
	}
	if err := cs.machine.Event(ctx, eventFire); err != nil {
		s.log.WithField("class", cs.class).WithError(err).Debug("immediate refresh rejected")
		return
	}
	s.startEnumeration(cs)
}

// startEnumeration launches the (potentially blocking) registry enumeration
// off the owner goroutine and delivers the result back as a queue op.
func (s *Switcher) startEnumeration(cs *classState) {
	seq := s.seq.Add(1)
	cs.pendingSeq = seq
	class := cs.class

	go func() {
		snaps, err := s.registry.Enumerate(s.ctx)
		var snap devices.Snapshot
		if err == nil {
			snap = snaps[class]
		}
		_ = s.q.Enqueue(queue.Func(func(ctx context.Context) error {
			s.completeRefresh(ctx, s.classes[class], seq, snap, err)
			return nil
		}))
	}()
}

// completeRefresh applies an enumeration result on the owner. Out-of-order
// results are discarded: whichever request was issued last wins, regardless
// of the order results arrive in.
func (s *Switcher) completeRefresh(ctx context.Context, cs *classState, seq uint64, snap devices.Snapshot, err error) {
	if seq < cs.pendingSeq {
		s.log.WithFields(logrus.Fields{
			"class":   cs.class,
			"seq":     seq,
			"pending": cs.pendingSeq,
		}).Debug("discarding stale enumeration result")
		return
	}

	if errors.Is(err, context.Canceled) {
		// shutdown raced an in-flight enumeration
		return
	}

	if err != nil {
		// Keep the last-known-good view; the next event retries.
		s.errh.HandleError(fmt.Errorf("%w: enumerate %s: %v", ErrDeviceQueryFailed, cs.class, err))
	} else {
		cs.lastSnap = snap
		cs.haveSnap = true
		s.applyClass(cs)
	}

	if cs.machine.Is(stateApplying) {
		if derr := cs.machine.Event(ctx, eventDone); derr != nil {
			s.log.WithField("class", cs.class).WithError(derr).Debug("refresh done rejected")
		}
	}
}

// applyClass resolves the class's last snapshot against the store, publishes
// the view and, with auto-switch on, pushes the top device to the registry.
func (s *Switcher) applyClass(cs *classState) {
	view := priority.Resolve(cs.lastSnap, s.store.Priority(cs.class), s.store.Hidden(cs.class))
	s.publishView(cs.class, view)
	if cs.autoSwitch {
		s.applyDefault(cs.class, view)
	}
}

// applyDefault makes the highest-priority visible device the class default,
// skipping the registry write when it already is. Comparison is by live
// handle; persisted uids never reach the registry.
func (s *Switcher) applyDefault(class devices.Class, view priority.View) {
	top, ok := priority.HighestPriority(view)
	if !ok {
		return
	}

	current, err := s.registry.Default(class)
	if err != nil {
		s.errh.HandleError(fmt.Errorf("%w: default %s: %v", ErrDeviceQueryFailed, class, err))
		return
	}
	if current == top.ID {
		return
	}

	if err := s.registry.SetDefault(class, top.ID); err != nil {
		if errors.Is(err, devices.ErrDeviceNotFound) {
			// Device raced away between resolve and apply; the next
			// recomputation falls through to the new top.
			s.log.WithFields(logrus.Fields{
				"class": class,
				"uid":   top.UID,
			}).Debug("default target disconnected before apply")
			return
		}
		s.errh.HandleError(fmt.Errorf("audiopriority: set default %s: %w", class, err))
		return
	}

	s.log.WithFields(logrus.Fields{
		"class": class,
		"uid":   top.UID,
		"name":  top.Name,
	}).Info("switched default device")
}

// recomputeNow re-resolves the class from its last snapshot without touching
// the registry's enumeration path. Used for mutations (hide, reorder) where
// the device set is known to be unchanged.
func (s *Switcher) recomputeNow(cs *classState) {
	if !cs.haveSnap {
		return
	}
	s.applyClass(cs)
}

// Refresh triggers an immediate, non-debounced recomputation of both classes.
func (s *Switcher) Refresh() error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	return s.q.Enqueue(queue.Func(func(ctx context.Context) error {
		for _, class := range devices.Classes() {
			s.refreshNow(ctx, s.classes[class])
		}
		return nil
	}))
}

// Hide marks the uid as ignored for the class, persists it and immediately
// recomputes the view. If the hidden device was the auto-switch target, the
// new top of the remaining list is applied (auto-switch permitting).
func (s *Switcher) Hide(class devices.Class, uid string) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	return s.q.RunSync(func(ctx context.Context) error {
		if err := s.store.Hide(class, uid); err != nil {
			return err
		}
		s.recomputeNow(s.classes[class])
		return nil
	})
}

// Unhide removes the uid from the class's ignored set and immediately
// recomputes the view. The device reappears at its priority rank; a uid
// absent from the order lands after every ranked device.
func (s *Switcher) Unhide(class devices.Class, uid string) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	return s.q.RunSync(func(ctx context.Context) error {
		if err := s.store.Unhide(class, uid); err != nil {
			return err
		}
		s.recomputeNow(s.classes[class])
		return nil
	})
}

// MoveDevice reorders the visible list the caller holds, moving the entry at
// index from to index to, and persists the resulting uid order. The store
// update is synchronous; if the device now at the top is connected and
// auto-switch is on, it becomes the default immediately, without waiting for
// a fresh enumeration.
func (s *Switcher) MoveDevice(class devices.Class, visible []string, from, to int) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	if from < 0 || from >= len(visible) || to < 0 || to >= len(visible) {
		return fmt.Errorf("audiopriority: move %d -> %d out of range for %d devices", from, to, len(visible))
	}
	return s.q.RunSync(func(ctx context.Context) error {
		order := moveUID(visible, from, to)
		if err := s.store.SetPriority(class, order); err != nil {
			return err
		}
		s.recomputeNow(s.classes[class])
		return nil
	})
}

// SetAutoSwitch toggles automatic default-device selection for the class.
// Enabling it applies the current highest-priority device right away.
func (s *Switcher) SetAutoSwitch(class devices.Class, enabled bool) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	return s.q.RunSync(func(ctx context.Context) error {
		cs := s.classes[class]
		if cs.autoSwitch == enabled {
			return nil
		}
		cs.autoSwitch = enabled
		s.log.WithFields(logrus.Fields{
			"class":   class,
			"enabled": enabled,
		}).Info("auto-switch toggled")
		if enabled {
			s.recomputeNow(cs)
		}
		return nil
	})
}

func moveUID(uids []string, from, to int) []string {
	out := make([]string, 0, len(uids))
	out = append(out, uids...)
	uid := out[from]
	out = append(out[:from], out[from+1:]...)
	rest := append(out[:to:to], append([]string{uid}, out[to:]...)...)
	return rest
}
