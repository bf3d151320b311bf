// Package testutil provides the in-memory registry fake the switcher tests
// drive: snapshots, defaults and volumes are plain fields, and the test fires
// change notifications by hand.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mateusbadalotti/audio-priority/devices"
)

// FakeRegistry is an in-memory devices.Registry. All fields are guarded; test
// and switcher goroutines may touch it concurrently.
type FakeRegistry struct {
	mu        sync.Mutex
	snapshots map[devices.Class]devices.Snapshot
	defaults  map[devices.Class]devices.DeviceID
	volumes   map[devices.Class]devices.VolumeState

	enumerateErr  error
	setDefaultErr error
	enumerateHook func()

	enumerations int64
	setDefaults  []SetDefaultCall

	subs      map[int]devices.RegistryEvents
	nextToken int
}

// SetDefaultCall records one SetDefault invocation.
type SetDefaultCall struct {
	Class devices.Class
	ID    devices.DeviceID
}

// NewFakeRegistry creates an empty fake with no devices and no defaults.
func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{
		snapshots: make(map[devices.Class]devices.Snapshot),
		defaults:  make(map[devices.Class]devices.DeviceID),
		volumes:   make(map[devices.Class]devices.VolumeState),
		subs:      make(map[int]devices.RegistryEvents),
	}
}

// SetSnapshot replaces the connected-device list of one class.
func (f *FakeRegistry) SetSnapshot(class devices.Class, snap devices.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[class] = snap.Clone()
}

// SetDefaultID sets the reported default without recording a call.
func (f *FakeRegistry) SetDefaultID(class devices.Class, id devices.DeviceID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults[class] = id
}

// SetVolumeState sets the volume the fake reports for a class.
func (f *FakeRegistry) SetVolumeState(class devices.Class, vol devices.VolumeState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[class] = vol
}

// FailEnumerate makes Enumerate return err until cleared with nil.
func (f *FakeRegistry) FailEnumerate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enumerateErr = err
}

// FailSetDefault makes SetDefault return err until cleared with nil.
func (f *FakeRegistry) FailSetDefault(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setDefaultErr = err
}

// SetEnumerateHook installs fn to run inside every Enumerate call, after the
// result snapshot is captured. A blocking fn holds that call open without
// blocking other registry methods; nil clears the hook.
func (f *FakeRegistry) SetEnumerateHook(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enumerateHook = fn
}

// Subscribers returns the number of active subscriptions.
func (f *FakeRegistry) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Enumerations returns how many times Enumerate has been called.
func (f *FakeRegistry) Enumerations() int64 {
	return atomic.LoadInt64(&f.enumerations)
}

// SetDefaultCalls returns the recorded SetDefault invocations.
func (f *FakeRegistry) SetDefaultCalls() []SetDefaultCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SetDefaultCall(nil), f.setDefaults...)
}

// FireDevicesChanged invokes every subscriber's DevicesChanged callback.
func (f *FakeRegistry) FireDevicesChanged() {
	for _, events := range f.subscribers() {
		if events.DevicesChanged != nil {
			events.DevicesChanged()
		}
	}
}

// FireDefaultOrVolumeChanged invokes every subscriber's
// DefaultOrVolumeChanged callback.
func (f *FakeRegistry) FireDefaultOrVolumeChanged() {
	for _, events := range f.subscribers() {
		if events.DefaultOrVolumeChanged != nil {
			events.DefaultOrVolumeChanged()
		}
	}
}

func (f *FakeRegistry) subscribers() []devices.RegistryEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]devices.RegistryEvents, 0, len(f.subs))
	for _, events := range f.subs {
		subs = append(subs, events)
	}
	return subs
}

// Enumerate implements devices.Registry. The result is captured before the
// hook runs, so a call held open by the hook returns the device set it saw
// when it started.
func (f *FakeRegistry) Enumerate(ctx context.Context) (map[devices.Class]devices.Snapshot, error) {
	atomic.AddInt64(&f.enumerations, 1)
	f.mu.Lock()
	hook := f.enumerateHook
	err := f.enumerateErr
	out := make(map[devices.Class]devices.Snapshot, len(f.snapshots))
	for class, snap := range f.snapshots {
		out[class] = snap.Clone()
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Default implements devices.Registry.
func (f *FakeRegistry) Default(class devices.Class) (devices.DeviceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defaults[class], nil
}

// SetDefault implements devices.Registry, recording the call and updating the
// reported default on success.
func (f *FakeRegistry) SetDefault(class devices.Class, id devices.DeviceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setDefaultErr != nil {
		return f.setDefaultErr
	}
	f.setDefaults = append(f.setDefaults, SetDefaultCall{Class: class, ID: id})
	f.defaults[class] = id
	return nil
}

// Volume implements devices.Registry.
func (f *FakeRegistry) Volume(class devices.Class) (devices.VolumeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vol, ok := f.volumes[class]
	if !ok || !vol.Available {
		return devices.VolumeState{}, devices.ErrVolumeUnavailable
	}
	return vol, nil
}

// SetVolume implements devices.Registry.
func (f *FakeRegistry) SetVolume(class devices.Class, level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	vol := f.volumes[class]
	vol.Level = level
	vol.Available = true
	f.volumes[class] = vol
	return nil
}

// SetMuted implements devices.Registry.
func (f *FakeRegistry) SetMuted(class devices.Class, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	vol := f.volumes[class]
	vol.Muted = muted
	f.volumes[class] = vol
	return nil
}

// Subscribe implements devices.Registry.
func (f *FakeRegistry) Subscribe(events devices.RegistryEvents) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := f.nextToken
	f.nextToken++
	f.subs[token] = events
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, token)
	}
}
