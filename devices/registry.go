package devices

import (
	"context"
	"errors"
)

var (
	// ErrDeviceNotFound is returned when a live handle no longer resolves to a
	// connected device, typically because it disconnected between enumeration
	// and use.
	ErrDeviceNotFound = errors.New("devices: device not found")

	// ErrVolumeUnavailable is returned when the current default device does not
	// expose a readable volume control. This is a valid device state, not a
	// failure; callers surface it as VolumeState{Available: false}.
	ErrVolumeUnavailable = errors.New("devices: volume unavailable")
)

// VolumeState is the volume of a class's current default device. Level is in
// [0, 1]. Available is false when the device exposes no volume control, which
// is distinct from a level of zero.
type VolumeState struct {
	Level     float64 `json:"level"`
	Muted     bool    `json:"muted"`
	Available bool    `json:"available"`
}

// RegistryEvents carries the notification callbacks a Registry delivers.
// Callbacks may fire from an arbitrary goroutine and must not block.
type RegistryEvents struct {
	// DevicesChanged fires when the connected-device set may have changed.
	// A single physical connect or disconnect can fire it several times.
	DevicesChanged func()

	// DefaultOrVolumeChanged fires when a default device or a volume level
	// may have changed.
	DefaultOrVolumeChanged func()
}

// Registry is the host audio subsystem capability the switcher consumes.
// Enumerate may block on host calls and is always invoked off the switcher's
// owner goroutine; the remaining methods are expected to be cheap.
type Registry interface {
	// Enumerate returns the currently connected devices partitioned by class,
	// each snapshot in discovery order.
	Enumerate(ctx context.Context) (map[Class]Snapshot, error)

	// Default returns the live handle of the class's current default device.
	Default(class Class) (DeviceID, error)

	// SetDefault makes the device with the given live handle the class
	// default. Returns ErrDeviceNotFound if the handle no longer resolves.
	SetDefault(class Class, id DeviceID) error

	// Volume reads the volume of the class's current default device.
	// Returns ErrVolumeUnavailable when the device has no volume control.
	Volume(class Class) (VolumeState, error)

	// SetVolume sets the volume level of the class's current default device.
	SetVolume(class Class, level float64) error

	// SetMuted mutes or unmutes the class's current default device.
	SetMuted(class Class, muted bool) error

	// Subscribe registers event callbacks and returns a cancel function that
	// unregisters them.
	Subscribe(events RegistryEvents) (cancel func())
}
