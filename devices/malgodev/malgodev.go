//go:build darwin && cgo

// Package malgodev implements the device Registry on macOS, using miniaudio
// (via gen2brain/malgo) for enumeration and CoreAudio properties for default
// selection and volume. Change notifications come from a polling monitor.
package malgodev

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/mateusbadalotti/audio-priority/devices"
)

// Registry is the darwin implementation of devices.Registry.
type Registry struct {
	log logrus.FieldLogger

	mu        sync.Mutex
	nextToken int
	subs      map[int]devices.RegistryEvents
	monitor   *monitor
}

// New creates a Registry. A nil logger selects the logrus standard logger.
func New(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		log:  log.WithField("component", "malgodev"),
		subs: make(map[int]devices.RegistryEvents),
	}
}

var classTypes = map[devices.Class]malgo.DeviceType{
	devices.Input:  malgo.Capture,
	devices.Output: malgo.Playback,
}

// Enumerate lists connected devices for both classes in discovery order.
// A fresh miniaudio context is initialized per call so hot-plugged devices
// are always seen.
func (r *Registry) Enumerate(ctx context.Context) (map[devices.Class]devices.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgodev: init context: %w", err)
	}
	defer func() {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
	}()

	out := make(map[devices.Class]devices.Snapshot, 2)
	for class, typ := range classTypes {
		snap, err := r.listClass(malgoCtx, class, typ)
		if err != nil {
			return nil, err
		}
		out[class] = snap
	}
	return out, nil
}

func (r *Registry) listClass(malgoCtx *malgo.AllocatedContext, class devices.Class, typ malgo.DeviceType) (devices.Snapshot, error) {
	infos, err := malgoCtx.Devices(typ)
	if err != nil {
		return nil, fmt.Errorf("malgodev: list %s devices: %w", class, err)
	}

	snap := make(devices.Snapshot, 0, len(infos))
	seen := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		full, err := malgoCtx.DeviceInfo(typ, info.ID, malgo.Shared)
		if err != nil {
			r.log.WithField("class", class).WithError(err).Warn("unable to get device info")
			continue
		}

		// miniaudio's device id on CoreAudio is the stable device uid.
		uid := strings.TrimRight(string(full.ID[:]), "\x00")
		if uid == "" {
			continue
		}
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}

		dev, ok := deviceForUID(uid)
		if !ok {
			// Disconnected between miniaudio listing and uid translation.
			continue
		}

		snap = append(snap, devices.Device{
			ID:        liveID(dev),
			UID:       uid,
			Name:      full.Name(),
			Class:     class,
			Connected: true,
		})
	}
	return snap, nil
}

// Default returns the live handle of the class's current default device.
func (r *Registry) Default(class devices.Class) (devices.DeviceID, error) {
	dev, ok := defaultDevice(class)
	if !ok {
		return "", fmt.Errorf("malgodev: no default %s device: %w", class, devices.ErrDeviceNotFound)
	}
	return liveID(dev), nil
}

// SetDefault makes the device with the given live handle the class default.
func (r *Registry) SetDefault(class devices.Class, id devices.DeviceID) error {
	dev, ok := parseLiveID(id)
	if !ok {
		return fmt.Errorf("malgodev: bad device handle %q: %w", id, devices.ErrDeviceNotFound)
	}
	if !setDefaultDevice(class, dev) {
		return fmt.Errorf("malgodev: set default %s to %q: %w", class, id, devices.ErrDeviceNotFound)
	}
	return nil
}

// Volume reads the volume of the class's current default device.
func (r *Registry) Volume(class devices.Class) (devices.VolumeState, error) {
	dev, ok := defaultDevice(class)
	if !ok {
		return devices.VolumeState{}, fmt.Errorf("malgodev: no default %s device: %w", class, devices.ErrDeviceNotFound)
	}
	state := volumeOf(dev, class)
	if !state.Available {
		return state, devices.ErrVolumeUnavailable
	}
	return state, nil
}

// SetVolume sets the volume of the class's current default device.
func (r *Registry) SetVolume(class devices.Class, level float64) error {
	dev, ok := defaultDevice(class)
	if !ok {
		return fmt.Errorf("malgodev: no default %s device: %w", class, devices.ErrDeviceNotFound)
	}
	if !setVolumeOf(dev, class, level) {
		return devices.ErrVolumeUnavailable
	}
	return nil
}

// SetMuted mutes or unmutes the class's current default device.
func (r *Registry) SetMuted(class devices.Class, muted bool) error {
	dev, ok := defaultDevice(class)
	if !ok {
		return fmt.Errorf("malgodev: no default %s device: %w", class, devices.ErrDeviceNotFound)
	}
	if !setMutedOf(dev, class, muted) {
		return devices.ErrVolumeUnavailable
	}
	return nil
}

// Subscribe registers event callbacks. The polling monitor starts with the
// first subscriber and stops when the last one cancels.
func (r *Registry) Subscribe(events devices.RegistryEvents) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := r.nextToken
	r.nextToken++
	r.subs[token] = events

	if r.monitor == nil {
		r.monitor = newMonitor(r)
		r.monitor.start()
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, token)
		if len(r.subs) == 0 && r.monitor != nil {
			r.monitor.stop()
			r.monitor = nil
		}
	}
}

func (r *Registry) notifyDevicesChanged() {
	r.mu.Lock()
	subs := make([]devices.RegistryEvents, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		if s.DevicesChanged != nil {
			s.DevicesChanged()
		}
	}
}

func (r *Registry) notifyDefaultOrVolumeChanged() {
	r.mu.Lock()
	subs := make([]devices.RegistryEvents, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		if s.DefaultOrVolumeChanged != nil {
			s.DefaultOrVolumeChanged()
		}
	}
}
