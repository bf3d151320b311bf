package audiopriority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mateusbadalotti/audio-priority/devices"
	"github.com/mateusbadalotti/audio-priority/queue"
)

// onDefaultOrVolumeChanged is the registry's default/volume-change callback.
// Volume re-reads get their own, shorter debounce path; they never touch
// device selection.
func (s *Switcher) onDefaultOrVolumeChanged() {
	_ = s.q.Enqueue(queue.Func(func(ctx context.Context) error {
		for _, class := range devices.Classes() {
			s.scheduleVolume(s.classes[class])
		}
		return nil
	}))
}

// scheduleVolume (re)arms the class's volume debounce timer. Single slot per
// class: re-arming cancels the pending timer.
func (s *Switcher) scheduleVolume(cs *classState) {
	if cs.volumeTimer != nil {
		cs.volumeTimer.Stop()
	}
	class := cs.class
	cs.volumeTimer = time.AfterFunc(s.opts.VolumeDebounce, func() {
		_ = s.q.Enqueue(queue.Func(func(ctx context.Context) error {
			s.readVolume(class)
			return nil
		}))
	})
}

// readVolume reads the class's default-device volume and publishes it when it
// differs from the last published state. A device without a volume control is
// published as Available == false, a valid state distinct from zero volume.
func (s *Switcher) readVolume(class devices.Class) {
	vol, err := s.registry.Volume(class)
	if err != nil {
		if !errors.Is(err, devices.ErrVolumeUnavailable) {
			s.errh.HandleError(fmt.Errorf("%w: volume %s: %v", ErrDeviceQueryFailed, class, err))
			return
		}
		vol = devices.VolumeState{Available: false}
	}

	if s.VolumeFor(class) == vol {
		return
	}
	s.publishVolume(class, vol)
}

// SetVolume sets the volume level of the class's current default device and
// re-reads it so observers see the applied value.
func (s *Switcher) SetVolume(class devices.Class, level float64) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	if level < 0 || level > 1 {
		return fmt.Errorf("audiopriority: volume level %v out of range [0, 1]", level)
	}
	return s.q.RunSync(func(ctx context.Context) error {
		if err := s.registry.SetVolume(class, level); err != nil {
			return err
		}
		s.readVolume(class)
		return nil
	})
}

// SetMuted mutes or unmutes the class's current default device.
func (s *Switcher) SetMuted(class devices.Class, muted bool) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	return s.q.RunSync(func(ctx context.Context) error {
		if err := s.registry.SetMuted(class, muted); err != nil {
			return err
		}
		s.readVolume(class)
		return nil
	})
}
