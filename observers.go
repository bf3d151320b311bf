package audiopriority

import (
	"github.com/google/uuid"

	"github.com/mateusbadalotti/audio-priority/devices"
	"github.com/mateusbadalotti/audio-priority/priority"
)

// SubscribeViews registers an observer for resolved-view updates. Views
// already published are delivered immediately, then every recomputation;
// before the first refresh completes there is nothing to deliver. The
// returned token cancels the subscription via Unsubscribe.
func (s *Switcher) SubscribeViews(fn ViewObserver) uuid.UUID {
	token := uuid.New()
	s.subsMu.Lock()
	s.viewSubs[token] = fn
	s.subsMu.Unlock()

	for class, view := range s.Views() {
		fn(class, view)
	}
	return token
}

// SubscribeVolume registers an observer for volume-state updates. The current
// state of each class is delivered immediately.
func (s *Switcher) SubscribeVolume(fn VolumeObserver) uuid.UUID {
	token := uuid.New()
	s.subsMu.Lock()
	s.volSubs[token] = fn
	s.subsMu.Unlock()

	for _, class := range devices.Classes() {
		fn(class, s.VolumeFor(class))
	}
	return token
}

// Unsubscribe cancels a view or volume subscription. Unknown tokens are
// ignored.
func (s *Switcher) Unsubscribe(token uuid.UUID) {
	s.subsMu.Lock()
	delete(s.viewSubs, token)
	delete(s.volSubs, token)
	s.subsMu.Unlock()
}

// publishView stores the class's view and fans it out. Observers get fresh
// copies, so a retained view never changes under an observer's feet.
func (s *Switcher) publishView(class devices.Class, view priority.View) {
	s.stateMu.Lock()
	s.views[class] = view
	s.stateMu.Unlock()

	s.subsMu.RLock()
	subs := make([]ViewObserver, 0, len(s.viewSubs))
	for _, fn := range s.viewSubs {
		subs = append(subs, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range subs {
		fn(class, cloneView(view))
	}
}

// publishVolume stores the class's volume state and fans it out.
func (s *Switcher) publishVolume(class devices.Class, vol devices.VolumeState) {
	s.stateMu.Lock()
	s.vols[class] = vol
	s.stateMu.Unlock()

	s.subsMu.RLock()
	subs := make([]VolumeObserver, 0, len(s.volSubs))
	for _, fn := range s.volSubs {
		subs = append(subs, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range subs {
		fn(class, vol)
	}
}
