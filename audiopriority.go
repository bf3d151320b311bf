// Package audiopriority keeps the system default audio input and output
// devices aligned with a user-defined priority order. Connected devices are
// ranked by a persisted per-class uid list, devices the user has hidden are
// filtered out, and when auto-switch is enabled the highest-ranked visible
// device is made the class default as devices come and go.
//
// Example:
//
//	opts := audiopriority.NewOptions()
//	opts.Registry = malgodev.New(nil)
//
//	sw, err := audiopriority.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sw.SubscribeViews(func(class devices.Class, view priority.View) {
//	    fmt.Printf("%s: %d visible\n", class, len(view.Visible))
//	})
//
//	if err := sw.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer sw.Stop()
package audiopriority

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mateusbadalotti/audio-priority/devices"
	"github.com/mateusbadalotti/audio-priority/priority"
	"github.com/mateusbadalotti/audio-priority/queue"
	"github.com/mateusbadalotti/audio-priority/store"
)

// Debounce defaults, chosen to coalesce bursts of host notifications (a single
// physical connect can emit several) without a perceptible UI delay.
const (
	DefaultDeviceDebounce = 80 * time.Millisecond
	DefaultVolumeDebounce = 30 * time.Millisecond
)

// Options contains configuration for creating a Switcher.
type Options struct {
	// Registry is the host audio capability. Required.
	Registry devices.Registry

	// StorePath is the persisted-state file. Empty selects the default
	// location under the user config dir.
	StorePath string

	// DeviceDebounce delays device-change recomputation to coalesce event
	// bursts. Zero selects DefaultDeviceDebounce.
	DeviceDebounce time.Duration

	// VolumeDebounce delays volume re-reads. Zero selects
	// DefaultVolumeDebounce.
	VolumeDebounce time.Duration

	// AutoSwitchInput and AutoSwitchOutput control whether the switcher
	// actively applies the highest-priority device as class default.
	AutoSwitchInput  bool
	AutoSwitchOutput bool

	// QueueBuffer sizes the owner queue. Zero selects the queue default.
	QueueBuffer int

	Logger       logrus.FieldLogger
	ErrorHandler ErrorHandler
}

// NewOptions creates Options with defaults: auto-switch enabled for both
// classes, default debounce intervals, default store path.
func NewOptions() *Options {
	return &Options{
		DeviceDebounce:   DefaultDeviceDebounce,
		VolumeDebounce:   DefaultVolumeDebounce,
		AutoSwitchInput:  true,
		AutoSwitchOutput: true,
	}
}

// ViewObserver receives resolved views as they are recomputed. Called on the
// switcher's owner goroutine; it must not block and must not call back into
// the switcher's synchronous surface.
type ViewObserver func(class devices.Class, view priority.View)

// VolumeObserver receives volume states as they change. Same calling rules as
// ViewObserver.
type VolumeObserver func(class devices.Class, vol devices.VolumeState)

// Switcher owns the registry subscription, the persisted priority state and
// the per-class switching decisions. All state mutation is serialized onto a
// single owner goroutine.
type Switcher struct {
	opts     Options
	log      logrus.FieldLogger
	registry devices.Registry
	store    *store.Store
	q        *queue.Queue
	errh     ErrorHandler

	// owner-goroutine state, keyed by class
	classes map[devices.Class]*classState

	// enumeration sequencing: results older than the newest issued request
	// for a class are discarded
	seq atomic.Uint64

	// published state for outside readers
	stateMu sync.RWMutex
	views   map[devices.Class]priority.View
	vols    map[devices.Class]devices.VolumeState

	subsMu   sync.RWMutex
	viewSubs map[uuid.UUID]ViewObserver
	volSubs  map[uuid.UUID]VolumeObserver

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	// lifecycle: stateNew until Start, stateRunning until Stop, then
	// stateStopped for good; the owner queue cannot be restarted
	running int64
}

const (
	stateNew int64 = iota
	stateRunning
	stateStopped
)

// New creates a Switcher from the given options. The store is opened (and its
// state loaded) immediately; the registry is not touched until Start.
func New(opts *Options) (*Switcher, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.Registry == nil {
		return nil, errors.New("audiopriority: Options.Registry is required")
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	errh := opts.ErrorHandler
	if errh == nil {
		errh = &LogErrorHandler{Log: log}
	}

	st, err := store.Open(opts.StorePath, log)
	if err != nil {
		return nil, err
	}

	o := *opts
	if o.DeviceDebounce <= 0 {
		o.DeviceDebounce = DefaultDeviceDebounce
	}
	if o.VolumeDebounce <= 0 {
		o.VolumeDebounce = DefaultVolumeDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Switcher{
		opts:     o,
		log:      log.WithField("component", "switcher"),
		registry: o.Registry,
		store:    st,
		q:        queue.New(o.QueueBuffer),
		errh:     errh,
		classes:  make(map[devices.Class]*classState),
		views:    make(map[devices.Class]priority.View),
		vols:     make(map[devices.Class]devices.VolumeState),
		viewSubs: make(map[uuid.UUID]ViewObserver),
		volSubs:  make(map[uuid.UUID]VolumeObserver),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.classes[devices.Input] = newClassState(devices.Input, o.AutoSwitchInput)
	s.classes[devices.Output] = newClassState(devices.Output, o.AutoSwitchOutput)

	return s, nil
}

// Store exposes the persisted priority state, mainly for UI listing.
func (s *Switcher) Store() *store.Store {
	return s.store
}

// Start subscribes to registry events, starts the owner goroutine and kicks
// off an initial refresh of both classes. A Switcher is single use: once
// stopped it cannot be started again.
func (s *Switcher) Start() error {
	if !atomic.CompareAndSwapInt64(&s.running, stateNew, stateRunning) {
		if atomic.LoadInt64(&s.running) == stateStopped {
			return errors.New("audiopriority: switcher already stopped; create a new one")
		}
		return errors.New("audiopriority: switcher already running")
	}

	s.q.Start()
	s.unsubscribe = s.registry.Subscribe(devices.RegistryEvents{
		DevicesChanged:         s.onDevicesChanged,
		DefaultOrVolumeChanged: s.onDefaultOrVolumeChanged,
	})

	// Initial state: refresh both classes without debounce and read volumes.
	err := s.q.Enqueue(queue.Func(func(ctx context.Context) error {
		for _, class := range devices.Classes() {
			s.refreshNow(ctx, s.classes[class])
			s.readVolume(class)
		}
		return nil
	}))
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"store":           s.store.Path(),
		"device_debounce": s.opts.DeviceDebounce,
		"volume_debounce": s.opts.VolumeDebounce,
	}).Info("switcher started")
	return nil
}

// Stop unsubscribes from the registry, cancels in-flight enumerations and
// shuts down the owner goroutine. Safe to call more than once.
func (s *Switcher) Stop() error {
	if !atomic.CompareAndSwapInt64(&s.running, stateRunning, stateStopped) {
		return nil
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}

	// Stop pending timers on the owner so none fires mid-shutdown.
	_ = s.q.RunSync(func(ctx context.Context) error {
		for _, cs := range s.classes {
			cs.stopTimers()
		}
		return nil
	})

	s.cancel()
	s.q.Close()
	s.log.Info("switcher stopped")
	return nil
}

// Close is an alias for Stop.
func (s *Switcher) Close() error {
	return s.Stop()
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *Switcher) IsRunning() bool {
	return atomic.LoadInt64(&s.running) == stateRunning
}

// Views returns the last published view per class. The returned views are
// copies and safe to retain.
func (s *Switcher) Views() map[devices.Class]priority.View {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make(map[devices.Class]priority.View, len(s.views))
	for class, view := range s.views {
		out[class] = cloneView(view)
	}
	return out
}

// View returns the last published view for one class.
func (s *Switcher) View(class devices.Class) priority.View {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return cloneView(s.views[class])
}

// VolumeFor returns the last read volume state for the class's default
// device. Available is false when the device exposes no volume control or no
// read has succeeded yet.
func (s *Switcher) VolumeFor(class devices.Class) devices.VolumeState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.vols[class]
}

func cloneView(v priority.View) priority.View {
	return priority.View{Visible: v.Visible.Clone(), Hidden: v.Hidden.Clone()}
}
