//go:build darwin && cgo

package malgodev

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/mateusbadalotti/audio-priority/devices"
)

// Polling intervals. The monitor speeds up to baseInterval while changes are
// happening and decays toward maxInterval after a quiet stretch, trading a
// little detection latency for power efficiency on battery.
const (
	baseInterval = 250 * time.Millisecond
	maxInterval  = time.Second

	// consecutive quiet polls before the interval starts decaying
	quietThreshold = 10
)

// monitor detects device, default and volume changes by polling and fires the
// registry's subscriber callbacks. CoreAudio also offers property listeners,
// but polling keeps the cgo surface small and survives the coreaudiod
// restarts that silently drop listeners.
type monitor struct {
	registry *Registry

	mu              sync.Mutex
	currentInterval time.Duration
	quietCount      int

	lastDeviceFP  string
	lastControlFP string
	primed        bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newMonitor(r *Registry) *monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &monitor{
		registry:        r,
		currentInterval: baseInterval,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
}

func (m *monitor) start() {
	go m.loop()
}

func (m *monitor) stop() {
	m.cancel()
	<-m.done
}

func (m *monitor) loop() {
	defer close(m.done)

	timer := time.NewTimer(m.interval())
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
			m.check()
			timer.Reset(m.interval())
		}
	}
}

func (m *monitor) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentInterval
}

// check compares cheap fingerprints of the device set and of the
// default/volume controls against the previous poll and notifies on change.
func (m *monitor) check() {
	deviceFP, ok := deviceFingerprint()
	if !ok {
		// transient enumeration failure; keep previous state and retry
		return
	}
	controlFP := controlFingerprint()

	m.mu.Lock()
	devicesChanged := m.primed && deviceFP != m.lastDeviceFP
	controlChanged := m.primed && controlFP != m.lastControlFP
	m.lastDeviceFP = deviceFP
	m.lastControlFP = controlFP
	m.primed = true

	if devicesChanged || controlChanged {
		m.quietCount = 0
		m.currentInterval = baseInterval
	} else {
		m.quietCount++
		if m.quietCount > quietThreshold {
			next := time.Duration(float64(m.currentInterval) * 1.1)
			if next > maxInterval {
				next = maxInterval
			}
			m.currentInterval = next
		}
	}
	m.mu.Unlock()

	if devicesChanged {
		m.registry.notifyDevicesChanged()
	}
	if controlChanged {
		m.registry.notifyDefaultOrVolumeChanged()
	}
}

// deviceFingerprint is the uid list of both device classes, in discovery
// order. Any connect, disconnect or reorder changes it.
func deviceFingerprint() (string, bool) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return "", false
	}
	defer func() {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
	}()

	var b strings.Builder
	for _, typ := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		infos, err := malgoCtx.Devices(typ)
		if err != nil {
			return "", false
		}
		for _, info := range infos {
			b.WriteString(strings.TrimRight(string(info.ID[:]), "\x00"))
			b.WriteByte('\n')
		}
		b.WriteByte('|')
	}
	return b.String(), true
}

// controlFingerprint covers the default device, volume and mute state of both
// classes via cheap CoreAudio property reads.
func controlFingerprint() string {
	var b strings.Builder
	for _, class := range devices.Classes() {
		dev, ok := defaultDevice(class)
		if !ok {
			b.WriteString("-|")
			continue
		}
		state := volumeOf(dev, class)
		b.WriteString(string(liveID(dev)))
		b.WriteByte(':')
		if state.Available {
			// whole percents are enough granularity for change detection
			b.WriteString(strconv.Itoa(int(state.Level*100 + 0.5)))
			if state.Muted {
				b.WriteByte('m')
			}
		} else {
			b.WriteString("na")
		}
		b.WriteByte('|')
	}
	return b.String()
}
