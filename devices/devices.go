package devices

// Class identifies one of the two independently tracked device categories.
// Input and output selection, priority and hiding never interact: a device
// that exposes both capabilities shows up as two entries, one per class.
type Class string

const (
	Input  Class = "input"
	Output Class = "output"
)

// Classes returns both device classes in a fixed order.
func Classes() []Class {
	return []Class{Input, Output}
}

func (c Class) String() string {
	return string(c)
}

// DeviceID is the live handle assigned by the host audio subsystem. The host
// reassigns it on every connect, so it is only valid for the current session.
// Persist UID instead; compare live state (current default) by DeviceID.
type DeviceID string

// Device represents one connected audio endpoint of a single class.
type Device struct {
	ID        DeviceID `json:"id"`
	UID       string   `json:"uid"`
	Name      string   `json:"name"`
	Class     Class    `json:"class"`
	Connected bool     `json:"connected"`
}

// Snapshot is the connected-device list of one class at one instant,
// in discovery order.
type Snapshot []Device

// UIDs returns the stable identifiers of the snapshot in order.
func (s Snapshot) UIDs() []string {
	uids := make([]string, len(s))
	for i, d := range s {
		uids[i] = d.UID
	}
	return uids
}

// FindUID returns the device with the given stable identifier.
func (s Snapshot) FindUID(uid string) (Device, bool) {
	for _, d := range s {
		if d.UID == uid {
			return d, true
		}
	}
	return Device{}, false
}

// FindID returns the device with the given live handle.
func (s Snapshot) FindID(id DeviceID) (Device, bool) {
	for _, d := range s {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// Connected returns only devices that are currently connected.
func (s Snapshot) Connected() Snapshot {
	var connected Snapshot
	for _, d := range s {
		if d.Connected {
			connected = append(connected, d)
		}
	}
	return connected
}

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	copy(out, s)
	return out
}
