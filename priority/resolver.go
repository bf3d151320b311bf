// Package priority implements the pure device-ranking core: given a snapshot
// of connected devices, a persisted priority order and a hidden set, it
// computes which devices are visible, in what order, and which device should
// be the class default.
//
// Everything here is side-effect free. Inputs are never mutated and outputs
// are freshly allocated, so views can be published to observers as-is.
package priority

import (
	"sort"

	"github.com/mateusbadalotti/audio-priority/devices"
)

// Unranked is the rank of a device whose uid does not appear in the priority
// order. Unranked devices sort after every ranked device and keep their
// relative discovery order among themselves.
const Unranked = int(^uint(0) >> 1)

// View is the resolved presentation of one class: Visible holds the connected,
// non-hidden devices in priority order; Hidden holds the connected devices the
// user has ignored, in discovery order. Every device of the input snapshot
// lands in exactly one of the two.
type View struct {
	Visible devices.Snapshot
	Hidden  devices.Snapshot
}

// Rank returns the position of uid in order, or Unranked when absent. The
// first occurrence wins when the persisted order contains duplicates.
func Rank(order []string, uid string) int {
	for i, u := range order {
		if u == uid {
			return i
		}
	}
	return Unranked
}

// Resolve partitions snap into visible and hidden devices and sorts the
// visible partition by its rank in order. The sort is stable: devices absent
// from order retain their snapshot order, so a flapping host enumeration
// order never reshuffles the user-facing list.
func Resolve(snap devices.Snapshot, order []string, hidden map[string]struct{}) View {
	var view View
	ranks := make(map[string]int, len(order))
	for i, uid := range order {
		if _, ok := ranks[uid]; !ok {
			ranks[uid] = i
		}
	}

	for _, d := range snap {
		if _, ok := hidden[d.UID]; ok {
			view.Hidden = append(view.Hidden, d)
		} else {
			view.Visible = append(view.Visible, d)
		}
	}

	sort.SliceStable(view.Visible, func(i, j int) bool {
		return rankOf(ranks, view.Visible[i].UID) < rankOf(ranks, view.Visible[j].UID)
	})

	return view
}

func rankOf(ranks map[string]int, uid string) int {
	if r, ok := ranks[uid]; ok {
		return r
	}
	return Unranked
}

// HighestPriority returns the device auto-switch should select: the first
// visible device. The second return is false when no visible device is
// connected, which is a valid state, not an error.
func HighestPriority(v View) (devices.Device, bool) {
	if len(v.Visible) == 0 {
		return devices.Device{}, false
	}
	return v.Visible[0], true
}
