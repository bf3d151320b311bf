//go:build darwin && cgo

package malgodev

/*
#cgo LDFLAGS: -framework CoreAudio -framework CoreFoundation

#include <CoreAudio/CoreAudio.h>
#include <stdlib.h>

static AudioObjectPropertyAddress apAddr(AudioObjectPropertySelector sel, AudioObjectPropertyScope scope) {
	AudioObjectPropertyAddress addr = { sel, scope, kAudioObjectPropertyElementMain };
	return addr;
}

static UInt32 apDefaultDevice(int input) {
	AudioObjectID dev = kAudioObjectUnknown;
	UInt32 size = sizeof(dev);
	AudioObjectPropertyAddress addr = apAddr(
		input ? kAudioHardwarePropertyDefaultInputDevice : kAudioHardwarePropertyDefaultOutputDevice,
		kAudioObjectPropertyScopeGlobal);
	if (AudioObjectGetPropertyData(kAudioObjectSystemObject, &addr, 0, NULL, &size, &dev) != noErr) {
		return kAudioObjectUnknown;
	}
	return dev;
}

static int apSetDefaultDevice(int input, UInt32 dev) {
	AudioObjectID id = dev;
	AudioObjectPropertyAddress addr = apAddr(
		input ? kAudioHardwarePropertyDefaultInputDevice : kAudioHardwarePropertyDefaultOutputDevice,
		kAudioObjectPropertyScopeGlobal);
	return AudioObjectSetPropertyData(kAudioObjectSystemObject, &addr, 0, NULL, sizeof(id), &id) == noErr;
}

static UInt32 apDeviceForUID(const char *uid) {
	CFStringRef cf = CFStringCreateWithCString(NULL, uid, kCFStringEncodingUTF8);
	if (cf == NULL) {
		return kAudioObjectUnknown;
	}
	AudioObjectID dev = kAudioObjectUnknown;
	AudioValueTranslation tr = { &cf, sizeof(cf), &dev, sizeof(dev) };
	UInt32 size = sizeof(tr);
	AudioObjectPropertyAddress addr = apAddr(kAudioHardwarePropertyDeviceForUID, kAudioObjectPropertyScopeGlobal);
	OSStatus st = AudioObjectGetPropertyData(kAudioObjectSystemObject, &addr, 0, NULL, &size, &tr);
	CFRelease(cf);
	if (st != noErr) {
		return kAudioObjectUnknown;
	}
	return dev;
}

static int apHasVolume(UInt32 dev, int input) {
	AudioObjectPropertyAddress addr = apAddr(kAudioDevicePropertyVolumeScalar,
		input ? kAudioDevicePropertyScopeInput : kAudioDevicePropertyScopeOutput);
	return AudioObjectHasProperty(dev, &addr);
}

static int apGetVolume(UInt32 dev, int input, Float32 *out) {
	UInt32 size = sizeof(Float32);
	AudioObjectPropertyAddress addr = apAddr(kAudioDevicePropertyVolumeScalar,
		input ? kAudioDevicePropertyScopeInput : kAudioDevicePropertyScopeOutput);
	return AudioObjectGetPropertyData(dev, &addr, 0, NULL, &size, out) == noErr;
}

static int apSetVolume(UInt32 dev, int input, Float32 vol) {
	AudioObjectPropertyAddress addr = apAddr(kAudioDevicePropertyVolumeScalar,
		input ? kAudioDevicePropertyScopeInput : kAudioDevicePropertyScopeOutput);
	return AudioObjectSetPropertyData(dev, &addr, 0, NULL, sizeof(vol), &vol) == noErr;
}

static int apGetMuted(UInt32 dev, int input, UInt32 *muted) {
	UInt32 size = sizeof(UInt32);
	AudioObjectPropertyAddress addr = apAddr(kAudioDevicePropertyMute,
		input ? kAudioDevicePropertyScopeInput : kAudioDevicePropertyScopeOutput);
	return AudioObjectGetPropertyData(dev, &addr, 0, NULL, &size, muted) == noErr;
}

static int apSetMuted(UInt32 dev, int input, UInt32 muted) {
	AudioObjectPropertyAddress addr = apAddr(kAudioDevicePropertyMute,
		input ? kAudioDevicePropertyScopeInput : kAudioDevicePropertyScopeOutput);
	return AudioObjectSetPropertyData(dev, &addr, 0, NULL, sizeof(muted), &muted) == noErr;
}
*/
import "C"

import (
	"strconv"
	"unsafe"

	"github.com/mateusbadalotti/audio-priority/devices"
)

func isInput(class devices.Class) C.int {
	if class == devices.Input {
		return 1
	}
	return 0
}

// liveID formats a CoreAudio object id as the opaque live handle the registry
// hands out. Object ids are reassigned on every connect, matching the
// ephemeral-handle contract.
func liveID(dev uint32) devices.DeviceID {
	return devices.DeviceID(strconv.FormatUint(uint64(dev), 10))
}

func parseLiveID(id devices.DeviceID) (uint32, bool) {
	n, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint32(n), true
}

// defaultDevice returns the CoreAudio object id of the class's default device,
// or false when the host reports none.
func defaultDevice(class devices.Class) (uint32, bool) {
	dev := uint32(C.apDefaultDevice(isInput(class)))
	return dev, dev != 0
}

func setDefaultDevice(class devices.Class, dev uint32) bool {
	return C.apSetDefaultDevice(isInput(class), C.UInt32(dev)) != 0
}

// deviceForUID translates a stable device uid to its current object id.
func deviceForUID(uid string) (uint32, bool) {
	cuid := C.CString(uid)
	defer C.free(unsafe.Pointer(cuid))
	dev := uint32(C.apDeviceForUID(cuid))
	return dev, dev != 0
}

// volumeOf reads the device's volume scalar and mute flag. Devices without a
// volume control report Available == false.
func volumeOf(dev uint32, class devices.Class) devices.VolumeState {
	input := isInput(class)
	if C.apHasVolume(C.UInt32(dev), input) == 0 {
		return devices.VolumeState{Available: false}
	}

	var level C.Float32
	if C.apGetVolume(C.UInt32(dev), input, &level) == 0 {
		return devices.VolumeState{Available: false}
	}

	state := devices.VolumeState{Level: float64(level), Available: true}
	var muted C.UInt32
	if C.apGetMuted(C.UInt32(dev), input, &muted) != 0 {
		state.Muted = muted != 0
	}
	return state
}

func setVolumeOf(dev uint32, class devices.Class, level float64) bool {
	return C.apSetVolume(C.UInt32(dev), isInput(class), C.Float32(level)) != 0
}

func setMutedOf(dev uint32, class devices.Class, muted bool) bool {
	var flag C.UInt32
	if muted {
		flag = 1
	}
	return C.apSetMuted(C.UInt32(dev), isInput(class), flag) != 0
}
