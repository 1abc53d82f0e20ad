package protocol

import (
	"os"
	"runtime"
	"strings"

	"github.com/BioHazard786/devicehub/internal/version"
)

// DeviceInfo is the type and icon a device presents on the canvas.
type DeviceInfo struct {
	Type string `msgpack:"type"`
	Icon string `msgpack:"icon"`
}

// DetectDevice describes the machine this process runs on.
func DetectDevice() DeviceInfo {
	return deviceFor(runtime.GOOS)
}

func deviceFor(goos string) DeviceInfo {
	switch goos {
	case "darwin":
		return DeviceInfo{Type: "Mac", Icon: "fa-desktop"}
	case "windows":
		return DeviceInfo{Type: "Windows", Icon: "fa-desktop"}
	case "linux":
		return DeviceInfo{Type: "Linux", Icon: "fa-desktop"}
	case "android":
		return DeviceInfo{Type: "Android", Icon: "fa-mobile-alt"}
	case "ios":
		return DeviceInfo{Type: "iPhone", Icon: "fa-mobile-alt"}
	default:
		return DeviceInfo{Type: "Device", Icon: "fa-desktop"}
	}
}

// LocalPeerInfo builds this device's peer-info. An empty label falls back
// to the hostname and then to the device type.
func LocalPeerInfo(label, room string) PeerInfo {
	dev := DetectDevice()
	if label == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			label = strings.SplitN(h, ".", 2)[0]
		} else {
			label = dev.Type
		}
	}
	return PeerInfo{
		Label:   label,
		Icon:    dev.Icon,
		Room:    room,
		Version: strings.TrimPrefix(version.Version, "v"),
	}
}
