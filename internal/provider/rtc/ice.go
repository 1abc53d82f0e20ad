package rtc

import (
	"net"
	"strings"

	"github.com/BioHazard786/devicehub/internal/config"
	"github.com/pion/webrtc/v4"
)

var cgnat = mustCIDR("100.64.0.0/10")

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// iceConfiguration builds the ICE server list and transport policy.
func iceConfiguration(cfg *config.Config) webrtc.Configuration {
	servers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turn := cfg.GetTURNServers()
	if turn != nil {
		user, pass := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{URLs: turn, Username: user, Credential: pass})
	}

	policy := webrtc.ICETransportPolicyAll
	if turn != nil && (cfg.ForceRelay || restrictiveNetwork(localInterfaces())) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{ICEServers: servers, ICETransportPolicy: policy}
}

type netInterface struct {
	name  string
	up    bool
	loop  bool
	addrs []net.IP
}

func localInterfaces() []netInterface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]netInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		ni := netInterface{
			name: iface.Name,
			up:   iface.Flags&net.FlagUp != 0,
			loop: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			switch v := a.(type) {
			case *net.IPNet:
				ni.addrs = append(ni.addrs, v.IP)
			case *net.IPAddr:
				ni.addrs = append(ni.addrs, v.IP)
			}
		}
		out = append(out, ni)
	}
	return out
}

// restrictiveNetwork reports whether a VPN tunnel or carrier-grade NAT is
// active. Direct paths rarely work there, so a configured TURN server is
// used exclusively.
func restrictiveNetwork(ifaces []netInterface) bool {
	for _, iface := range ifaces {
		if !iface.up || iface.loop {
			continue
		}

		name := strings.ToLower(iface.name)
		for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
			if strings.Contains(name, marker) {
				return true
			}
		}

		for _, ip := range iface.addrs {
			if cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}
