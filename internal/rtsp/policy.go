package rtsp

import (
	"net"
	"strings"
)

// ViewerClassifier decides which viewers count against the web limit.
type ViewerClassifier interface {
	IsWeb(host string) bool
}

// Classifier splits viewers into local ones and web ones. Local viewers come
// from loopback or from the LAN, excluding this host's own address.
type Classifier struct {
	LocalIP net.IP
	LAN     *net.IPNet
}

// IsWeb reports whether host counts against the web viewer limit.
func (c Classifier) IsWeb(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}
	if ip.IsLoopback() {
		return false
	}
	if c.LAN != nil && c.LAN.Contains(ip) && !ip.Equal(c.LocalIP) {
		return false
	}
	return true
}
