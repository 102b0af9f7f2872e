package utils

import (
	"net"
	"strconv"
	"strings"

	"github.com/driftlabs/driftfs/pkg/logger"
)

func DetectedHostAddress() string {
	netInterfaces, err := net.Interfaces()
	if err != nil {
		logger.Info().Msgf("failed to detect net interfaces: %v", err)
		return ""
	}

	if v4Address := selectIP(netInterfaces, true); v4Address != "" {
		return v4Address
	}

	if v6Address := selectIP(netInterfaces, false); v6Address != "" {
		return v6Address
	}

	return "localhost"
}

func selectIP(netInterfaces []net.Interface, isIPv4 bool) string {
	for _, netInterface := range netInterfaces {
		if (netInterface.Flags & net.FlagUp) == 0 {
			continue
		}
		addrs, err := netInterface.Addrs()
		if err != nil {
			logger.Info().Msgf("get interface addresses: %v", err)
		}

		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if isIPv4 {
				if ipNet.IP.To4() != nil {
					return ipNet.IP.String()
				}
			} else if ipNet.IP.To4() == nil && ipNet.IP.To16() != nil {
				// Link-local IPv6 needs zone identifiers, not usable for binding
				if !ipNet.IP.IsLinkLocalUnicast() {
					return ipNet.IP.String()
				}
			}
		}
	}
	return ""
}

func JoinHostPort(host string, port int) string {
	portStr := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + portStr
	}
	return net.JoinHostPort(host, portStr)
}
