package enrichment

import (
	"fmt"
	"net"
	"os"
)

// ResolveLocalAddress returns an address of the machine the process runs on.
// The host name is resolved first, preferring IPv4; when that fails the first
// non-loopback interface address is used.
func ResolveLocalAddress() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	if ips, err := net.LookupIP(host); err == nil && len(ips) > 0 {
		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				return v4.String(), nil
			}
		}
		return ips[0].String(), nil
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("failed to list interface addresses: %w", err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}

	return "", fmt.Errorf("no address found for host %q", host)
}
