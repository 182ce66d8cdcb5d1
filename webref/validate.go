// Package webref turns reference web pages into markdown context for the
// planner. Fetching is hardened against SSRF: URLs are validated up front
// and resolved addresses are re-checked at dial time.
package webref

import (
	"fmt"
	"net"
	"net/url"
)

// IsPrivateIP reports whether an IP must not be fetched from: loopback,
// RFC1918/ULA private ranges, link-local, and unspecified addresses.
func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// ValidateURL checks that a URL is a fetchable public http(s) address.
// Literal IP hosts are checked here; hostnames are checked again after DNS
// resolution at dial time to close the rebinding window.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (must be http or https)", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url has no host")
	}

	if ip := net.ParseIP(u.Hostname()); ip != nil && IsPrivateIP(ip) {
		return fmt.Errorf("fetching from private address %s is not allowed", ip)
	}

	return nil
}
